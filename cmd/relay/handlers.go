package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/castrelay/castrelay/internal/embed"
	"github.com/castrelay/castrelay/internal/relay"
	"github.com/castrelay/castrelay/pkg/types"
)

// handleSubmitVideo accepts a multipart upload and starts relaying it to the
// remote video host. The caller's token for the host is passed in the
// X-Host-Token header and is never stored.
func handleSubmitVideo(relayService *relay.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*types.User)

		hostToken := c.GetHeader("X-Host-Token")
		if hostToken == "" {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Missing X-Host-Token header",
			})
			return
		}

		file, header, err := c.Request.FormFile("video")
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Missing video file",
			})
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		waitForProcessing, _ := strconv.ParseBool(c.PostForm("wait_for_processing"))

		job, err := relayService.Submit(c.Request.Context(), user.ID, &relay.Submission{
			Title:             c.PostForm("title"),
			Description:       c.PostForm("description"),
			Tags:              c.PostForm("tags"),
			ContentType:       contentType,
			ReplaceID:         c.PostForm("replace_id"),
			HostToken:         hostToken,
			Content:           file,
			WaitForProcessing: waitForProcessing,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusAccepted, types.APIResponse{
			Success: true,
			Message: "Upload job accepted",
			Data:    job,
		})
	}
}

func handleGetVideo(relayService *relay.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*types.User)

		jobID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid job ID",
			})
			return
		}

		job, err := relayService.Get(c.Request.Context(), jobID, user.ID)
		if err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    job,
		})
	}
}

func handleListVideos(relayService *relay.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*types.User)

		jobs, err := relayService.List(c.Request.Context(), user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    jobs,
		})
	}
}

func handleCancelVideo(relayService *relay.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*types.User)

		jobID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid job ID",
			})
			return
		}

		if err := relayService.Cancel(c.Request.Context(), jobID, user.ID); err != nil {
			c.JSON(http.StatusConflict, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "Upload job cancelled",
		})
	}
}

// handleClassifyEmbed resolves a media page URL to an embeddable reference
func handleClassifyEmbed() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawURL := c.Query("url")
		if rawURL == "" {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Missing url parameter",
			})
			return
		}

		ref, ok := embed.Classify(rawURL)
		if !ok {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   "No embeddable media recognized",
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    ref,
		})
	}
}
