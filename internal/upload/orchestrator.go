package upload

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// Metadata holds the caller-supplied description of a video.
type Metadata struct {
	Title       string
	Description string
	// Tags is a free-text comma-separated list, split before upload.
	Tags string
	// CategoryID is the fixed category assigned to the video.
	CategoryID string
}

// Remote host JSON shapes.
type videoSnippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	CategoryID  string   `json:"categoryId,omitempty"`
}

type videoStatus struct {
	PrivacyStatus string `json:"privacyStatus"`
}

type videoResource struct {
	ID      string        `json:"id,omitempty"`
	Snippet *videoSnippet `json:"snippet,omitempty"`
	Status  *videoStatus  `json:"status,omitempty"`
}

// Events are the orchestrator's caller-visible notifications. Nil functions
// are skipped.
type Events struct {
	OnProgress func(sent, total int64)
	// OnComplete receives the created video's id once the transfer finishes.
	OnComplete func(videoID string)
	OnError    func(message string)
	// OnStatus receives every transcode poll result when polling is enabled.
	OnStatus func(Update)
}

// OrchestratorConfig describes one upload end to end.
type OrchestratorConfig struct {
	Token       string
	Content     io.ReaderAt
	Size        int64
	ContentType string
	Meta        Metadata
	// ReplaceID, when set, replaces an existing video.
	ReplaceID string
	// WaitForProcessing starts transcode polling after a successful upload.
	WaitForProcessing bool
	Events            Events
}

// Orchestrator owns one upload session and, after a successful upload, one
// transcode status poller.
type Orchestrator struct {
	client *Client
	cfg    OrchestratorConfig

	videoID string
}

// NewOrchestrator creates an orchestrator bound to this client's endpoints.
func (c *Client) NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{client: c, cfg: cfg}
}

// VideoID returns the created video's id, empty until the upload completes.
func (o *Orchestrator) VideoID() string {
	return o.videoID
}

// Run uploads the video and, when configured, polls transcoding until a
// terminal status. The returned error is non-nil only on cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	req := &Request{
		Content:     o.cfg.Content,
		ContentType: o.cfg.ContentType,
		Size:        o.cfg.Size,
		Metadata:    o.buildMetadata(),
		ReplaceID:   o.cfg.ReplaceID,
	}

	session := o.client.NewSession(o.cfg.Token, req, Callbacks{
		OnProgress: o.cfg.Events.OnProgress,
		OnComplete: o.handleComplete,
		OnError:    o.cfg.Events.OnError,
	})
	if err := session.Run(ctx); err != nil {
		return err
	}

	if o.videoID != "" && o.cfg.WaitForProcessing {
		o.client.NewStatusPoller(o.cfg.Token).Poll(ctx, o.videoID, o.cfg.Events.OnStatus)
	}
	return ctx.Err()
}

func (o *Orchestrator) handleComplete(body []byte) {
	var resource videoResource
	if err := json.Unmarshal(body, &resource); err != nil {
		log.Warn().Err(err).Msg("upload completed but response body did not parse")
	} else if resource.ID == "" {
		log.Warn().Msg("upload completed but response carried no video id")
	}

	o.videoID = resource.ID
	if o.cfg.Events.OnComplete != nil {
		o.cfg.Events.OnComplete(resource.ID)
	}
}

func (o *Orchestrator) buildMetadata() *videoResource {
	return &videoResource{
		Snippet: &videoSnippet{
			Title:       o.cfg.Meta.Title,
			Description: o.cfg.Meta.Description,
			Tags:        splitTags(o.cfg.Meta.Tags),
			CategoryID:  o.cfg.Meta.CategoryID,
		},
		// every relayed video is published publicly
		Status: &videoStatus{PrivacyStatus: "public"},
	}
}

// splitTags splits a comma-separated tag list, dropping blanks.
func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
