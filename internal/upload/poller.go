package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is the fixed period between transcode status queries.
const DefaultPollInterval = 60 * time.Second

// Processing status values reported by the remote host. Any value other than
// these is treated as a terminal failure.
const (
	StatusUploaded  = "uploaded"  // still transcoding
	StatusProcessed = "processed" // transcoded, playable
)

// Update carries one poll result: either a status string or a query-level
// error. Query errors do not end polling.
type Update struct {
	Status string
	Err    error
}

// Terminal reports whether the update ends polling.
func (u Update) Terminal() bool {
	return u.Err == nil && u.Status != StatusUploaded
}

// StatusPoller repeatedly queries a video's processing status on a fixed
// interval until a terminal state. Query failures are logged, reported to the
// observer, and retried on the same period without backoff growth.
type StatusPoller struct {
	client   *http.Client
	endpoint string
	token    string
	interval time.Duration
}

// Poll queries videoID's processing status until a terminal status or ctx
// cancellation. onUpdate receives every poll result, including query errors.
func (p *StatusPoller) Poll(ctx context.Context, videoID string, onUpdate func(Update)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := p.query(ctx, videoID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("video_id", videoID).Msg("status query failed, will retry")
			if onUpdate != nil {
				onUpdate(Update{Err: err})
			}
			continue
		}

		update := Update{Status: status}
		if onUpdate != nil {
			onUpdate(update)
		}
		if update.Terminal() {
			log.Info().Str("video_id", videoID).Str("status", status).Msg("transcode polling finished")
			return
		}
	}
}

func (p *StatusPoller) query(ctx context.Context, videoID string) (string, error) {
	endpoint, err := url.Parse(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid status endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("part", "status")
	query.Set("id", videoID)
	endpoint.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("status query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status query returned %s", resp.Status)
	}

	var payload struct {
		Items []struct {
			Status struct {
				UploadStatus string `json:"uploadStatus"`
			} `json:"status"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode status response: %w", err)
	}
	if len(payload.Items) == 0 {
		return "", fmt.Errorf("video %s not found in status response", videoID)
	}

	return payload.Items[0].Status.UploadStatus, nil
}
