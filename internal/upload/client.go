// Package upload implements a resumable upload client for YouTube-style
// video hosts: session initiation, chunked content transfer with
// interruption recovery, and polling of server-side transcoding status.
package upload

import (
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client issues resumable uploads and status queries against a video host.
// A Client is safe for concurrent use; per-upload state lives in Session.
type Client struct {
	httpClient   *http.Client
	initiateURL  string
	statusURL    string
	chunkSize    int64
	pollInterval time.Duration
	backoffMin   time.Duration
	backoffMax   time.Duration
}

// ClientConfig configures a Client. Zero values fall back to defaults.
type ClientConfig struct {
	// HTTPClient is used for every request. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// InitiateURL is the session-creation endpoint.
	InitiateURL string
	// StatusURL is the processing-status endpoint.
	StatusURL string
	// ChunkSize is the per-request transfer size in bytes. 0 sends the whole
	// file in one request.
	ChunkSize int64
	// PollInterval is the fixed period between transcode status queries.
	PollInterval time.Duration
	// BackoffMin and BackoffMax bound the retry delay after transient
	// transfer failures.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// NewClient creates a client for the configured video host.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Client{
		httpClient:   httpClient,
		initiateURL:  cfg.InitiateURL,
		statusURL:    cfg.StatusURL,
		chunkSize:    cfg.ChunkSize,
		pollInterval: pollInterval,
		backoffMin:   cfg.BackoffMin,
		backoffMax:   cfg.BackoffMax,
	}
}

// Request describes one file to upload. It must not change once a session
// has started.
type Request struct {
	// Content provides the file bytes. ReaderAt so interrupted transfers can
	// re-read from the server-reported offset.
	Content io.ReaderAt
	// ContentType is the MIME type of the file.
	ContentType string
	// Size is the total file size in bytes.
	Size int64
	// Metadata is the JSON-serializable metadata object sent at initiation.
	Metadata interface{}
	// ReplaceID, when set, replaces an existing video instead of creating
	// a new one.
	ReplaceID string
	// Params are extra query parameters for the initiation request.
	Params url.Values
}

// Callbacks surface session lifecycle events to the caller. Nil functions
// are skipped.
type Callbacks struct {
	// OnProgress receives cumulative bytes transferred and the total size,
	// incrementally while a chunk is being written.
	OnProgress func(sent, total int64)
	// OnComplete receives the raw response body of the final transfer.
	OnComplete func(body []byte)
	// OnError receives the error body of a permanent failure. Called at most
	// once; no further transfers follow.
	OnError func(message string)
}

// NewSession creates a session that uploads req with the given bearer token.
func (c *Client) NewSession(token string, req *Request, callbacks Callbacks) *Session {
	return &Session{
		client:    c.httpClient,
		endpoint:  c.initiateURL,
		token:     token,
		chunkSize: c.chunkSize,
		scheduler: NewScheduler(NewBackoff(c.backoffMin, c.backoffMax)),
		req:       req,
		total:     req.Size,
		state:     StateInitiating,
		callbacks: callbacks,
	}
}

// NewStatusPoller creates a poller for transcode status queries with the
// given bearer token.
func (c *Client) NewStatusPoller(token string) *StatusPoller {
	return &StatusPoller{
		client:   c.httpClient,
		endpoint: c.statusURL,
		token:    token,
		interval: c.pollInterval,
	}
}
