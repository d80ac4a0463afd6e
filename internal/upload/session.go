package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// State is a session lifecycle state.
type State string

const (
	StateInitiating   State = "initiating"
	StateTransferring State = "transferring"
	StateResuming     State = "resuming"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Session drives one file through the host's resumable upload protocol:
// initiate, transfer content, recover from transient failures via scheduled
// status probes, resume from the server-reported offset. At most one request
// is in flight at any time.
type Session struct {
	client    *http.Client
	endpoint  string
	token     string
	chunkSize int64
	scheduler *Scheduler
	req       *Request
	callbacks Callbacks

	state      State
	sessionURL string
	offset     int64
	total      int64
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Offset returns the next byte to transfer. Monotonically non-decreasing and
// never greater than the total size.
func (s *Session) Offset() int64 {
	return s.offset
}

// Run drives the session to a terminal state. Protocol outcomes (completion,
// permanent failure) are delivered through the callbacks; the returned error
// is non-nil only when ctx is cancelled before a terminal state is reached.
func (s *Session) Run(ctx context.Context) error {
	s.initiate(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch s.state {
		case StateTransferring:
			resp, err := s.sendChunk(ctx)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			s.handleTransferResponse(resp, err)

		case StateResuming:
			err := s.scheduler.Schedule(ctx, func() {
				resp, probeErr := s.probe(ctx)
				s.handleTransferResponse(resp, probeErr)
			})
			if err != nil {
				return err
			}

		case StateCompleted, StateFailed:
			return nil

		default:
			// initiation failed without reaching Transferring
			return nil
		}
	}
}

// initiate declares the upload's size and content type to the
// session-creation endpoint and captures the server-issued session URL.
// Failures here are permanent: the request is not retried.
func (s *Session) initiate(ctx context.Context) {
	endpoint, err := url.Parse(s.endpoint)
	if err != nil {
		s.fail(fmt.Sprintf("invalid initiate endpoint: %v", err))
		return
	}

	query := endpoint.Query()
	query.Set("uploadType", "resumable")
	for key, values := range s.req.Params {
		for _, value := range values {
			query.Add(key, value)
		}
	}

	method := http.MethodPost
	if s.req.ReplaceID != "" {
		method = http.MethodPut
		query.Set("id", s.req.ReplaceID)
	}
	endpoint.RawQuery = query.Encode()

	metadata, err := json.Marshal(s.req.Metadata)
	if err != nil {
		s.fail(fmt.Sprintf("failed to encode upload metadata: %v", err))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint.String(), strings.NewReader(string(metadata)))
	if err != nil {
		s.fail(err.Error())
		return
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Upload-Content-Length", strconv.FormatInt(s.total, 10))
	httpReq.Header.Set("X-Upload-Content-Type", s.req.ContentType)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.fail(fmt.Sprintf("failed to initiate upload: %v", err))
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		s.fail(string(body))
		return
	}

	location := resp.Header.Get("Location")
	if location == "" {
		s.fail("upload host did not return a session location")
		return
	}

	s.sessionURL = location
	s.state = StateTransferring

	log.Debug().
		Str("session_url", location).
		Int64("size", s.total).
		Msg("upload session initiated")
}

// sendChunk transfers the next byte range to the session URL. With a chunk
// size of 0 the entire remaining content is sent in one request.
func (s *Session) sendChunk(ctx context.Context) (*http.Response, error) {
	end := s.total
	if s.chunkSize > 0 {
		if chunkEnd := s.offset + s.chunkSize; chunkEnd < end {
			end = chunkEnd
		}
	}

	body := &progressReader{
		reader: io.NewSectionReader(s.req.Content, s.offset, end-s.offset),
		sent:   s.offset,
		total:  s.total,
		notify: s.callbacks.OnProgress,
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, s.sessionURL, body)
	if err != nil {
		return nil, err
	}
	httpReq.ContentLength = end - s.offset
	httpReq.Header.Set("Content-Type", s.req.ContentType)
	httpReq.Header.Set("X-Upload-Content-Type", s.req.ContentType)
	// For a zero-byte upload this degenerates to "bytes 0--1/0"; the single
	// empty chunk still goes through the normal response handling.
	httpReq.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", s.offset, end-1, s.total))

	return s.client.Do(httpReq)
}

// probe asks the server how many bytes it has received, so the offset can be
// recovered before resuming. The response is handled exactly like a transfer
// response.
func (s *Session) probe(ctx context.Context) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, s.sessionURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", s.total))

	return s.client.Do(httpReq)
}

// handleTransferResponse applies the protocol's response contract:
// 200/201 done, 308 continue from the server-reported offset, other 4xx
// permanent failure, 5xx or transport error transient.
func (s *Session) handleTransferResponse(resp *http.Response, err error) {
	if err != nil {
		log.Warn().Err(err).Msg("upload transfer failed, scheduling resume")
		s.state = StateResuming
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		s.state = StateCompleted
		if s.callbacks.OnComplete != nil {
			s.callbacks.OnComplete(body)
		}

	case resp.StatusCode == http.StatusPermanentRedirect:
		// 308: the server reports how much it has received. When the header
		// is missing or malformed the offset is left unchanged; an over-long
		// range is clamped so the offset never exceeds the total size.
		if upper, ok := parseRangeEnd(resp.Header.Get("Range")); ok {
			next := upper + 1
			if next > s.total {
				next = s.total
			}
			s.offset = next
		}
		s.scheduler.Reset()
		s.state = StateTransferring

	case resp.StatusCode < 500:
		// client errors are not transient
		s.state = StateFailed
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(string(body))
		}

	default:
		log.Warn().Int("status", resp.StatusCode).Msg("upload host error, scheduling resume")
		s.state = StateResuming
	}
}

func (s *Session) fail(message string) {
	s.state = StateFailed
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(message)
	}
}

// parseRangeEnd extracts the upper bound from a "bytes=0-12345" range header.
func parseRangeEnd(header string) (int64, bool) {
	header = strings.TrimSpace(header)
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, false
	}

	parts := strings.SplitN(strings.TrimPrefix(header, prefix), "-", 2)
	if len(parts) != 2 {
		return 0, false
	}

	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < 0 {
		return 0, false
	}
	return end, true
}

// progressReader reports cumulative transfer progress as the request body is
// consumed, so progress is observable during a chunk rather than only at its
// end.
type progressReader struct {
	reader io.Reader
	sent   int64
	total  int64
	notify func(sent, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.notify != nil {
			p.notify(p.sent, p.total)
		}
	}
	return n, err
}
