package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHost simulates the remote video host's resumable upload protocol.
type testHost struct {
	t *testing.T

	mux    *http.ServeMux
	server *httptest.Server

	initiations int
	transfers   []string // Content-Range of each content transfer
	probes      int
	received    bytes.Buffer

	// onTransfer decides the response for each non-probe transfer, in order.
	onTransfer func(n int, w http.ResponseWriter, r *http.Request)
	// onProbe decides the response for each status probe, in order.
	onProbe func(n int, w http.ResponseWriter, r *http.Request)
}

func newTestHost(t *testing.T) *testHost {
	h := &testHost{t: t, mux: http.NewServeMux()}

	h.mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		h.initiations++
		w.Header().Set("Location", h.server.URL+"/session")
		w.WriteHeader(http.StatusOK)
	})

	h.mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		contentRange := r.Header.Get("Content-Range")
		if strings.HasPrefix(contentRange, "bytes */") {
			h.probes++
			if h.onProbe == nil {
				t.Errorf("unexpected status probe: %s", contentRange)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			h.onProbe(h.probes, w, r)
			return
		}

		h.transfers = append(h.transfers, contentRange)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		h.received.Write(body)
		h.onTransfer(len(h.transfers), w, r)
	})

	h.server = httptest.NewServer(h.mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *testHost) client(chunkSize int64) *Client {
	return NewClient(ClientConfig{
		InitiateURL: h.server.URL + "/upload",
		StatusURL:   h.server.URL + "/status",
		ChunkSize:   chunkSize,
		BackoffMin:  time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	})
}

type capturedEvents struct {
	progress  [][2]int64
	completes []string
	errors    []string
}

func (c *capturedEvents) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(sent, total int64) { c.progress = append(c.progress, [2]int64{sent, total}) },
		OnComplete: func(body []byte) { c.completes = append(c.completes, string(body)) },
		OnError:    func(message string) { c.errors = append(c.errors, message) },
	}
}

func TestSessionSingleShot(t *testing.T) {
	content := bytes.Repeat([]byte("v"), 1000)

	host := newTestHost(t)
	host.onTransfer = func(n int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"vid123"}`)
	}

	events := &capturedEvents{}
	session := host.client(0).NewSession("tok", &Request{
		Content:     bytes.NewReader(content),
		ContentType: "video/mp4",
		Size:        1000,
		Metadata:    map[string]string{"kind": "test"},
	}, events.callbacks())

	require.NoError(t, session.Run(context.Background()))

	assert.Equal(t, StateCompleted, session.State())
	assert.Equal(t, 1, host.initiations)
	assert.Equal(t, []string{"bytes 0-999/1000"}, host.transfers)
	assert.Equal(t, content, host.received.Bytes())
	require.Len(t, events.completes, 1)
	assert.Equal(t, `{"id":"vid123"}`, events.completes[0])
	assert.Empty(t, events.errors)

	require.NotEmpty(t, events.progress)
	final := events.progress[len(events.progress)-1]
	assert.Equal(t, [2]int64{1000, 1000}, final)
}

func TestSessionChunkedTransferCoversAllBytes(t *testing.T) {
	content := []byte("0123456789")

	host := newTestHost(t)
	host.onTransfer = func(n int, w http.ResponseWriter, r *http.Request) {
		switch n {
		case 1:
			w.Header().Set("Range", "bytes=0-3")
			w.WriteHeader(http.StatusPermanentRedirect)
		case 2:
			w.Header().Set("Range", "bytes=0-7")
			w.WriteHeader(http.StatusPermanentRedirect)
		default:
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"id":"chunked"}`)
		}
	}

	events := &capturedEvents{}
	session := host.client(4).NewSession("tok", &Request{
		Content:     bytes.NewReader(content),
		ContentType: "video/mp4",
		Size:        10,
	}, events.callbacks())

	require.NoError(t, session.Run(context.Background()))

	// ranges cover [0, 10) in order with no gaps or overlaps
	assert.Equal(t, []string{"bytes 0-3/10", "bytes 4-7/10", "bytes 8-9/10"}, host.transfers)
	assert.Equal(t, content, host.received.Bytes())
	assert.Equal(t, StateCompleted, session.State())
	assert.Len(t, events.completes, 1)
}

func TestSessionMissingRangeHeaderKeepsOffset(t *testing.T) {
	host := newTestHost(t)
	host.onTransfer = func(n int, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			// 308 without a Range header: the client must not guess
			w.WriteHeader(http.StatusPermanentRedirect)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"id":"again"}`)
	}

	events := &capturedEvents{}
	session := host.client(4).NewSession("tok", &Request{
		Content:     strings.NewReader("0123456789"),
		ContentType: "video/mp4",
		Size:        10,
	}, events.callbacks())

	require.NoError(t, session.Run(context.Background()))

	require.Len(t, host.transfers, 2)
	assert.Equal(t, "bytes 0-3/10", host.transfers[0])
	assert.Equal(t, "bytes 0-3/10", host.transfers[1], "offset must stay unchanged")
}

func TestSessionClientErrorIsPermanent(t *testing.T) {
	host := newTestHost(t)
	host.onTransfer = func(n int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "malformed metadata")
	}

	events := &capturedEvents{}
	session := host.client(0).NewSession("tok", &Request{
		Content:     strings.NewReader("0123456789"),
		ContentType: "video/mp4",
		Size:        10,
	}, events.callbacks())

	require.NoError(t, session.Run(context.Background()))

	assert.Equal(t, StateFailed, session.State())
	assert.Len(t, host.transfers, 1, "client errors must not be retried")
	assert.Equal(t, []string{"malformed metadata"}, events.errors)
	assert.Empty(t, events.completes)
}

func TestSessionServerErrorProbesAndResumes(t *testing.T) {
	content := []byte("0123456789")

	host := newTestHost(t)
	host.onTransfer = func(n int, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"id":"resumed"}`)
	}
	host.onProbe = func(n int, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes */10", r.Header.Get("Content-Range"))
		w.Header().Set("Range", "bytes=0-4")
		w.WriteHeader(http.StatusPermanentRedirect)
	}

	events := &capturedEvents{}
	session := host.client(0).NewSession("tok", &Request{
		Content:     bytes.NewReader(content),
		ContentType: "video/mp4",
		Size:        10,
	}, events.callbacks())

	require.NoError(t, session.Run(context.Background()))

	assert.Equal(t, StateCompleted, session.State())
	assert.Equal(t, 1, host.probes)
	require.Len(t, host.transfers, 2)
	assert.Equal(t, "bytes 0-9/10", host.transfers[0])
	assert.Equal(t, "bytes 5-9/10", host.transfers[1], "resume must start at reported offset + 1")
	assert.Len(t, events.completes, 1)
}

func TestSessionZeroByteUpload(t *testing.T) {
	host := newTestHost(t)
	host.onTransfer = func(n int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"empty"}`)
	}

	events := &capturedEvents{}
	session := host.client(0).NewSession("tok", &Request{
		Content:     bytes.NewReader(nil),
		ContentType: "video/mp4",
		Size:        0,
	}, events.callbacks())

	require.NoError(t, session.Run(context.Background()))

	assert.Equal(t, StateCompleted, session.State())
	assert.Len(t, host.transfers, 1)
	assert.Len(t, events.completes, 1)
}

func TestSessionInitiateFailureNotRetried(t *testing.T) {
	mux := http.NewServeMux()
	initiations := 0
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		initiations++
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "quota exceeded")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(ClientConfig{
		InitiateURL: server.URL + "/upload",
		BackoffMin:  time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	})

	events := &capturedEvents{}
	session := client.NewSession("tok", &Request{
		Content:     strings.NewReader("data"),
		ContentType: "video/mp4",
		Size:        4,
	}, events.callbacks())

	require.NoError(t, session.Run(context.Background()))

	assert.Equal(t, StateFailed, session.State())
	assert.Equal(t, 1, initiations)
	assert.Equal(t, []string{"quota exceeded"}, events.errors)
}

func TestSessionInitiateHeaders(t *testing.T) {
	var captured *http.Request
	host := newTestHost(t)
	host.mux.HandleFunc("/capture", func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		w.Header().Set("Location", host.server.URL+"/session")
		w.WriteHeader(http.StatusOK)
	})
	host.onTransfer = func(n int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"id":"x"}`)
	}

	client := NewClient(ClientConfig{
		InitiateURL: host.server.URL + "/capture",
		BackoffMin:  time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	})

	session := client.NewSession("secret-token", &Request{
		Content:     strings.NewReader("data"),
		ContentType: "video/webm",
		Size:        4,
	}, Callbacks{})
	require.NoError(t, session.Run(context.Background()))

	require.NotNil(t, captured)
	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "Bearer secret-token", captured.Header.Get("Authorization"))
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	assert.Equal(t, "4", captured.Header.Get("X-Upload-Content-Length"))
	assert.Equal(t, "video/webm", captured.Header.Get("X-Upload-Content-Type"))
	assert.Equal(t, "resumable", captured.URL.Query().Get("uploadType"))
}

func TestSessionReplaceUsesPut(t *testing.T) {
	var method, id string
	host := newTestHost(t)
	host.mux.HandleFunc("/replace", func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		id = r.URL.Query().Get("id")
		w.Header().Set("Location", host.server.URL+"/session")
		w.WriteHeader(http.StatusOK)
	})
	host.onTransfer = func(n int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"id":"existing"}`)
	}

	client := NewClient(ClientConfig{
		InitiateURL: host.server.URL + "/replace",
		BackoffMin:  time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	})

	session := client.NewSession("tok", &Request{
		Content:     strings.NewReader("data"),
		ContentType: "video/mp4",
		Size:        4,
		ReplaceID:   "existing",
	}, Callbacks{})
	require.NoError(t, session.Run(context.Background()))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "existing", id)
}

func TestSessionCancellationStopsRetries(t *testing.T) {
	host := newTestHost(t)
	host.onTransfer = func(n int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	host.onProbe = func(n int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	session := host.client(0).NewSession("tok", &Request{
		Content:     strings.NewReader("0123456789"),
		ContentType: "video/mp4",
		Size:        10,
	}, Callbacks{})

	err := session.Run(ctx)
	assert.Error(t, err)
	assert.NotEqual(t, StateCompleted, session.State())
}

func TestParseRangeEnd(t *testing.T) {
	tests := []struct {
		header string
		end    int64
		ok     bool
	}{
		{"bytes=0-12345", 12345, true},
		{"bytes=0-0", 0, true},
		{"bytes=0-99x", 0, false}, // trailing garbage in the number
		{"bytes=0-99", 99, true},
		{"", 0, false},
		{"bytes=0-", 0, false},
		{"0-99", 0, false},
		{"bytes=-5", 0, false},
	}

	for _, tt := range tests {
		end, ok := parseRangeEnd(tt.header)
		assert.Equal(t, tt.ok, ok, "header %q", tt.header)
		if tt.ok {
			assert.Equal(t, tt.end, end, "header %q", tt.header)
		}
	}
}

func TestProgressReaderReportsIncrementally(t *testing.T) {
	var reports [][2]int64
	reader := &progressReader{
		reader: strings.NewReader("0123456789"),
		sent:   0,
		total:  10,
		notify: func(sent, total int64) { reports = append(reports, [2]int64{sent, total}) },
	}

	buf := make([]byte, 3)
	for {
		if _, err := reader.Read(buf); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
	}

	require.GreaterOrEqual(t, len(reports), 2, "progress must be observable before the chunk completes")
	var previous int64
	for _, report := range reports {
		assert.Greater(t, report[0], previous)
		assert.Equal(t, int64(10), report[1])
		previous = report[0]
	}
	assert.Equal(t, int64(10), reports[len(reports)-1][0])
}

func TestOverlongRangeClampsOffset(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 10)

	host := newTestHost(t)
	host.onTransfer = func(n int, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			// server claims more bytes than the upload holds
			w.Header().Set("Range", "bytes=0-9999")
			w.WriteHeader(http.StatusPermanentRedirect)
			return
		}
		w.WriteHeader(http.StatusOK)
	}

	events := &capturedEvents{}
	session := host.client(4).NewSession("tok", &Request{
		Content:     bytes.NewReader(content),
		ContentType: "video/mp4",
		Size:        10,
	}, events.callbacks())

	require.NoError(t, session.Run(context.Background()))

	assert.Equal(t, StateCompleted, session.State())
	assert.LessOrEqual(t, session.Offset(), int64(10))
	require.Len(t, host.transfers, 2)
	assert.Equal(t, "bytes 0-3/10", host.transfers[0])
}

func TestRangeResponseResetsRetryDelay(t *testing.T) {
	session := NewClient(ClientConfig{
		BackoffMin: time.Second,
		BackoffMax: time.Minute,
	}).NewSession("tok", &Request{
		Content: bytes.NewReader(make([]byte, 10)),
		Size:    10,
	}, Callbacks{})

	// grow the retry delay as consecutive transient failures would
	session.scheduler.backoff.Next()
	session.scheduler.backoff.Next()
	require.Greater(t, session.scheduler.backoff.interval, session.scheduler.backoff.min)

	resp := &http.Response{
		StatusCode: http.StatusPermanentRedirect,
		Header:     http.Header{"Range": []string{"bytes=0-4"}},
		Body:       io.NopCloser(strings.NewReader("")),
	}
	session.handleTransferResponse(resp, nil)

	assert.Equal(t, StateTransferring, session.state)
	assert.Equal(t, int64(5), session.Offset())
	assert.Equal(t, session.scheduler.backoff.min, session.scheduler.backoff.interval)
}
