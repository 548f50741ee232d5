package livereload

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockResponseWriter struct {
	*httptest.ResponseRecorder
	flushed int
}

func (m *mockResponseWriter) Flush() {
	m.flushed++
}

type noFlushWriter struct{}

func (n *noFlushWriter) Header() http.Header       { return http.Header{} }
func (n *noFlushWriter) Write([]byte) (int, error) { return 0, nil }
func (n *noFlushWriter) WriteHeader(int)           {}

func TestNewSSEWriter_NoFlusher(t *testing.T) {
	_, err := newSSEWriter(&noFlushWriter{})
	assert.Error(t, err)
}

func TestSSEWriter_WriteData(t *testing.T) {
	w := &mockResponseWriter{ResponseRecorder: httptest.NewRecorder()}
	sse, err := newSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, sse.writeData(RefreshMessage))
	require.NoError(t, sse.writeHeartbeat())

	assert.Equal(t, "data: refresh\n\n: heartbeat\n\n", w.Body.String())
	assert.GreaterOrEqual(t, w.flushed, 3)
}

// readLines streams non-empty lines from an SSE body.
func readLines(body *bufio.Reader) <-chan string {
	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		for {
			line, err := body.ReadString('\n')
			if err != nil {
				return
			}
			if line = strings.TrimRight(line, "\n"); line != "" {
				lines <- line
			}
		}
	}()
	return lines
}

func expectLine(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed before %q", want)
			}
			if line == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestServeSSE(t *testing.T) {
	b := newTestBroadcaster(t)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeSSE))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	lines := readLines(bufio.NewReader(resp.Body))
	b.Broadcast(RefreshMessage)
	expectLine(t, lines, "data: refresh")

	cancel()
	assert.Eventually(t, func() bool { return b.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeSSEHeartbeat(t *testing.T) {
	b := newTestBroadcaster(t, WithHeartbeat(20*time.Millisecond))
	srv := httptest.NewServer(http.HandlerFunc(b.ServeSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	expectLine(t, readLines(bufio.NewReader(resp.Body)), ": heartbeat")
}

func TestServeSSEEndsOnShutdown(t *testing.T) {
	b := newTestBroadcaster(t)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return b.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Run(ctx))

	lines := readLines(bufio.NewReader(resp.Body))
	select {
	case _, ok := <-lines:
		assert.False(t, ok, "stream should end without further events")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
}
