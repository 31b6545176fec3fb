package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/skyrelay/internal/pkg/metrics"
	"github.com/autopeer-io/skyrelay/pkg/options"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestRouter(t *testing.T) {
	var ready atomic.Bool
	h := NewRouter(ready.Load)

	code, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	ready.Store(true)
	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	metrics.OutboundQueueDepth.Set(3)
	code, body = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "skyrelay_outbound_queue_depth 3")
}

func TestHTTPServerShutsDownWithContext(t *testing.T) {
	s := NewHTTPServer(options.NewHttpOptions("127.0.0.1:0"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestManagerStopsAllOnError(t *testing.T) {
	boom := errors.New("boom")
	var stopped atomic.Bool

	m := NewManager(
		RunFunc(func(ctx context.Context) error {
			<-ctx.Done()
			stopped.Store(true)
			return nil
		}),
		nil,
		RunFunc(func(context.Context) error { return boom }),
	)

	assert.ErrorIs(t, m.Start(context.Background()), boom)
	assert.True(t, stopped.Load())
}
