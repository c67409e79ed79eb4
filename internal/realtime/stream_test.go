package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-consult/internal/logging"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestStreamWritesFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Stream(w, r, func(ctx context.Context) (<-chan any, error) {
			ch := make(chan any, 2)
			ch <- map[string]string{"status": "waiting"}
			ch <- map[string]string{"status": "active"}
			close(ch)
			return ch, nil
		}, logging.Nop())
	}))
	defer srv.Close()

	conn := dial(t, srv)

	var frame map[string]string
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "waiting", frame["status"])
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "active", frame["status"])
}

func TestStreamReportsOpenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Stream(w, r, func(context.Context) (<-chan any, error) {
			return nil, errors.New("call not found")
		}, logging.Nop())
	}))
	defer srv.Close()

	conn := dial(t, srv)

	var frame ErrorFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "call not found", frame.Error)
}
