package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/sugar/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectScript(t *testing.T) {
	script := "<script>x</script>"

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "before closing body",
			doc:  "<html><body><p>hi</p></body></html>",
			want: "<html><body><p>hi</p><script>x</script></body></html>",
		},
		{
			name: "uppercase body tag",
			doc:  "<HTML><BODY>hi</BODY></HTML>",
			want: "<HTML><BODY>hi<script>x</script></BODY></HTML>",
		},
		{
			name: "last body tag wins",
			doc:  "<body><pre>&lt;/body&gt;</pre></body>",
			want: "<body><pre>&lt;/body&gt;</pre><script>x</script></body>",
		},
		{
			name: "body tag inside a script is text",
			doc:  "<body><script>var s = \"</body>\";</script>",
			want: "<body><script>var s = \"</body>\";</script><script>x</script>",
		},
		{
			name: "fragment",
			doc:  "<p>hi</p>",
			want: "<p>hi</p><script>x</script>",
		},
		{
			name: "empty",
			doc:  "",
			want: "<script>x</script>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := injectScript([]byte(tt.doc), []byte(script))
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestInjectReload(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantScript  bool
	}{
		{"html body", "text/html; charset=utf-8", "<body></body>", true},
		{"css body", "text/css", "body{}", false},
		{"no body", "text/html", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := view.Buffer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				if tt.body != "" {
					_, _ = w.Write([]byte(tt.body))
				}
				InjectReload(view.End).ServeHTTP(w, r)
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantScript, strings.Contains(rec.Body.String(), ReloadPath))
		})
	}
}

func startHub(t *testing.T, allowedOrigins []string) (*ReloadHub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewReloadHub(allowedOrigins, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return hub, srv, cancel
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReloadHubBroadcast(t *testing.T) {
	hub, srv, _ := startHub(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(UpdateMessage{Type: "reload", Paths: []string{"src/index.html"}, Timestamp: time.Now()})

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "reload", msg.Type)
	assert.Equal(t, []string{"src/index.html"}, msg.Paths)
}

func TestReloadHubUnregister(t *testing.T) {
	hub, srv, _ := startHub(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestReloadHubShutdown(t *testing.T) {
	hub, srv, stop := startHub(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	stop()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	// connections after shutdown are turned away
	late, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err == nil {
		_, _, err = late.Read(ctx)
		assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
		late.CloseNow()
	}
}

func TestReloadHubOrigins(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		wantErr bool
	}{
		{"no origin header", "", nil, false},
		{"allowed origin", "http://localhost:5173", []string{"http://localhost:5173"}, false},
		{"foreign origin", "http://evil.example", []string{"http://localhost:5173"}, true},
		{"foreign origin without allow list", "http://evil.example", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv, _ := startHub(t, tt.allowed)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
			if tt.origin != "" {
				opts.HTTPHeader.Set("Origin", tt.origin)
			}
			conn, _, err := websocket.Dial(ctx, wsURL(srv), opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			conn.CloseNow()
		})
	}
}

func TestBroadcastDoesNotBlock(t *testing.T) {
	hub := NewReloadHub(nil, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Broadcast(UpdateMessage{Type: "reload"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
}
