package social

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderStream(t *testing.T) {
	input := `{"id":"1","author":"birdpersonborg","text":"going\nlong","created_at":"2024-01-02T03:04:05Z"}

not json
{"id":"2","author":"someoneelse","text":"hello","in_reply_to":"1"}
`
	s := NewReaderStream(strings.NewReader(input))
	ctx := context.Background()

	p, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", p.ID)
	assert.Equal(t, "going long", p.Text)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), p.CreatedAt)
	assert.False(t, p.IsReply())

	_, err = s.Next(ctx)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)

	p, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", p.ID)
	assert.True(t, p.IsReply())

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, s.Close())
}

func TestReaderStreamSkipsOversizedLine(t *testing.T) {
	input := strings.Repeat("x", 2*maxLineBytes) + "\n" +
		`{"id":"7","author":"@birdpersonborg","text":"going long"}` + "\n"
	s := NewReaderStream(strings.NewReader(input))
	ctx := context.Background()

	_, err := s.Next(ctx)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)

	p, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", p.ID)
	assert.Equal(t, "going long", p.Text)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderStreamLastLineWithoutNewline(t *testing.T) {
	s := NewReaderStream(strings.NewReader(`{"id":"1","author":"a","text":"t"}`))
	p, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", p.ID)
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodePostRequiresIdentity(t *testing.T) {
	_, err := DecodePost([]byte(`{"text":"no author"}`))
	assert.Error(t, err)
}

func TestSliceStream(t *testing.T) {
	s := NewSliceStream(Post{ID: "a"}, Post{ID: "b"})
	ctx := context.Background()

	p, _ := s.Next(ctx)
	assert.Equal(t, "a", p.ID)
	p, _ = s.Next(ctx)
	assert.Equal(t, "b", p.ID)
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(-1))
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, maxDelay, backoff(10))
	assert.Equal(t, maxDelay, backoff(64))
}

func TestWebSocketStreamDeliversThenDisconnects(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&connections, 1) > 1 {
			http.Error(w, "gone", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"1","author":"a","text":"first"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"2","author":"b","text":"second"}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(server.URL, "http://", "ws://", 1)
	s, err := DialWebSocket(ctx, url, WebSocketOptions{
		MaxRetries:   2,
		retryBackoff: func(int) time.Duration { return time.Millisecond },
	})
	require.NoError(t, err)
	defer s.Close()

	p, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", p.Text)
	p, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", p.Text)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestDialWebSocketFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := DialWebSocket(ctx, "ws://127.0.0.1:1/posts", WebSocketOptions{})
	assert.Error(t, err)
}
