package social

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// backoff returns baseDelay * 2^retry capped at maxDelay.
func backoff(retry int) time.Duration {
	if retry < 0 {
		return baseDelay
	}
	if retry > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<retry)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

type WebSocketOptions struct {
	Header       http.Header
	ReadTimeout  time.Duration
	MaxRetries   int
	Buffer       int
	Logger       *zap.SugaredLogger
	retryBackoff func(int) time.Duration
}

// WebSocketStream receives one JSON post per text message. A dropped connection
// is re-dialed with exponential backoff; after MaxRetries consecutive failures
// Next returns ErrDisconnected.
type WebSocketStream struct {
	url    string
	opts   WebSocketOptions
	log    *zap.SugaredLogger
	posts  chan Post
	errs   chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWebSocket makes the first connection synchronously so a bad URL fails at
// startup, then keeps reading in the background.
func DialWebSocket(ctx context.Context, url string, opts WebSocketOptions) (*WebSocketStream, error) {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 90 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 8
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.retryBackoff == nil {
		opts.retryBackoff = backoff
	}

	s := &WebSocketStream{
		url:   url,
		opts:  opts,
		log:   opts.Logger,
		posts: make(chan Post, opts.Buffer),
		errs:  make(chan error, opts.Buffer),
	}
	if err := s.connect(ctx); err != nil {
		return nil, fmt.Errorf("connect post stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(runCtx)
	return s, nil
}

func (s *WebSocketStream) Next(ctx context.Context) (Post, error) {
	select {
	case <-ctx.Done():
		return Post{}, ctx.Err()
	case p, ok := <-s.posts:
		if !ok {
			return Post{}, ErrDisconnected
		}
		return p, nil
	case err := <-s.errs:
		return Post{}, err
	}
}

func (s *WebSocketStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConn()
	s.wg.Wait()
	return nil
}

func (s *WebSocketStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, s.opts.Header)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.log.Infow("post stream connected", "url", s.url)
	return nil
}

func (s *WebSocketStream) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.posts)

	for {
		s.read(ctx)
		if ctx.Err() != nil {
			return
		}

		retry := 0
		for {
			delay := s.opts.retryBackoff(retry)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			err := s.connect(ctx)
			if err == nil {
				break
			}
			retry++
			s.log.Warnw("post stream reconnect failed", "url", s.url, "retry", retry, "error", err)
			if retry >= s.opts.MaxRetries {
				return
			}
		}
	}
}

func (s *WebSocketStream) read(ctx context.Context) {
	for {
		s.mu.Lock()
		c := s.conn
		s.mu.Unlock()
		if c == nil {
			return
		}

		_ = c.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		msgType, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warnw("post stream read error", "url", s.url, "error", err)
			}
			s.closeConn()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		post, err := DecodePost(msg)
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				select {
				case s.errs <- err:
				case <-ctx.Done():
					return
				}
			}
			continue
		}
		select {
		case s.posts <- post:
		case <-ctx.Done():
			return
		}
	}
}

func (s *WebSocketStream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
