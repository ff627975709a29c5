package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDisconnected is returned by a stream whose connection was lost and could
// not be re-established. A clean end of input is io.EOF instead.
var ErrDisconnected = errors.New("post stream disconnected")

// Post is a single social media post as delivered by a stream.
type Post struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Retweet   bool      `json:"retweet,omitempty"`
	ReplyTo   string    `json:"in_reply_to,omitempty"`
}

// NormalizeHandle lowercases an author handle and drops a leading @.
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(handle)), "@")
}

// Handle is the post's author as NormalizeHandle returns it.
func (p Post) Handle() string {
	return NormalizeHandle(p.Author)
}

func (p Post) IsReply() bool {
	return p.ReplyTo != ""
}

// Stream yields posts in delivery order. Next blocks until a post is available
// and returns io.EOF once the stream has ended cleanly.
type Stream interface {
	Next(ctx context.Context) (Post, error)
	Close() error
}

// DecodeError is a single undecodable message; the stream remains usable.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	raw := e.Raw
	if len(raw) > 120 {
		raw = raw[:120] + "..."
	}
	return fmt.Sprintf("decode post %q: %v", raw, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodePost parses one JSON post. Line breaks in the text are removed.
func DecodePost(data []byte) (Post, error) {
	var p Post
	if err := json.Unmarshal(data, &p); err != nil {
		return Post{}, &DecodeError{Raw: string(data), Err: err}
	}
	if p.ID == "" || p.Author == "" {
		return Post{}, &DecodeError{Raw: string(data), Err: errors.New("post needs id and author")}
	}
	p.Text = strings.NewReplacer("\r", "", "\n", " ").Replace(p.Text)
	return p, nil
}
