package social

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

const maxLineBytes = 1024 * 1024

// ReaderStream reads newline-delimited JSON posts, e.g. a replay file or stdin.
type ReaderStream struct {
	closer  io.Closer
	reader  *bufio.Reader
	maxLine int
}

func NewReaderStream(r io.Reader) *ReaderStream {
	s := &ReaderStream{reader: bufio.NewReaderSize(r, 64*1024), maxLine: maxLineBytes}
	if c, ok := r.(io.Closer); ok && r != os.Stdin {
		s.closer = c
	}
	return s
}

func OpenFile(path string) (*ReaderStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewReaderStream(f), nil
}

func (s *ReaderStream) Next(ctx context.Context) (Post, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Post{}, err
		}
		raw, tooLong, err := s.readLine()
		if tooLong {
			return Post{}, &DecodeError{
				Raw: string(raw),
				Err: fmt.Errorf("line longer than %d bytes", s.maxLine),
			}
		}
		line := bytes.TrimSpace(raw)
		if len(line) > 0 {
			return DecodePost(line)
		}
		if err != nil {
			return Post{}, err
		}
	}
}

// readLine returns the next line without its newline. A line over maxLine is
// consumed to its end and reported with tooLong and only its head kept.
func (s *ReaderStream) readLine() (line []byte, tooLong bool, err error) {
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > s.maxLine {
				tooLong = true
				keep := s.maxLine - len(line)
				if keep > 120 {
					keep = 120
				}
				if keep > 0 {
					line = append(line, chunk[:keep]...)
				}
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case err == nil:
			return bytes.TrimSuffix(line, []byte("\n")), tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return line, tooLong, err
		}
	}
}

func (s *ReaderStream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// SliceStream yields a fixed list of posts and then io.EOF.
type SliceStream struct {
	posts []Post
	next  int
}

func NewSliceStream(posts ...Post) *SliceStream {
	return &SliceStream{posts: posts}
}

func (s *SliceStream) Next(ctx context.Context) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, err
	}
	if s.next >= len(s.posts) {
		return Post{}, io.EOF
	}
	p := s.posts[s.next]
	s.next++
	return p, nil
}

func (s *SliceStream) Close() error {
	return nil
}
