package social

import (
	"context"
	"os"
	"strings"
)

// Open picks a stream for source: a ws:// or wss:// URL, "-" for stdin, or a
// path to an NDJSON file.
func Open(ctx context.Context, source string, opts WebSocketOptions) (Stream, error) {
	switch {
	case strings.HasPrefix(source, "ws://"), strings.HasPrefix(source, "wss://"):
		return DialWebSocket(ctx, source, opts)
	case source == "-":
		return NewReaderStream(os.Stdin), nil
	default:
		return OpenFile(source)
	}
}
