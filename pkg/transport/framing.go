package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const headerContentLength = "content-length"

// MaxMessageSize bounds a single framed message body.
const MaxMessageSize = 64 << 20

// ErrBadHeader reports a frame whose header block could not be used.
var ErrBadHeader = errors.New("invalid message header")

// ReadMessage reads one Content-Length framed message body from r.
func ReadMessage(r *bufio.Reader) ([]byte, error) {
	length := -1
	sawHeader := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && (sawHeader || line != "") {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !sawHeader {
				continue
			}
			break
		}
		sawHeader = true

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), headerContentLength) {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("%w: content length %q", ErrBadHeader, value)
			}
			length = n
		}
		// Content-Type and unknown headers are ignored
	}

	if length < 0 {
		return nil, fmt.Errorf("%w: missing Content-Length", ErrBadHeader)
	}
	if length > MaxMessageSize {
		_, _ = r.Discard(length)
		return nil, fmt.Errorf("%w: message of %d bytes exceeds limit", ErrBadHeader, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// WriteMessage writes data to w with a Content-Length header.
func WriteMessage(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
