package api

import (
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/mmrunner/internal/runner"
)

// SSE event names.
const (
	eventToken = "token"
	eventStats = "stats"
	eventError = "error"
	eventDone  = "done"
)

// SSEStreamWriter frames generation output as server-sent events. Token
// pieces may split a multi-byte character; the incomplete tail is held back
// until the rest arrives or the stream ends.
type SSEStreamWriter struct {
	w       io.Writer
	flusher http.Flusher
	seq     int
	pending []byte
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	return &SSEStreamWriter{w: res, flusher: flusher}, nil
}

func (s *SSEStreamWriter) Token(piece string) error {
	if len(s.pending) == 0 && completeLen(piece) == len(piece) {
		return s.sendText(piece)
	}
	s.pending = append(s.pending, piece...)
	n := completeLen(string(s.pending))
	if n == 0 {
		return nil
	}
	text := string(s.pending[:n])
	s.pending = append(s.pending[:0], s.pending[n:]...)
	return s.sendText(text)
}

func (s *SSEStreamWriter) Stats(st runner.Stats) error {
	if err := s.flushPending(); err != nil {
		return err
	}
	return s.send(eventStats, st)
}

func (s *SSEStreamWriter) Error(err error) error {
	if err := s.flushPending(); err != nil {
		return err
	}
	return s.send(eventError, errorBody{Error: *errorDetail(err)})
}

func (s *SSEStreamWriter) Done(g Generation) error {
	if err := s.flushPending(); err != nil {
		return err
	}
	return s.send(eventDone, map[string]any{"id": g.ID, "status": g.Status})
}

// flushPending sends whatever bytes are still held, complete or not.
func (s *SSEStreamWriter) flushPending() error {
	if len(s.pending) == 0 {
		return nil
	}
	text := string(s.pending)
	s.pending = s.pending[:0]
	return s.sendText(text)
}

func (s *SSEStreamWriter) sendText(text string) error {
	return s.send(eventToken, map[string]any{"text": text})
}

// completeLen returns the length of the longest prefix of p that does not
// end inside a truncated UTF-8 sequence.
func completeLen(p string) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if !utf8.FullRuneInString(p[i:]) {
			return i
		}
		break
	}
	return len(p)
}

func (s *SSEStreamWriter) send(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, event, b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
