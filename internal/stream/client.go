package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/substep/internal/metrics"
)

// writeTimeout bounds each single write on a stream.
const writeTimeout = 30 * time.Second

// sink delivers messages to one connected client.
type sink interface {
	send(v any) error
	keepalive() error
}

// sseSink writes "data:" events and ":" comment keep-alives.
type sseSink struct {
	w       io.Writer
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger
}

func (s *sseSink) write(p []byte) error {
	if err := s.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		s.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := s.w.Write(p)
	if err != nil {
		return err
	}
	s.flusher.Flush()
	metrics.AddStreamBytes(int64(n))
	return nil
}

func (s *sseSink) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	event := make([]byte, 0, len(data)+8)
	event = append(event, "data: "...)
	event = append(event, data...)
	event = append(event, "\n\n"...)
	if err := s.write(event); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	metrics.IncStreamMessages()
	return nil
}

func (s *sseSink) keepalive() error {
	if err := s.write([]byte(":\n\n")); err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}
	return nil
}

// wsSink writes text frames and pings.
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(int64(len(data)))
	return nil
}

func (s wsSink) keepalive() error {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
