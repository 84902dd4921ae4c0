package marketdata

import (
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/quantfold/backtest/pkg/schema"
)

// WSSource captures records from a websocket feed that sends one JSON
// record per message. Prepare dials the endpoint; Next streams until
// the configured record limit or the peer closes, then reports io.EOF.
// Backtests are offline by nature, so this exists to capture live
// data into the same record stream the file replay produces.
type WSSource struct {
	url     string
	limit   int
	timeout time.Duration
	logger  log.Logger

	conn *websocket.Conn
	seen int
}

// NewWSSource builds a capture source. limit <= 0 means unbounded;
// timeout bounds each read.
func NewWSSource(url string, limit int, timeout time.Duration, logger log.Logger) *WSSource {
	return &WSSource{url: url, limit: limit, timeout: timeout, logger: logger}
}

// Prepare dials the feed.
func (s *WSSource) Prepare() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.url, err)
	}
	s.conn = conn
	s.logger.Info("feed connected", "url", s.url, "limit", s.limit)
	return nil
}

// Next reads one record from the feed.
func (s *WSSource) Next() (schema.Record, error) {
	if s.conn == nil {
		return schema.Record{}, ErrNotPrepared
	}
	if s.limit > 0 && s.seen >= s.limit {
		return schema.Record{}, io.EOF
	}
	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return schema.Record{}, err
		}
	}
	var rec schema.Record
	if err := s.conn.ReadJSON(&rec); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return schema.Record{}, io.EOF
		}
		return schema.Record{}, fmt.Errorf("reading feed: %w", err)
	}
	s.seen++
	return rec, nil
}

// Close closes the connection.
func (s *WSSource) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
