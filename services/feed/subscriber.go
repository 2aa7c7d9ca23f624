// Package feed ingests newly-migrated tokens from the upstream WebSocket
// stream and materializes them as monitored tokens.
package feed

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solpulse/solpulse/domain"
	"github.com/solpulse/solpulse/infrastructure/logging"
	"github.com/solpulse/solpulse/infrastructure/metrics"
)

const (
	readIdleTimeout = 30 * time.Second
	pingInterval    = 15 * time.Second
	writeTimeout    = 10 * time.Second

	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// subscribeFrame is sent once after every successful connect.
var subscribeFrame = []byte(`{"method":"subscribeMigration"}`)

// TokenSink receives ingested tokens and pools. Satisfied by the store
// repository.
type TokenSink interface {
	UpsertMonitored(ctx context.Context, address string) (*domain.Token, error)
	UpsertPool(ctx context.Context, tokenAddress, poolAddress, dex string, active bool) error
}

// Subscriber is the long-lived feed client. It reconnects with bounded
// jittered backoff on any transport failure and exits only on context
// cancellation.
type Subscriber struct {
	url     string
	sink    TokenSink
	log     *logging.Logger
	metrics *metrics.Metrics
	dialer  *websocket.Dialer

	backoffBase time.Duration
	backoffCap  time.Duration

	// attempt counts reconnects since the last successful open.
	attempt atomic.Int64
}

// New creates a subscriber for the configured feed URL.
func New(url string, sink TokenSink, log *logging.Logger, m *metrics.Metrics) *Subscriber {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Subscriber{
		url:     url,
		sink:    sink,
		log:     log,
		metrics: m,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
	}
}

// Run connects and consumes frames until ctx is cancelled. Transport
// failures are never fatal; the subscriber waits out the backoff and
// reconnects with the attempt counter reset on each successful open.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connected, err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			s.attempt.Store(0)
		}

		attempt := int(s.attempt.Add(1))
		delay := reconnectDelay(attempt, s.backoffBase, s.backoffCap)
		s.metrics.FeedReconnects.Inc()
		s.log.WithError(err).WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("feed connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runConnection dials, subscribes and reads frames until the connection
// breaks. connected reports whether the open reached the subscribed state;
// the caller resets its attempt counter on it.
func (s *Subscriber) runConnection(ctx context.Context) (connected bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.log.WithFields(map[string]interface{}{"url": s.url}).Info("feed connected")

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, subscribeFrame); err != nil {
		return false, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	// Close the connection when ctx ends so the blocked read returns, and
	// keep the link alive with periodic pings.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		if messageType != websocket.TextMessage {
			s.metrics.FeedFramesTotal.WithLabelValues("non_text").Inc()
			s.log.WithFields(map[string]interface{}{"type": messageType, "size": len(raw)}).
				Debug("non-text feed frame ignored")
			continue
		}
		s.handleFrame(ctx, raw)
	}
}

// handleFrame ingests one text frame. Unparseable or unrecognized frames
// are counted and skipped; sink failures are logged but do not tear down
// the connection.
func (s *Subscriber) handleFrame(ctx context.Context, raw []byte) {
	migration, ok := ParseFrame(raw)
	if !ok {
		s.metrics.FeedFramesTotal.WithLabelValues("ignored").Inc()
		s.log.WithFields(map[string]interface{}{"size": len(raw)}).
			Debug("feed frame without token address ignored")
		return
	}

	if _, err := s.sink.UpsertMonitored(ctx, migration.TokenAddress); err != nil {
		s.metrics.FeedFramesTotal.WithLabelValues("sink_error").Inc()
		s.log.WithError(err).WithFields(map[string]interface{}{
			"address": migration.TokenAddress,
		}).Error("token upsert failed")
		return
	}

	if migration.PoolAddress != "" {
		if err := s.sink.UpsertPool(ctx, migration.TokenAddress, migration.PoolAddress, migration.Dex, true); err != nil {
			s.log.WithError(err).WithFields(map[string]interface{}{
				"address": migration.TokenAddress,
				"pool":    migration.PoolAddress,
			}).Error("pool upsert failed")
		}
	}

	s.metrics.FeedFramesTotal.WithLabelValues("ingested").Inc()
	s.metrics.TokensIngested.Inc()
	s.log.WithFields(map[string]interface{}{
		"address": migration.TokenAddress,
	}).Info("token ingested")
}

// reconnectDelay is min(base * 2^(attempt-1), max) plus up to one base unit
// of jitter.
func reconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base << uint(attempt-1)
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay + time.Duration(rand.Int63n(int64(base)))
}
