package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/robot-control/robotd/internal/geom"
)

// Frame is one pose report from the coprocessor.
type Frame struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	HeadingDeg float64 `json:"headingDeg"`
	// LatencyMs is capture plus processing latency.
	LatencyMs  float64 `json:"latencyMs"`
	Confidence float64 `json:"confidence"`
	TagCount   int     `json:"tagCount"`
}

// Valid reports whether the frame carries a pose at all.
func (f Frame) Valid() bool {
	return f.TagCount > 0 && f.LatencyMs >= 0
}

// Measurement converts the frame using now as the receive time.
func (f Frame) Measurement(now time.Duration) Measurement {
	latency := time.Duration(f.LatencyMs * float64(time.Millisecond))
	return Measurement{
		Pose:       geom.NewPose(f.X, f.Y, geom.FromDegrees(f.HeadingDeg)),
		Timestamp:  now - latency,
		Confidence: f.Confidence,
	}
}

// Client reads frames from a coprocessor websocket and publishes them.
type Client struct {
	URL     string
	Mailbox *Mailbox
	// Clock returns the robot clock used to timestamp samples.
	Clock func() time.Duration

	MinBackoff, MaxBackoff time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Run connects and reads until ctx is done, reconnecting with exponential
// backoff. The delay resets once a connection has been established.
func (c *Client) Run(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "vision", "url", c.URL)

	retry := c.newBackOff()
	for {
		connected, err := c.session(ctx, logger)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			retry.Reset()
		}
		wait := retry.NextBackOff()
		logger.Warn("Vision link down", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// newBackOff builds the reconnect schedule from MinBackoff and MaxBackoff,
// defaulting to 250 ms growing to 5 s.
func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.MinBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = 250 * time.Millisecond
	}
	b.MaxInterval = c.MaxBackoff
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = max(5*time.Second, b.InitialInterval)
	}
	b.Reset()
	return b
}

// session runs one connection. connected reports whether the dial
// succeeded.
func (c *Client) session(ctx context.Context, logger *slog.Logger) (connected bool, err error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, c.URL, http.Header{})
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()
	logger.Info("Vision link up")

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return true, nil
			}
			return true, fmt.Errorf("read frame: %w", err)
		}
		if !f.Valid() {
			continue
		}
		c.Mailbox.Publish(f.Measurement(c.Clock()))
	}
}
