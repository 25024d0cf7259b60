// Package notify delivers outbound chat messages with a bounded retry
// policy. Every chat platform error is treated as transient and retried;
// the caller decides on user-facing fallback messaging once attempts are
// exhausted.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultMaxAttempts is the total number of send attempts per call.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is multiplied by the failed attempt number to get
	// the wait before the next attempt: 2s, then 4s. The growth is linear,
	// not exponential.
	DefaultBaseDelay = 2 * time.Second
)

// ChatSender is the thin chat platform client the dispatcher retries over.
type ChatSender interface {
	SendText(ctx context.Context, chatID string, text string) error
	SendFile(ctx context.Context, chatID string, filePath string, caption string) error
}

// Dispatcher wraps a ChatSender with the retry policy.
type Dispatcher struct {
	logger      *slog.Logger
	sender      ChatSender
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(time.Duration)
}

// NewDispatcher creates a Dispatcher with the default retry policy.
func NewDispatcher(log *slog.Logger, sender ChatSender) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		logger:      log.With(slog.String("service", "notify")),
		sender:      sender,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       time.Sleep,
	}
}

// SendText sends a text message, retrying on any sender error.
func (d *Dispatcher) SendText(ctx context.Context, chatID string, text string) error {
	return d.withRetry(ctx, "send text", chatID, func() error {
		return d.sender.SendText(ctx, chatID, text)
	})
}

// SendFile sends a file message, retrying on any sender error.
func (d *Dispatcher) SendFile(ctx context.Context, chatID string, filePath string, caption string) error {
	return d.withRetry(ctx, "send file", chatID, func() error {
		return d.sender.SendFile(ctx, chatID, filePath, caption)
	})
}

func (d *Dispatcher) withRetry(ctx context.Context, op string, chatID string, fn func() error) error {
	var lastErr error
	for i := 0; i < d.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		d.logger.Warn("outbound attempt failed",
			slog.String("op", op),
			slog.String("chat_id", chatID),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
		if i < d.maxAttempts-1 {
			d.sleep(time.Duration(i+1) * d.baseDelay)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, d.maxAttempts, lastErr)
}
