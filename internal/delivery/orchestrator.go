// Package delivery sends the files of a completed order to the buyer's
// chat, packaging multi-file orders into a single archive.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ghorza/ghorza/internal/archive"
	"github.com/ghorza/ghorza/internal/catalog"
)

// ErrNoFiles indicates the order resolves to zero deliverable files.
var ErrNoFiles = errors.New("order has no deliverable files")

// ErrMissingFile indicates a deliverable file is absent from disk.
var ErrMissingFile = errors.New("deliverable file missing")

// ErrFileTooLarge indicates a single deliverable file exceeds the
// transport size ceiling.
var ErrFileTooLarge = errors.New("file exceeds transport size ceiling")

const (
	// DefaultMaxAttempts bounds the orchestrator's own retry loop. It
	// compounds with the dispatcher's per-call retry underneath, so a
	// send can be attempted up to 9 times in the worst case.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay follows the same linear growth as the dispatcher:
	// delay = base * failed attempt number.
	DefaultBaseDelay = 2 * time.Second
)

const (
	captionFormat = "ملفات طلبك رقم %d\nLes fichiers de votre commande n°%d"

	fallbackMessage = "تعذر إرسال ملفاتك عبر تيليغرام. يمكنك تحميلها من التطبيق أو التواصل مع الدعم.\n" +
		"Impossible d'envoyer vos fichiers via Telegram. Téléchargez-les depuis l'application ou contactez le support."
)

// ArchiveBuilder packages file groups into a single artifact.
type ArchiveBuilder interface {
	Build(orderID int64, groups []archive.Group) (string, error)
}

// Dispatcher delivers chat messages with its own retry policy.
type Dispatcher interface {
	SendText(ctx context.Context, chatID string, text string) error
	SendFile(ctx context.Context, chatID string, filePath string, caption string) error
}

// FailureRecorder persists terminal delivery failures.
type FailureRecorder interface {
	RecordDeliveryFailure(ctx context.Context, orderID int64, reason string) error
}

// Orchestrator drives the delivery of one completed order.
type Orchestrator struct {
	logger      *slog.Logger
	builder     ArchiveBuilder
	dispatcher  Dispatcher
	failures    FailureRecorder
	maxAttempts int
	baseDelay   time.Duration
	maxBytes    int64
	sleep       func(time.Duration)
	remove      func(string) error
	stat        func(string) (os.FileInfo, error)
}

// NewOrchestrator creates an Orchestrator with the default retry policy.
func NewOrchestrator(log *slog.Logger, builder ArchiveBuilder, dispatcher Dispatcher, failures FailureRecorder) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		logger:      log.With(slog.String("service", "delivery")),
		builder:     builder,
		dispatcher:  dispatcher,
		failures:    failures,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxBytes:    archive.MaxArchiveBytes,
		sleep:       time.Sleep,
		remove:      os.Remove,
		stat:        os.Stat,
	}
}

// Deliver sends the order's files to chatID. A single file is sent
// directly; multiple files are packaged into one archive grouped by
// product title. Archives are deleted on every exit path. On terminal
// failure the buyer gets a fallback message and the failure is recorded.
func (o *Orchestrator) Deliver(ctx context.Context, order catalog.Order, chatID string) error {
	groups := deliverableGroups(order)
	total := 0
	for _, g := range groups {
		total += len(g.Paths)
	}
	if total == 0 {
		o.logger.Error("order has no deliverable files", slog.Int64("order_id", order.ID))
		return o.fail(ctx, order.ID, chatID, ErrNoFiles)
	}

	// A missing or oversized single file is a precondition failure, never
	// retried. The multi-file path gets the same checks from the builder.
	if total == 1 {
		if err := o.checkFile(groups[0].Paths[0]); err != nil {
			o.logger.Error("deliverable file precondition failed",
				slog.Int64("order_id", order.ID),
				slog.String("path", groups[0].Paths[0]),
				slog.Any("error", err))
			return o.fail(ctx, order.ID, chatID, err)
		}
	}

	caption := fmt.Sprintf(captionFormat, order.ID, order.ID)
	var lastErr error
	for i := 0; i < o.maxAttempts; i++ {
		path := groups[0].Paths[0]
		archived := false
		if total > 1 {
			// The artifact is deleted after every attempt, so each retry
			// rebuilds it. A build failure is a precondition failure and
			// is never retried.
			built, err := o.builder.Build(order.ID, groups)
			if err != nil {
				o.logger.Error("build archive failed",
					slog.Int64("order_id", order.ID),
					slog.Any("error", err))
				return o.fail(ctx, order.ID, chatID, err)
			}
			path = built
			archived = true
		}

		err := o.dispatcher.SendFile(ctx, chatID, path, caption)
		if archived {
			o.cleanup(order.ID, path)
		}
		if err == nil {
			o.logger.Info("order delivered",
				slog.Int64("order_id", order.ID),
				slog.String("chat_id", chatID),
				slog.Int("files", total))
			return nil
		}
		lastErr = err
		o.logger.Warn("delivery attempt failed",
			slog.Int64("order_id", order.ID),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
		if i < o.maxAttempts-1 {
			o.sleep(time.Duration(i+1) * o.baseDelay)
		}
	}

	return o.fail(ctx, order.ID, chatID,
		fmt.Errorf("delivery failed after %d attempts: %w", o.maxAttempts, lastErr))
}

// fail notifies the buyer with the fallback instruction and records the
// failure for operator visibility. Both are best-effort.
func (o *Orchestrator) fail(ctx context.Context, orderID int64, chatID string, cause error) error {
	if err := o.dispatcher.SendText(ctx, chatID, fallbackMessage); err != nil {
		o.logger.Warn("send fallback message failed",
			slog.Int64("order_id", orderID),
			slog.Any("error", err))
	}
	if err := o.failures.RecordDeliveryFailure(ctx, orderID, cause.Error()); err != nil {
		o.logger.Error("record delivery failure failed",
			slog.Int64("order_id", orderID),
			slog.Any("error", err))
	}
	return cause
}

func (o *Orchestrator) checkFile(path string) error {
	info, err := o.stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s: %w", path, ErrMissingFile)
	case err != nil:
		return fmt.Errorf("stat deliverable %s: %w", path, err)
	case info.Size() > o.maxBytes:
		return fmt.Errorf("%s (%d bytes): %w", path, info.Size(), ErrFileTooLarge)
	}
	return nil
}

func (o *Orchestrator) cleanup(orderID int64, path string) {
	if err := o.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.logger.Warn("remove archive failed",
			slog.Int64("order_id", orderID),
			slog.String("path", path),
			slog.Any("error", err))
	}
}

// deliverableGroups flattens the order into per-product file groups,
// skipping lines whose product or files are missing.
func deliverableGroups(order catalog.Order) []archive.Group {
	products := make([]*catalog.Product, 0, 1+len(order.Lines))
	if order.Product != nil {
		products = append(products, order.Product)
	}
	for _, line := range order.Lines {
		if line.Product != nil {
			products = append(products, line.Product)
		}
	}

	groups := make([]archive.Group, 0, len(products))
	for _, p := range products {
		paths := make([]string, 0, len(p.Files))
		for _, f := range p.Files {
			if f.Path == "" {
				continue
			}
			paths = append(paths, f.Path)
		}
		if len(paths) == 0 {
			continue
		}
		groups = append(groups, archive.Group{Title: p.Title, Paths: paths})
	}
	return groups
}
