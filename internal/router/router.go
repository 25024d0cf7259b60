// Package router classifies inbound chat messages and dispatches them to
// the account linker or a help responder. Chats that are already linked
// are ignored silently.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ghorza/ghorza/internal/accounts"
	"github.com/ghorza/ghorza/internal/phone"
)

const (
	welcomeMessage = "مرحباً بك في غرزة!\n" +
		"أرسل رقم هاتفك المسجل لربط حسابك، وستصلك مشترياتك هنا مباشرة.\n" +
		"مثال: +213555123456 أو 0555123456\n\n" +
		"Bienvenue chez Ghorza !\n" +
		"Envoyez votre numéro de téléphone enregistré pour lier votre compte et recevoir vos achats ici.\n" +
		"Exemple : +213555123456 ou 0555123456"

	helpMessage = "أرسل رقم هاتفك المسجل في التطبيق لربط حسابك (مثال: 0555123456).\n" +
		"Envoyez le numéro de téléphone enregistré dans l'application pour lier votre compte (exemple : 0555123456)."
)

// Inbound is one chat message to classify, terminal in one message.
type Inbound struct {
	ChatID string
	Text   string
}

// kind is the message classification. The classification is explicit so
// the dispatch switch stays exhaustive.
type kind int

const (
	kindError kind = iota
	kindAlreadyLinked
	kindStart
	kindPhone
	kindFallback
)

// AccountLinker binds a chat identity to the customer matching a phone number.
type AccountLinker interface {
	Link(ctx context.Context, chatID string, phoneText string) error
}

// ChatDirectory resolves which customer a chat identity is bound to.
type ChatDirectory interface {
	FindByChatID(ctx context.Context, chatID string) (accounts.Customer, error)
}

// Notifier sends chat messages.
type Notifier interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// Router dispatches inbound messages.
type Router struct {
	logger    *slog.Logger
	customers ChatDirectory
	linker    AccountLinker
	notifier  Notifier
}

// NewRouter creates a Router.
func NewRouter(log *slog.Logger, customers ChatDirectory, linker AccountLinker, notifier Notifier) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		logger:    log.With(slog.String("service", "router")),
		customers: customers,
		linker:    linker,
		notifier:  notifier,
	}
}

// Handle classifies and dispatches one inbound message, reporting a
// definite outcome. Nothing escapes to the webhook boundary: panics and
// errors are caught, logged, and reported as ok=false.
func (r *Router) Handle(ctx context.Context, msg Inbound) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling inbound message",
				slog.String("chat_id", msg.ChatID),
				slog.Any("panic", rec))
			ok = false
		}
	}()

	switch r.classify(ctx, msg) {
	case kindAlreadyLinked:
		// Idempotent silence: a bound chat never gets a reply.
		return true
	case kindStart:
		return r.send(ctx, msg.ChatID, welcomeMessage)
	case kindPhone:
		if err := r.linker.Link(ctx, msg.ChatID, strings.TrimSpace(msg.Text)); err != nil {
			r.logger.Info("linking failed",
				slog.String("chat_id", msg.ChatID),
				slog.Any("error", err))
			return false
		}
		return true
	case kindFallback:
		return r.send(ctx, msg.ChatID, helpMessage)
	default:
		return false
	}
}

func (r *Router) classify(ctx context.Context, msg Inbound) kind {
	_, err := r.customers.FindByChatID(ctx, msg.ChatID)
	switch {
	case err == nil:
		return kindAlreadyLinked
	case !errors.Is(err, accounts.ErrCustomerNotFound):
		r.logger.Error("chat lookup failed",
			slog.String("chat_id", msg.ChatID),
			slog.Any("error", err))
		return kindError
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		return kindStart
	case phone.IsCandidate(text):
		return kindPhone
	default:
		return kindFallback
	}
}

func (r *Router) send(ctx context.Context, chatID string, text string) bool {
	if err := r.notifier.SendText(ctx, chatID, text); err != nil {
		r.logger.Warn("send reply failed",
			slog.String("chat_id", chatID),
			slog.Any("error", err))
		return false
	}
	return true
}
