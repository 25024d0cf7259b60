// Package linking binds chat identities to registered customers by
// matching the phone number they send to the bot.
package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ghorza/ghorza/internal/accounts"
	"github.com/ghorza/ghorza/internal/phone"
)

// ErrAccountNotFound indicates no registered customer has the phone number.
var ErrAccountNotFound = errors.New("no account matches phone number")

const (
	notFoundMessage = "لم نعثر على حساب مسجل بهذا الرقم. تأكد من الرقم المستخدم في التطبيق.\n" +
		"Aucun compte trouvé avec ce numéro. Vérifiez le numéro utilisé dans l'application."

	rebindWarningMessage = "هذا الحساب مرتبط بمحادثة أخرى، سيتم تحديث المعلومات.\n" +
		"Ce compte est lié à une autre conversation, les informations seront mises à jour."

	linkedMessageFormat = "تم ربط حسابك بنجاح!\n%s (%s)\nستصلك ملفات مشترياتك هنا مباشرة.\n" +
		"Votre compte a été lié avec succès ! Vous recevrez vos fichiers d'achat ici."
)

// CustomerDirectory is the account lookup and binding surface.
type CustomerDirectory interface {
	FindByPhone(ctx context.Context, phone string) (accounts.Customer, error)
	BindChat(ctx context.Context, customerID string, chatID string) error
}

// Notifier sends chat messages back to the user.
type Notifier interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// Service links chat identities to customers.
type Service struct {
	logger    *slog.Logger
	customers CustomerDirectory
	notifier  Notifier
}

// NewService creates a linking Service.
func NewService(log *slog.Logger, customers CustomerDirectory, notifier Notifier) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:    log.With(slog.String("service", "linking")),
		customers: customers,
		notifier:  notifier,
	}
}

// Link canonicalizes phoneText, looks up the customer and binds chatID to
// them. Rebinding is last-write-wins: a customer already bound elsewhere
// gets rebound after a warning to the new chat. The bind commits even if
// the confirmation message fails to send; notification failures are
// logged, never propagated as linking failures.
func (s *Service) Link(ctx context.Context, chatID string, phoneText string) error {
	canonical := phone.Normalize(phoneText)
	customer, err := s.customers.FindByPhone(ctx, canonical)
	if err != nil {
		if errors.Is(err, accounts.ErrCustomerNotFound) {
			s.logger.Info("no account for phone", slog.String("chat_id", chatID))
			s.sendText(ctx, chatID, notFoundMessage)
			return ErrAccountNotFound
		}
		return fmt.Errorf("find customer by phone: %w", err)
	}

	if customer.ChatID != "" && customer.ChatID != chatID {
		s.logger.Warn("rebinding chat identity",
			slog.String("customer_id", customer.ID),
			slog.String("old_chat_id", customer.ChatID),
			slog.String("new_chat_id", chatID))
		s.sendText(ctx, chatID, rebindWarningMessage)
	}

	if err := s.customers.BindChat(ctx, customer.ID, chatID); err != nil {
		return fmt.Errorf("bind chat: %w", err)
	}

	s.sendText(ctx, chatID, fmt.Sprintf(linkedMessageFormat, customer.Name, customer.Email))
	return nil
}

// sendText is non-blocking with respect to the linking outcome.
func (s *Service) sendText(ctx context.Context, chatID string, text string) {
	if err := s.notifier.SendText(ctx, chatID, text); err != nil {
		s.logger.Warn("send linking message failed",
			slog.String("chat_id", chatID),
			slog.Any("error", err))
	}
}
