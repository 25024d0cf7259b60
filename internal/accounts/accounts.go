// Package accounts stores marketplace customers and their chat bindings.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ghorza/ghorza/internal/db"
)

// ErrCustomerNotFound indicates no customer matches the lookup key.
var ErrCustomerNotFound = errors.New("customer not found")

// Customer is a registered marketplace user. ChatID is the bound chat
// identity ("" when unlinked); a customer has at most one current chat
// identity and the latest bind wins.
type Customer struct {
	ID     string
	Name   string
	Email  string
	Phone  string
	ChatID string
}

// Store provides customer lookups and chat binding over PostgreSQL.
type Store struct {
	logger *slog.Logger
	q      db.Querier
}

// NewStore creates a customer Store.
func NewStore(log *slog.Logger, q db.Querier) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logger: log.With(slog.String("service", "accounts")),
		q:      q,
	}
}

const customerColumns = `id, name, email, phone, telegram_chat_id`

// Get fetches a customer by id.
func (s *Store) Get(ctx context.Context, id string) (Customer, error) {
	row := s.q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	return scanCustomer(row)
}

// FindByPhone fetches a customer by canonical phone number.
func (s *Store) FindByPhone(ctx context.Context, phone string) (Customer, error) {
	row := s.q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1`, strings.TrimSpace(phone))
	return scanCustomer(row)
}

// FindByChatID fetches the customer currently bound to a chat identity.
func (s *Store) FindByChatID(ctx context.Context, chatID string) (Customer, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return Customer{}, ErrCustomerNotFound
	}
	row := s.q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE telegram_chat_id = $1`, chatID)
	return scanCustomer(row)
}

// BindChat overwrites the customer's chat identity. Last write wins; there
// is no optimistic-concurrency check.
func (s *Store) BindChat(ctx context.Context, customerID string, chatID string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE customers SET telegram_chat_id = $2, updated_at = now() WHERE id = $1`,
		customerID, strings.TrimSpace(chatID))
	if err != nil {
		return fmt.Errorf("bind chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	s.logger.Info("chat identity bound",
		slog.String("customer_id", customerID),
		slog.String("chat_id", chatID))
	return nil
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.ChatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, err
	}
	return c, nil
}
