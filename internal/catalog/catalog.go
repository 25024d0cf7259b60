// Package catalog stores products, their deliverable files, and orders.
// The catalog itself (CRUD, uploads, pricing) is managed by the web
// admin; this service only reads order contents for delivery and records
// delivery failures for operator visibility.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ghorza/ghorza/internal/db"
)

// ErrOrderNotFound indicates the order id does not exist.
var ErrOrderNotFound = errors.New("order not found")

// ProductFile is one deliverable file owned by a product.
type ProductFile struct {
	ID           string
	ProductID    string
	Path         string
	OriginalName string
	IsPrimary    bool
}

// Product is a purchasable embroidery design with its ordered files.
type Product struct {
	ID    string
	Title string
	Files []ProductFile
}

// OrderLine is one purchased product within a multi-item order.
type OrderLine struct {
	ID      string
	Product *Product
}

// Order is a purchase record. Legacy single-item orders reference exactly
// one Product; newer orders carry Lines instead.
type Order struct {
	ID         int64
	CustomerID string
	Status     string
	Product    *Product
	Lines      []OrderLine
}

// Store reads orders and products over PostgreSQL.
type Store struct {
	logger *slog.Logger
	q      db.Querier
}

// NewStore creates a catalog Store.
func NewStore(log *slog.Logger, q db.Querier) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logger: log.With(slog.String("service", "catalog")),
		q:      q,
	}
}

// GetOrder loads an order with its products and files resolved.
func (s *Store) GetOrder(ctx context.Context, id int64) (Order, error) {
	var (
		order     Order
		productID *string
	)
	row := s.q.QueryRow(ctx,
		`SELECT id, customer_id, product_id, status FROM orders WHERE id = $1`, id)
	if err := row.Scan(&order.ID, &order.CustomerID, &productID, &order.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("load order: %w", err)
	}

	if productID != nil {
		products, err := s.loadProducts(ctx, []string{*productID})
		if err != nil {
			return Order{}, err
		}
		order.Product = products[*productID]
		return order, nil
	}

	lines, productIDs, err := s.loadLines(ctx, id)
	if err != nil {
		return Order{}, err
	}
	products, err := s.loadProducts(ctx, productIDs)
	if err != nil {
		return Order{}, err
	}
	for i := range lines {
		lines[i].line.Product = products[lines[i].productID]
	}
	order.Lines = make([]OrderLine, 0, len(lines))
	for _, l := range lines {
		order.Lines = append(order.Lines, l.line)
	}
	return order, nil
}

type scannedLine struct {
	line      OrderLine
	productID string
}

func (s *Store) loadLines(ctx context.Context, orderID int64) ([]scannedLine, []string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, product_id FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	var (
		lines      []scannedLine
		productIDs []string
	)
	for rows.Next() {
		var item scannedLine
		if err := rows.Scan(&item.line.ID, &item.productID); err != nil {
			return nil, nil, fmt.Errorf("scan order item: %w", err)
		}
		lines = append(lines, item)
		productIDs = append(productIDs, item.productID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate order items: %w", err)
	}
	return lines, productIDs, nil
}

func (s *Store) loadProducts(ctx context.Context, ids []string) (map[string]*Product, error) {
	products := make(map[string]*Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	rows, err := s.q.Query(ctx, `SELECT id, title FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Title); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	fileRows, err := s.q.Query(ctx,
		`SELECT id, product_id, path, original_name, is_primary
		 FROM product_files WHERE product_id = ANY($1)
		 ORDER BY product_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("load product files: %w", err)
	}
	defer fileRows.Close()
	for fileRows.Next() {
		var f ProductFile
		if err := fileRows.Scan(&f.ID, &f.ProductID, &f.Path, &f.OriginalName, &f.IsPrimary); err != nil {
			return nil, fmt.Errorf("scan product file: %w", err)
		}
		if p, ok := products[f.ProductID]; ok {
			p.Files = append(p.Files, f)
		}
	}
	if err := fileRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product files: %w", err)
	}
	return products, nil
}

// RecordDeliveryFailure persists a terminal delivery failure for operator
// follow-up.
func (s *Store) RecordDeliveryFailure(ctx context.Context, orderID int64, reason string) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO delivery_failures (id, order_id, reason) VALUES ($1, $2, $3)`,
		uuid.NewString(), orderID, reason)
	if err != nil {
		return fmt.Errorf("record delivery failure: %w", err)
	}
	s.logger.Error("delivery failure recorded",
		slog.Int64("order_id", orderID),
		slog.String("reason", reason))
	return nil
}
