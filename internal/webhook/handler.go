// Package webhook receives Telegram update callbacks and the
// order-completion trigger, and exposes webhook management endpoints.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ghorza/ghorza/internal/accounts"
	"github.com/ghorza/ghorza/internal/catalog"
	"github.com/ghorza/ghorza/internal/router"
	"github.com/ghorza/ghorza/internal/telegram"
)

const maxBodyBytes int64 = 1 << 20 // 1 MiB

// Update is the inbound webhook envelope. UpdateID is a pointer so a
// missing field can be told apart from a zero id.
type Update struct {
	UpdateID      *int64   `json:"update_id"`
	Message       *Message `json:"message"`
	EditedMessage *Message `json:"edited_message"`
}

// Message carries the payload fields this service consumes.
type Message struct {
	Chat *Chat  `json:"chat"`
	From *User  `json:"from"`
	Text string `json:"text"`
}

// Chat identifies the conversation endpoint.
type Chat struct {
	ID int64 `json:"id"`
}

// User identifies the sender.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// MessageHandler dispatches a classified inbound message.
type MessageHandler interface {
	Handle(ctx context.Context, msg router.Inbound) bool
}

// OrderSource loads completed orders for delivery.
type OrderSource interface {
	GetOrder(ctx context.Context, id int64) (catalog.Order, error)
}

// CustomerSource resolves the buyer behind an order.
type CustomerSource interface {
	Get(ctx context.Context, id string) (accounts.Customer, error)
}

// Deliverer sends an order's files to a chat identity.
type Deliverer interface {
	Deliver(ctx context.Context, order catalog.Order, chatID string) error
}

// WebhookManager manages the platform-side webhook registration.
type WebhookManager interface {
	SetWebhook(ctx context.Context, url string) error
	RemoveWebhook(ctx context.Context) error
	GetWebhookInfo(ctx context.Context) (telegram.WebhookInfo, error)
}

// Handler wires the webhook routes into echo.
type Handler struct {
	logger    *slog.Logger
	router    MessageHandler
	orders    OrderSource
	customers CustomerSource
	deliverer Deliverer
	manager   WebhookManager
}

// NewHandler creates a webhook Handler.
func NewHandler(log *slog.Logger, msgRouter MessageHandler, orders OrderSource, customers CustomerSource, deliverer Deliverer, manager WebhookManager) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		logger:    log.With(slog.String("handler", "webhook")),
		router:    msgRouter,
		orders:    orders,
		customers: customers,
		deliverer: deliverer,
		manager:   manager,
	}
}

// Register registers the webhook routes.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/telegram/webhook", h.HandleUpdate)
	e.POST("/orders/:id/deliver", h.HandleDeliverOrder)
	e.GET("/telegram/webhook/info", h.HandleWebhookInfo)
	e.POST("/telegram/webhook/set", h.HandleSetWebhook)
	e.DELETE("/telegram/webhook", h.HandleRemoveWebhook)
}

// HandleUpdate validates the envelope and routes the message. Malformed
// envelopes are rejected silently (logged, no chat-side message); routed
// updates always get a definite ok flag back.
func (h *Handler) HandleUpdate(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil || int64(len(payload)) > maxBodyBytes {
		h.logger.Warn("unreadable webhook payload", slog.Any("error", err))
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false})
	}

	var update Update
	if err := json.Unmarshal(payload, &update); err != nil {
		h.logger.Warn("malformed webhook payload", slog.Any("error", err))
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false})
	}
	if update.UpdateID == nil {
		h.logger.Warn("webhook payload missing update_id")
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false})
	}

	// Edited messages route the same as new ones.
	message := update.Message
	if message == nil {
		message = update.EditedMessage
	}
	if message == nil || message.Chat == nil {
		// Nothing for this service to do; acknowledge so the platform
		// does not redeliver.
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	}

	ok := h.router.Handle(c.Request().Context(), router.Inbound{
		ChatID: strconv.FormatInt(message.Chat.ID, 10),
		Text:   message.Text,
	})
	return c.JSON(http.StatusOK, echo.Map{"ok": ok})
}

// HandleDeliverOrder is the order-completion trigger: the order workflow
// calls it once an order is paid and confirmed.
func (h *Handler) HandleDeliverOrder(c echo.Context) error {
	orderID, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "order id must be numeric")
	}
	ctx := c.Request().Context()

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, catalog.ErrOrderNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		h.logger.Error("load order failed", slog.Int64("order_id", orderID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "load order failed")
	}

	customer, err := h.customers.Get(ctx, order.CustomerID)
	if err != nil {
		if errors.Is(err, accounts.ErrCustomerNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "customer not found")
		}
		h.logger.Error("load customer failed", slog.Int64("order_id", orderID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "load customer failed")
	}
	if customer.ChatID == "" {
		return echo.NewHTTPError(http.StatusConflict, "customer has no linked chat")
	}

	if err := h.deliverer.Deliver(ctx, order, customer.ChatID); err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"delivered": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"delivered": true})
}

// HandleWebhookInfo reports the registered webhook state.
func (h *Handler) HandleWebhookInfo(c echo.Context) error {
	info, err := h.manager.GetWebhookInfo(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, info)
}

type setWebhookRequest struct {
	URL string `json:"url"`
}

// HandleSetWebhook registers a webhook URL with the chat platform.
func (h *Handler) HandleSetWebhook(c echo.Context) error {
	var req setWebhookRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	if err := h.manager.SetWebhook(c.Request().Context(), strings.TrimSpace(req.URL)); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleRemoveWebhook unregisters the webhook.
func (h *Handler) HandleRemoveWebhook(c echo.Context) error {
	if err := h.manager.RemoveWebhook(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}
