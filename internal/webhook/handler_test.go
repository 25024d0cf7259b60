package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghorza/ghorza/internal/accounts"
	"github.com/ghorza/ghorza/internal/catalog"
	"github.com/ghorza/ghorza/internal/router"
)

type fakeRouter struct {
	handled []router.Inbound
	result  bool
}

func (f *fakeRouter) Handle(_ context.Context, msg router.Inbound) bool {
	f.handled = append(f.handled, msg)
	return f.result
}

type fakeOrders struct {
	order catalog.Order
	err   error
}

func (f *fakeOrders) GetOrder(context.Context, int64) (catalog.Order, error) {
	return f.order, f.err
}

type fakeCustomers struct {
	customer accounts.Customer
	err      error
}

func (f *fakeCustomers) Get(context.Context, string) (accounts.Customer, error) {
	return f.customer, f.err
}

type fakeDeliverer struct {
	calls   int
	chatIDs []string
	err     error
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ catalog.Order, chatID string) error {
	f.calls++
	f.chatIDs = append(f.chatIDs, chatID)
	return f.err
}

func postUpdate(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h.HandleUpdate(e.NewContext(req, rec)))
	return rec
}

func TestHandleUpdateRoutesMessage(t *testing.T) {
	rt := &fakeRouter{result: true}
	h := NewHandler(nil, rt, nil, nil, nil, nil)

	rec := postUpdate(t, h, `{"update_id": 7, "message": {"chat": {"id": 999}, "text": "/start"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok": true}`, rec.Body.String())
	require.Len(t, rt.handled, 1)
	assert.Equal(t, "999", rt.handled[0].ChatID)
	assert.Equal(t, "/start", rt.handled[0].Text)
}

func TestHandleUpdateRoutesEditedMessage(t *testing.T) {
	rt := &fakeRouter{result: true}
	h := NewHandler(nil, rt, nil, nil, nil, nil)

	rec := postUpdate(t, h, `{"update_id": 8, "edited_message": {"chat": {"id": 42}, "text": "0555123456"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rt.handled, 1)
	assert.Equal(t, "42", rt.handled[0].ChatID)
	assert.Equal(t, "0555123456", rt.handled[0].Text)
}

func TestHandleUpdateReportsRouterOutcome(t *testing.T) {
	rt := &fakeRouter{result: false}
	h := NewHandler(nil, rt, nil, nil, nil, nil)

	rec := postUpdate(t, h, `{"update_id": 9, "message": {"chat": {"id": 1}, "text": "hello"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok": false}`, rec.Body.String())
}

func TestHandleUpdateRejectsMissingUpdateID(t *testing.T) {
	rt := &fakeRouter{result: true}
	h := NewHandler(nil, rt, nil, nil, nil, nil)

	rec := postUpdate(t, h, `{"message": {"chat": {"id": 999}, "text": "hi"}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"ok": false}`, rec.Body.String())
	assert.Empty(t, rt.handled)
}

func TestHandleUpdateRejectsMalformedJSON(t *testing.T) {
	rt := &fakeRouter{result: true}
	h := NewHandler(nil, rt, nil, nil, nil, nil)

	rec := postUpdate(t, h, `{"update_id":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rt.handled)
}

func TestHandleUpdateAcknowledgesNonMessageUpdate(t *testing.T) {
	rt := &fakeRouter{result: true}
	h := NewHandler(nil, rt, nil, nil, nil, nil)

	rec := postUpdate(t, h, `{"update_id": 10}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok": true}`, rec.Body.String())
	assert.Empty(t, rt.handled)
}

func deliverRequest(t *testing.T, h *Handler, id string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/orders/"+id+"/deliver", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return rec, h.HandleDeliverOrder(c)
}

func TestHandleDeliverOrderSuccess(t *testing.T) {
	orders := &fakeOrders{order: catalog.Order{ID: 12, CustomerID: "c-1"}}
	customers := &fakeCustomers{customer: accounts.Customer{ID: "c-1", ChatID: "999"}}
	deliverer := &fakeDeliverer{}
	h := NewHandler(nil, nil, orders, customers, deliverer, nil)

	rec, err := deliverRequest(t, h, "12")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delivered": true}`, rec.Body.String())
	assert.Equal(t, []string{"999"}, deliverer.chatIDs)
}

func TestHandleDeliverOrderUnknownOrder(t *testing.T) {
	h := NewHandler(nil, nil, &fakeOrders{err: catalog.ErrOrderNotFound}, nil, nil, nil)

	_, err := deliverRequest(t, h, "12")

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestHandleDeliverOrderUnlinkedCustomer(t *testing.T) {
	orders := &fakeOrders{order: catalog.Order{ID: 12, CustomerID: "c-1"}}
	customers := &fakeCustomers{customer: accounts.Customer{ID: "c-1"}}
	deliverer := &fakeDeliverer{}
	h := NewHandler(nil, nil, orders, customers, deliverer, nil)

	_, err := deliverRequest(t, h, "12")

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusConflict, httpErr.Code)
	assert.Zero(t, deliverer.calls)
}

func TestHandleDeliverOrderDeliveryFailure(t *testing.T) {
	orders := &fakeOrders{order: catalog.Order{ID: 12, CustomerID: "c-1"}}
	customers := &fakeCustomers{customer: accounts.Customer{ID: "c-1", ChatID: "999"}}
	deliverer := &fakeDeliverer{err: errors.New("send failed")}
	h := NewHandler(nil, nil, orders, customers, deliverer, nil)

	rec, err := deliverRequest(t, h, "12")

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delivered":false`)
}

func TestHandleDeliverOrderBadID(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, nil, nil)

	_, err := deliverRequest(t, h, "not-a-number")

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}
