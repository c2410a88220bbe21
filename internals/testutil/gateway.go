package testutil

import (
	"context"
	"fmt"
	"sync"

	"kapalku_backend/internals/features/payment/payments/dto"
	helper "kapalku_backend/internals/helpers"
)

// FakeGateway stands in for Midtrans. Statuses are served from a map keyed by
// order id; errors can be queued per method.
type FakeGateway struct {
	mu       sync.Mutex
	statuses map[string]dto.MidtransNotification

	CheckErrs  []error
	CancelErrs []error
	CreateErrs []error

	CheckCalls  int
	CancelCalls int
	CreateCalls int
	Cancelled   []string
	Charges     []dto.GatewayCharge
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{statuses: map[string]dto.MidtransNotification{}}
}

// SetStatus makes CheckStatus report transactionStatus for orderID.
func (g *FakeGateway) SetStatus(orderID, transactionStatus, grossAmount string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[orderID] = dto.MidtransNotification{
		OrderID:           orderID,
		TransactionID:     "tx-" + orderID,
		TransactionStatus: transactionStatus,
		StatusCode:        "200",
		GrossAmount:       grossAmount,
		PaymentType:       "bank_transfer",
		TransactionTime:   "2026-10-01 10:00:00",
	}
}

func (g *FakeGateway) SetNotification(n dto.MidtransNotification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[n.OrderID] = n
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (g *FakeGateway) CreateTransaction(_ context.Context, charge dto.GatewayCharge) (*dto.GatewayCheckout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CreateCalls++
	if err := pop(&g.CreateErrs); err != nil {
		return nil, err
	}
	g.Charges = append(g.Charges, charge)
	return &dto.GatewayCheckout{
		Token:       "snap-" + charge.OrderID,
		RedirectURL: "https://app.sandbox.midtrans.com/snap/v4/redirection/snap-" + charge.OrderID,
	}, nil
}

func (g *FakeGateway) CheckStatus(_ context.Context, orderID string) (*dto.MidtransNotification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CheckCalls++
	if err := pop(&g.CheckErrs); err != nil {
		return nil, err
	}
	n, ok := g.statuses[orderID]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", orderID, helper.ErrNotFound)
	}
	return &n, nil
}

func (g *FakeGateway) Cancel(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CancelCalls++
	if err := pop(&g.CancelErrs); err != nil {
		return err
	}
	g.Cancelled = append(g.Cancelled, orderID)
	return nil
}
