// file: internals/features/payment/payments/service/midtrans.go
package service

import (
	"context"
	"fmt"
	"strings"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"kapalku_backend/internals/features/payment/payments/dto"
	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/helpers/resilience"
)

// Gateway is the outbound boundary to the payment processor.
type Gateway interface {
	CreateTransaction(ctx context.Context, charge dto.GatewayCharge) (*dto.GatewayCheckout, error)
	CheckStatus(ctx context.Context, orderID string) (*dto.MidtransNotification, error)
	Cancel(ctx context.Context, orderID string) error
}

var tracer = otel.Tracer("kapalku_backend/payments")

/* =========================================================
   Midtrans Client
========================================================= */

// MidtransGateway routes every call through the "midtrans" breaker; status
// and cancel calls are additionally retried.
type MidtransGateway struct {
	snap    snap.Client
	core    coreapi.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
}

func NewMidtransGateway(serverKey string, useProduction bool, breaker *resilience.CircuitBreaker, retry resilience.RetryPolicy) *MidtransGateway {
	env := midtrans.Sandbox
	if useProduction {
		env = midtrans.Production
	}
	g := &MidtransGateway{breaker: breaker, retry: retry}
	g.snap.New(serverKey, env)
	g.core.New(serverKey, env)
	return g
}

// GatewayError carries the upstream HTTP status so retry allow-lists can match it.
type GatewayError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("midtrans %s: status %d: %s", e.Op, e.Status, e.Message)
}

func (e *GatewayError) Unwrap() error   { return e.Err }
func (e *GatewayError) HTTPStatus() int { return e.Status }

func fromMidtrans(op string, e *midtrans.Error) error {
	if e == nil {
		return nil
	}
	ge := &GatewayError{Op: op, Status: e.StatusCode, Message: e.Message, Err: e.RawError}
	if e.StatusCode == 404 {
		return fmt.Errorf("%s: %w", ge.Error(), helper.ErrNotFound)
	}
	return ge
}

func (g *MidtransGateway) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.breaker.Execute(ctx, fn)
}

func (g *MidtransGateway) CreateTransaction(ctx context.Context, charge dto.GatewayCharge) (*dto.GatewayCheckout, error) {
	ctx, span := tracer.Start(ctx, "midtrans.create_transaction")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", charge.OrderID))

	if charge.GrossAmount <= 0 {
		return nil, fmt.Errorf("invalid gross amount %d: %w", charge.GrossAmount, helper.ErrPermanentFailure)
	}

	req := buildSnapRequest(charge)
	var out *dto.GatewayCheckout
	// not retried: Midtrans rejects a second charge with the same order_id
	err := g.guarded(ctx, func(context.Context) error {
		resp, mErr := g.snap.CreateTransaction(req)
		if mErr != nil {
			return fromMidtrans("create_transaction", mErr)
		}
		out = &dto.GatewayCheckout{Token: resp.Token, RedirectURL: resp.RedirectURL}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (g *MidtransGateway) CheckStatus(ctx context.Context, orderID string) (*dto.MidtransNotification, error) {
	ctx, span := tracer.Start(ctx, "midtrans.check_status")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	var out *dto.MidtransNotification
	err := g.retry.Do(ctx, func(ctx context.Context) error {
		return g.guarded(ctx, func(context.Context) error {
			resp, mErr := g.core.CheckTransaction(orderID)
			if mErr != nil {
				return fromMidtrans("check_status", mErr)
			}
			// status endpoint answers 200 with status_code 404 for unknown orders
			if resp.StatusCode == "404" {
				return fmt.Errorf("midtrans transaction %s: %w", orderID, helper.ErrNotFound)
			}
			out = &dto.MidtransNotification{
				TransactionTime:   resp.TransactionTime,
				TransactionStatus: resp.TransactionStatus,
				StatusCode:        resp.StatusCode,
				SignatureKey:      resp.SignatureKey,
				OrderID:           resp.OrderID,
				GrossAmount:       resp.GrossAmount,
				PaymentType:       resp.PaymentType,
				FraudStatus:       resp.FraudStatus,
				TransactionID:     resp.TransactionID,
				SettlementTime:    resp.SettlementTime,
				Currency:          resp.Currency,
			}
			out.Normalize()
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("transaction_status", out.TransactionStatus))
	return out, nil
}

func (g *MidtransGateway) Cancel(ctx context.Context, orderID string) error {
	ctx, span := tracer.Start(ctx, "midtrans.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	err := g.retry.Do(ctx, func(ctx context.Context) error {
		return g.guarded(ctx, func(context.Context) error {
			_, mErr := g.core.CancelTransaction(orderID)
			return fromMidtrans("cancel", mErr)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

/* =========================================================
   Snap request builder
========================================================= */

func buildSnapRequest(charge dto.GatewayCharge) *snap.Request {
	first, last := splitName(charge.Customer.Name)
	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  charge.OrderID,
			GrossAmt: charge.GrossAmount,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: first,
			LName: last,
			Email: charge.Customer.Email,
			Phone: charge.Customer.Phone,
		},
	}
	if charge.ExpiryHours > 0 {
		req.Expiry = &snap.ExpiryDetails{Unit: "hour", Duration: int64(charge.ExpiryHours)}
	}
	if len(charge.Items) > 0 {
		items := make([]midtrans.ItemDetails, 0, len(charge.Items))
		for _, it := range charge.Items {
			items = append(items, midtrans.ItemDetails{
				ID:       it.ID,
				Name:     truncate(it.Name, 50),
				Price:    it.Price,
				Qty:      it.Qty,
				Category: "FERRY_TICKET",
			})
		}
		req.Items = &items
	}
	return req
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if i := strings.LastIndex(full, " "); i > 0 {
		return full[:i], full[i+1:]
	}
	return full, ""
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
