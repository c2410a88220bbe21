// file: internals/features/payment/payments/controller/payment_controller.go
package controller

import (
	"context"
	"errors"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"kapalku_backend/internals/features/payment/payments/dto"
	model "kapalku_backend/internals/features/payment/payments/model"
	svc "kapalku_backend/internals/features/payment/payments/service"
	helper "kapalku_backend/internals/helpers"
)

/* =======================================================================
   Collaborators
======================================================================= */

type WebhookProcessor interface {
	Process(ctx context.Context, in svc.ProcessInput) (*svc.ProcessResult, error)
}

type SignatureVerifier interface {
	Verify(body []byte, signature, timestamp string, n *dto.MidtransNotification) error
}

type BookingFlow interface {
	Create(ctx context.Context, req dto.CreateBookingRequest) (*dto.CreateBookingResponse, error)
	GetPayment(ctx context.Context, orderID string) (*dto.PaymentStatusResponse, error)
	AuditTrail(ctx context.Context, orderID string) ([]model.PaymentAuditLog, error)
}

/* =======================================================================
   Controller
======================================================================= */

type PaymentController struct {
	Processor WebhookProcessor
	Verifier  SignatureVerifier
	Bookings  BookingFlow
	Validator *validator.Validate
}

func NewPaymentController(processor WebhookProcessor, verifier SignatureVerifier, bookings BookingFlow) *PaymentController {
	return &PaymentController{
		Processor: processor,
		Verifier:  verifier,
		Bookings:  bookings,
		Validator: validator.New(),
	}
}

/* =======================================================================
   Webhook: POST /api/payments/midtrans/notification
======================================================================= */

func (h *PaymentController) MidtransWebhook(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer after the handler returns
	body := append([]byte(nil), c.Body()...)

	// 1) Parse payload
	var notif dto.MidtransNotification
	if err := sonic.Unmarshal(body, &notif); err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.Validator.Struct(&notif); err != nil {
		return helper.ValidationError(c, err)
	}

	// 2) Verify header HMAC + body signature_key; nothing is read before this
	if err := h.Verifier.Verify(body, c.Get(svc.HeaderSignature), c.Get(svc.HeaderTimestamp), &notif); err != nil {
		return helper.JsonError(c, fiber.StatusUnauthorized, "invalid signature")
	}

	// 3) Lock → idempotency → map → validate → commit → tickets → events
	res, err := h.Processor.Process(c.UserContext(), svc.ProcessInput{
		Notification: notif,
		Raw:          body,
		Actor:        model.ActorWebhook,
	})
	if err != nil {
		helper.Logger.WithError(err).WithFields(logrus.Fields{
			"order_id":           notif.OrderID,
			"transaction_status": notif.TransactionStatus,
		}).Error("webhook processing failed, sender will retry")
		if errors.Is(err, helper.ErrDependencyUnavailable) {
			return helper.JsonErrorCode(c, fiber.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", "temporarily unavailable")
		}
		return helper.JsonError(c, fiber.StatusInternalServerError, "processing failed")
	}

	// Balas 200 agar Midtrans tidak retry terus
	if res.Reason == "payment_not_found" {
		return c.JSON(fiber.Map{"status": "ignored", "reason": "payment not found"})
	}
	return c.JSON(fiber.Map{
		"status":         "ok",
		"order_id":       res.OrderID,
		"outcome":        res.Outcome,
		"reason":         res.Reason,
		"payment_status": res.PaymentStatus,
		"booking_status": res.BookingStatus,
	})
}

/* =======================================================================
   Booking + read side
======================================================================= */

// POST /api/bookings
func (h *PaymentController) CreateBooking(c *fiber.Ctx) error {
	var req dto.CreateBookingRequest
	if err := c.BodyParser(&req); err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "invalid json: "+err.Error())
	}
	req.Customer.Email = strings.TrimSpace(req.Customer.Email)
	if err := h.Validator.Struct(&req); err != nil {
		return helper.ValidationError(c, err)
	}

	out, err := h.Bookings.Create(c.UserContext(), req)
	if err != nil {
		return helper.HandleAppError(c, err)
	}
	return helper.JsonCreated(c, "booking created", out)
}

// GET /api/payments/:order_id
func (h *PaymentController) GetPayment(c *fiber.Ctx) error {
	orderID := strings.TrimSpace(c.Params("order_id"))
	if orderID == "" {
		return helper.JsonError(c, fiber.StatusBadRequest, "order_id wajib diisi")
	}
	out, err := h.Bookings.GetPayment(c.UserContext(), orderID)
	if err != nil {
		return helper.HandleAppError(c, err)
	}
	return helper.JsonOK(c, "payment detail", out)
}

// GET /api/payments/:order_id/audit?page=1&per_page=50&order=asc
func (h *PaymentController) GetAuditTrail(c *fiber.Ctx) error {
	orderID := strings.TrimSpace(c.Params("order_id"))
	trail, err := h.Bookings.AuditTrail(c.UserContext(), orderID)
	if err != nil {
		return helper.HandleAppError(c, err)
	}

	p := helper.ParseFiber(c, "asc", helper.AuditOpts)
	items, meta := helper.PageOf(trail, p)
	return helper.JsonOK(c, "audit trail", fiber.Map{
		"items":      items,
		"pagination": meta,
	})
}
