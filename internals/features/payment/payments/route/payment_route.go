package route

import (
	"github.com/gofiber/fiber/v2"

	paymentController "kapalku_backend/internals/features/payment/payments/controller"
)

/*
Public routes: booking + Midtrans callback
Contoh mount: PaymentPublicRoutes(app.Group("/api"), ctl)
- POST /api/bookings
- GET  /api/payments/:order_id
- GET  /api/payments/:order_id/audit
- POST /api/payments/midtrans/notification
*/
func PaymentPublicRoutes(r fiber.Router, ctl *paymentController.PaymentController) {
	r.Post("/bookings", ctl.CreateBooking)

	pay := r.Group("/payments")
	// webhook dulu, supaya tidak ketangkap :order_id
	pay.Post("/midtrans/notification", ctl.MidtransWebhook)
	pay.Get("/:order_id", ctl.GetPayment)
	pay.Get("/:order_id/audit", ctl.GetAuditTrail)
}
