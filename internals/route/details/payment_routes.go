// file: internals/route/details/payment_routes.go
package details

import (
	"github.com/gofiber/fiber/v2"

	paymentController "kapalku_backend/internals/features/payment/payments/controller"
	PaymentRoute "kapalku_backend/internals/features/payment/payments/route"
	jobsController "kapalku_backend/internals/features/payment/reconciliation/controller"
	JobsRoute "kapalku_backend/internals/features/payment/reconciliation/route"
	"kapalku_backend/internals/middlewares"
)

func PaymentPublicRoutes(r fiber.Router, ctl *paymentController.PaymentController) {
	// Midtrans bisa burst saat retry, limiter hanya untuk endpoint booking/read
	r.Use("/bookings", middlewares.GlobalRateLimiter())
	PaymentRoute.PaymentPublicRoutes(r, ctl)
}

func PaymentInternalRoutes(r fiber.Router, ctl *jobsController.JobsController, opsSecret string) {
	JobsRoute.JobsInternalRoutes(r, ctl, opsSecret)
}
