// file: internals/route/index.go
package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	paymentController "kapalku_backend/internals/features/payment/payments/controller"
	jobsController "kapalku_backend/internals/features/payment/reconciliation/controller"
	helper "kapalku_backend/internals/helpers"
	routeDetails "kapalku_backend/internals/route/details"
)

var startTime time.Time

// Deps is everything the HTTP layer needs, built once in main.
type Deps struct {
	Ping     func(ctx context.Context) error
	Breakers jobsController.BreakerSource

	Payments  *paymentController.PaymentController
	Jobs      *jobsController.JobsController
	OpsSecret string
}

func SetupRoutes(app *fiber.App, deps Deps) {
	startTime = time.Now()

	helper.Logger.Info("Setting up BaseRoutes...")
	BaseRoutes(app, deps)

	// PUBLIC → booking, status, Midtrans callback
	helper.Logger.Info("Setting up PUBLIC payment routes...")
	api := app.Group("/api")
	routeDetails.PaymentPublicRoutes(api, deps.Payments)

	// INTERNAL → job triggers + breaker snapshot (operator token)
	helper.Logger.Info("Setting up INTERNAL job routes...")
	routeDetails.PaymentInternalRoutes(app.Group("/api/internal"), deps.Jobs, deps.OpsSecret)
}
