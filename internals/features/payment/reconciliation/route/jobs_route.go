package route

import (
	"github.com/gofiber/fiber/v2"

	"kapalku_backend/internals/constants"
	jobsController "kapalku_backend/internals/features/payment/reconciliation/controller"
	authMiddleware "kapalku_backend/internals/middlewares/auth"
)

// JobsInternalRoutes mounts under /api/internal; callers need an operator token.
func JobsInternalRoutes(r fiber.Router, ctl *jobsController.JobsController, opsSecret string) {
	internal := r.Group("",
		authMiddleware.OperatorAuth(opsSecret),
		authMiddleware.OnlyRoles(constants.RoleErrorOperator("internal jobs"), constants.OperatorRoles...),
	)

	jobs := internal.Group("/jobs")
	jobs.Post("/recover-stuck", ctl.RecoverStuck)
	jobs.Post("/expire", ctl.ExpireOverdue)
	jobs.Post("/backfill-tickets", ctl.BackfillTickets)
	jobs.Post("/redeliver-events", ctl.RedeliverEvents)
	jobs.Post("/reconcile", ctl.Reconcile)

	internal.Get("/breakers", ctl.BreakerStates)
}
