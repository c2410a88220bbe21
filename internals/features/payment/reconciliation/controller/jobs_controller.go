package controller

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	recon "kapalku_backend/internals/features/payment/reconciliation/service"
	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/helpers/resilience"
)

type Jobs interface {
	RecoverStuck(ctx context.Context) (*recon.Report, error)
	ExpireOverdue(ctx context.Context) (*recon.Report, error)
	BackfillTickets(ctx context.Context) (*recon.Report, error)
	ReconcileDay(ctx context.Context, day time.Time) (*recon.Report, error)
	RedeliverEvents(ctx context.Context) (*recon.Report, error)
}

type BreakerSource interface {
	Snapshot() []resilience.BreakerSnapshot
}

// JobsController triggers the background sweeps on demand (ops, smoke tests).
type JobsController struct {
	Jobs     Jobs
	Breakers BreakerSource
	now      func() time.Time
}

func NewJobsController(jobs Jobs, breakers BreakerSource) *JobsController {
	return &JobsController{Jobs: jobs, Breakers: breakers, now: time.Now}
}

func (h *JobsController) run(c *fiber.Ctx, job func(ctx context.Context) (*recon.Report, error)) error {
	report, err := job(c.UserContext())
	if err != nil {
		return helper.HandleAppError(c, err)
	}
	return helper.JsonOK(c, report.Job+" selesai", report)
}

// POST /api/internal/jobs/recover-stuck
func (h *JobsController) RecoverStuck(c *fiber.Ctx) error {
	return h.run(c, h.Jobs.RecoverStuck)
}

// POST /api/internal/jobs/expire
func (h *JobsController) ExpireOverdue(c *fiber.Ctx) error {
	return h.run(c, h.Jobs.ExpireOverdue)
}

// POST /api/internal/jobs/backfill-tickets
func (h *JobsController) BackfillTickets(c *fiber.Ctx) error {
	return h.run(c, h.Jobs.BackfillTickets)
}

// POST /api/internal/jobs/redeliver-events
func (h *JobsController) RedeliverEvents(c *fiber.Ctx) error {
	return h.run(c, h.Jobs.RedeliverEvents)
}

// POST /api/internal/jobs/reconcile?date=2026-01-31 (default: kemarin, UTC)
func (h *JobsController) Reconcile(c *fiber.Ctx) error {
	day := h.now().UTC().AddDate(0, 0, -1)
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return helper.JsonError(c, fiber.StatusBadRequest, "date harus format YYYY-MM-DD")
		}
		day = parsed
	}
	return h.run(c, func(ctx context.Context) (*recon.Report, error) {
		return h.Jobs.ReconcileDay(ctx, day)
	})
}

// GET /api/internal/breakers
func (h *JobsController) BreakerStates(c *fiber.Ctx) error {
	return helper.JsonOK(c, "circuit breakers", h.Breakers.Snapshot())
}
