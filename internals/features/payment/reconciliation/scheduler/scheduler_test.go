package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recon "kapalku_backend/internals/features/payment/reconciliation/service"
)

type countingJobs struct {
	mu    sync.Mutex
	calls map[string]int
	day   time.Time
}

func (j *countingJobs) hit(name string) (*recon.Report, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.calls == nil {
		j.calls = map[string]int{}
	}
	j.calls[name]++
	if name == recon.JobExpire {
		return nil, errors.New("gateway down")
	}
	return &recon.Report{Job: name}, nil
}

func (j *countingJobs) RecoverStuck(context.Context) (*recon.Report, error) {
	return j.hit(recon.JobRecoverStuck)
}
func (j *countingJobs) ExpireOverdue(context.Context) (*recon.Report, error) {
	return j.hit(recon.JobExpire)
}
func (j *countingJobs) BackfillTickets(context.Context) (*recon.Report, error) {
	return j.hit(recon.JobBackfillTickets)
}
func (j *countingJobs) RedeliverEvents(context.Context) (*recon.Report, error) {
	return j.hit(recon.JobRedeliverEvents)
}
func (j *countingJobs) ReconcileDay(_ context.Context, day time.Time) (*recon.Report, error) {
	j.day = day
	return j.hit(recon.JobReconcile)
}

func TestNewRegistersEveryConfiguredJob(t *testing.T) {
	jobs := &countingJobs{}
	c, err := New(jobs, Specs{
		RecoverStuck:   "*/15 * * * *",
		Expire:         "0 * * * *",
		Reconcile:      "30 0 * * *",
		TicketBackfill:  "*/10 * * * *",
		EventRedelivery: "*/5 * * * *",
	})
	require.NoError(t, err)
	require.Len(t, c.Entries(), 5)

	// run every entry once, errors are logged and swallowed
	for _, e := range c.Entries() {
		e.Job.Run()
	}
	assert.Equal(t, 1, jobs.calls[recon.JobRecoverStuck])
	assert.Equal(t, 1, jobs.calls[recon.JobExpire])
	assert.Equal(t, 1, jobs.calls[recon.JobBackfillTickets])
	assert.Equal(t, 1, jobs.calls[recon.JobReconcile])
	assert.Equal(t, 1, jobs.calls[recon.JobRedeliverEvents])
	assert.Equal(t, time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"), jobs.day.Format("2006-01-02"))
}

func TestNewSkipsEmptySpecs(t *testing.T) {
	c, err := New(&countingJobs{}, Specs{RecoverStuck: "@every 1m"})
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(&countingJobs{}, Specs{Expire: "every hour"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), recon.JobExpire)
}
