package service

import (
	"sync"
	"time"
)

type Mismatch struct {
	OrderID       string `json:"order_id"`
	LocalStatus   string `json:"local_status"`
	GatewayStatus string `json:"gateway_status"`
	Note          string `json:"note,omitempty"`
}

// Report summarises one sweep run.
type Report struct {
	Job        string     `json:"job"`
	Scanned    int        `json:"scanned"`
	Corrected  int        `json:"corrected"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Mismatches []Mismatch `json:"mismatches"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`

	mu sync.Mutex
}

func newReport(job string, now time.Time) *Report {
	return &Report{Job: job, StartedAt: now, Mismatches: []Mismatch{}}
}

func (r *Report) corrected() { r.mu.Lock(); r.Corrected++; r.mu.Unlock() }
func (r *Report) skipped()   { r.mu.Lock(); r.Skipped++; r.mu.Unlock() }
func (r *Report) failed()    { r.mu.Lock(); r.Failed++; r.mu.Unlock() }

func (r *Report) mismatch(m Mismatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Mismatches = append(r.Mismatches, m)
}
