// Package proxy maintains the scored proxy pool and its ingestion sources.
package proxy

import (
	"time"
)

// Status describes a proxy's lifecycle state.
type Status string

const (
	StatusUntested Status = "untested"
	StatusActive   Status = "active"
	StatusSlow     Status = "slow"
	StatusFailed   Status = "failed"
)

// Score bounds and feedback deltas. Scores live on a 0-10 scale; a fresh
// proxy starts in the middle and earns or loses trust from there.
const (
	initialScore = 5.0
	minScoreVal  = 0.0
	maxScoreVal  = 10.0

	usageSuccessDelta = 0.1
	usageFailureDelta = -0.5

	healthOKDelta      = 0.2
	healthHTTPDelta    = -0.5
	healthConnDelta    = -1.0
	healthOtherDelta   = -0.7
	slowResponseMillis = 5000
)

// DomainOutcome tracks per-domain success history for a proxy.
type DomainOutcome struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// SuccessRate returns the fraction of successful uses, or -1 when untested.
func (d DomainOutcome) SuccessRate() float64 {
	total := d.Success + d.Failure
	if total == 0 {
		return -1
	}
	return float64(d.Success) / float64(total)
}

// Record is one proxy with its scoring and usage history.
type Record struct {
	URL             string                   `json:"url"`
	Source          string                   `json:"source"`
	Score           float64                  `json:"score"`
	Status          Status                   `json:"status"`
	SuccessCount    int                      `json:"success_count"`
	FailureCount    int                      `json:"failure_count"`
	AvgResponseMS   float64                  `json:"avg_response_ms"`
	LastChecked     time.Time                `json:"last_checked"`
	LastUsed        time.Time                `json:"last_used"`
	Domains         map[string]DomainOutcome `json:"domains,omitempty"`
	ConsecutiveFail int                      `json:"consecutive_fail"`
}

func newRecord(url, source string) *Record {
	return &Record{
		URL:     url,
		Source:  source,
		Score:   initialScore,
		Status:  StatusUntested,
		Domains: make(map[string]DomainOutcome),
	}
}

func (r *Record) adjustScore(delta float64) {
	r.Score += delta
	if r.Score < minScoreVal {
		r.Score = minScoreVal
	}
	if r.Score > maxScoreVal {
		r.Score = maxScoreVal
	}
}

// observeResponseTime blends a new sample into the running average.
func (r *Record) observeResponseTime(ms float64) {
	if r.AvgResponseMS == 0 {
		r.AvgResponseMS = ms
		return
	}
	r.AvgResponseMS = 0.7*r.AvgResponseMS + 0.3*ms
}

// refreshStatus recomputes Status from score and latency.
func (r *Record) refreshStatus(minScore float64) {
	switch {
	case r.Score < minScore:
		r.Status = StatusFailed
	case r.AvgResponseMS > slowResponseMillis:
		r.Status = StatusSlow
	default:
		r.Status = StatusActive
	}
}

func (r *Record) domainSuccessRate(domain string) float64 {
	return r.Domains[domain].SuccessRate()
}
