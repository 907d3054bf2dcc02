// Package whoprobe performs an unauthenticated connectivity check
// against the upstream WHO ICD-11 API. It does not implement the
// OAuth client or any catalog fetch — those remain out of scope; only
// the probe is wired into /health/ready and /admin/who-probe.
package whoprobe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tm2bridge/tm2bridge/internal/config"
)

// Result is the outcome of the most recent probe.
type Result struct {
	Reachable  bool      `json:"reachable"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Prober pings the configured WHO ICD-11 base URL.
type Prober struct {
	baseURL string
	client  *http.Client
}

func New(cfg config.WHOProbeConfig) *Prober {
	return &Prober{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Ping performs a single HEAD request and reports reachability.
func (p *Prober) Ping(ctx context.Context) Result {
	now := time.Now()
	if p.baseURL == "" {
		return Result{Reachable: false, Error: "no WHO API base URL configured", CheckedAt: now}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.baseURL, nil)
	if err != nil {
		return Result{Reachable: false, Error: fmt.Sprintf("build request: %v", err), CheckedAt: now}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Reachable: false, Error: err.Error(), CheckedAt: now}
	}
	defer resp.Body.Close()

	return Result{Reachable: resp.StatusCode < 500, StatusCode: resp.StatusCode, CheckedAt: now}
}
