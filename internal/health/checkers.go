package health

import (
	"context"
	"time"
)

const slowThreshold = 100 * time.Millisecond

// PingChecker checks a dependency through a ping function. It reports
// unhealthy without pinging while the dependency's breaker is open.
type PingChecker struct {
	name        string
	critical    bool
	ping        func(ctx context.Context) error
	breakerOpen func() bool
}

func NewPingChecker(name string, critical bool, ping func(ctx context.Context) error, breakerOpen func() bool) *PingChecker {
	return &PingChecker{name: name, critical: critical, ping: ping, breakerOpen: breakerOpen}
}

func (p *PingChecker) Name() string     { return p.name }
func (p *PingChecker) IsCritical() bool { return p.critical }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Component: p.name, Critical: p.critical}
	if p.breakerOpen != nil && p.breakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		return result
	}

	start := time.Now()
	err := p.ping(ctx)
	result.Duration = time.Since(start)
	result.LatencyMs = result.Duration.Milliseconds()

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	case result.Duration > slowThreshold:
		result.Status = StatusDegraded
	default:
		result.Status = StatusHealthy
	}
	return result
}
