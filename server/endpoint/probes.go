// Package endpoint serves the probe endpoints every stepflow server exposes.
package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/stepflow/component"
)

const (
	PathHealth = "/health"
	PathAlive  = "/alive"
	PathReady  = "/ready"
)

// Paths lists the probe routes.
var Paths = []string{PathHealth, PathAlive, PathReady}

// HealthChecker returns health status for registered components.
type HealthChecker func(ctx context.Context) []component.Health

type report struct {
	Status     string             `json:"status"`
	Service    string             `json:"service"`
	Timestamp  string             `json:"timestamp"`
	Uptime     string             `json:"uptime,omitempty"`
	Components []component.Health `json:"components,omitempty"`
	Failing    []string           `json:"failing,omitempty"`
}

// Probes answers liveness, readiness and health requests for one service.
type Probes struct {
	service string
	check   HealthChecker
	started time.Time
	now     func() time.Time
}

// NewProbes creates Probes. A nil check reports no components.
func NewProbes(service string, check HealthChecker) *Probes {
	if check == nil {
		check = func(context.Context) []component.Health { return nil }
	}
	return &Probes{service: service, check: check, started: time.Now(), now: time.Now}
}

// Register mounts the probes on r.
func (p *Probes) Register(r gin.IRoutes) {
	r.GET(PathHealth, p.Health)
	r.GET(PathAlive, p.Alive)
	r.GET(PathReady, p.Ready)
}

func (p *Probes) report(status string) report {
	now := p.now()
	return report{Status: status, Service: p.service, Timestamp: now.UTC().Format(time.RFC3339)}
}

// Health lists every component. Only an unhealthy component turns the
// answer into a 503; degraded still serves 200.
func (p *Probes) Health(c *gin.Context) {
	components := p.check(c.Request.Context())
	overall := component.Overall(components)

	r := p.report(string(overall))
	r.Uptime = p.now().Sub(p.started).Round(time.Second).String()
	r.Components = components
	c.JSON(codeFor(overall), r)
}

// Alive confirms the process serves HTTP, whatever its components say.
func (p *Probes) Alive(c *gin.Context) {
	c.JSON(http.StatusOK, p.report("alive"))
}

// Ready answers not_ready, naming the culprits, while any component is
// unhealthy.
func (p *Probes) Ready(c *gin.Context) {
	var failing []string
	for _, h := range p.check(c.Request.Context()) {
		if h.Status == component.StatusUnhealthy {
			failing = append(failing, h.Name)
		}
	}
	if len(failing) == 0 {
		c.JSON(http.StatusOK, p.report("ready"))
		return
	}
	r := p.report("not_ready")
	r.Failing = failing
	c.JSON(http.StatusServiceUnavailable, r)
}

func codeFor(s component.HealthStatus) int {
	if s == component.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
