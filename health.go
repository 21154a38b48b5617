package tilewire

import (
	"fmt"
	"time"

	"github.com/tilewire-dev/tilewire/pkg/connection"
)

// ServiceHealth is the health verdict for one underlying service.
type ServiceHealth struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Health aggregates the client's service health checks.
type Health struct {
	State        string                   `json:"state"`
	Healthy      bool                     `json:"healthy"`
	Services     map[string]ServiceHealth `json:"services"`
	RecentErrors int                      `json:"recent_errors"`
	CheckedAt    time.Time                `json:"checked_at"`
}

// Health runs the aggregated health check across connection, game state,
// and recovery.
func (c *Client) Health() Health {
	c.mu.Lock()
	state := c.state
	room := c.activeRoom
	c.mu.Unlock()

	now := c.clock.Now()
	h := Health{
		State:     state.String(),
		Services:  make(map[string]ServiceHealth, 3),
		CheckedAt: now,
	}
	if state != StateReady {
		h.Services["client"] = ServiceHealth{Healthy: false, Detail: "not ready"}
		return h
	}

	h.Services["connection"] = c.connectionHealth(room)
	h.Services["gamestate"] = c.gamestateHealth()
	h.Services["recovery"] = c.recoveryHealth(room)
	h.RecentErrors = c.errs.countSince(now.Add(-c.cfg.AlarmWindow))

	h.Healthy = true
	for _, s := range h.Services {
		if !s.Healthy {
			h.Healthy = false
			break
		}
	}
	return h
}

func (c *Client) connectionHealth(room string) ServiceHealth {
	if room == "" {
		return ServiceHealth{Healthy: true, Detail: "idle"}
	}
	info, ok := c.conn.Info(room)
	if !ok {
		return ServiceHealth{Healthy: false, Detail: "no connection record"}
	}
	if info.Status != connection.StatusConnected {
		return ServiceHealth{Healthy: false, Detail: info.Status.String()}
	}
	return ServiceHealth{Healthy: true, Detail: fmt.Sprintf("latency %s", info.Latency)}
}

func (c *Client) gamestateHealth() ServiceHealth {
	s := c.store.GetState()
	if s.Error != "" {
		return ServiceHealth{Healthy: false, Detail: s.Error}
	}
	return ServiceHealth{Healthy: true, Detail: string(s.Phase)}
}

func (c *Client) recoveryHealth(room string) ServiceHealth {
	if room == "" {
		return ServiceHealth{Healthy: true, Detail: "idle"}
	}
	gaps := c.coord.Gaps(room)
	if len(gaps) > 0 {
		detail := fmt.Sprintf("%d gap(s) outstanding", len(gaps))
		if c.coord.Recovering(room) {
			detail += ", recovery in flight"
		}
		return ServiceHealth{Healthy: false, Detail: detail}
	}
	return ServiceHealth{Healthy: true}
}

// healthLoop re-runs the health check on a fixed cadence and keeps the
// unhealthy gauge current.
func (c *Client) healthLoop(done <-chan struct{}) {
	ticker := c.clock.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			h := c.Health()
			if h.Healthy {
				c.met.healthUnhealthy.Set(0)
			} else {
				c.met.healthUnhealthy.Set(1)
				c.log.Warn().Interface("health", h.Services).Msg("health check failed")
				if c.cfg.RecoverOnUnhealthy {
					c.mu.Lock()
					room := c.activeRoom
					c.mu.Unlock()
					if room != "" && len(c.coord.Gaps(room)) > 0 {
						c.coord.StartRecovery(room)
					}
				}
			}
		}
	}
}
