package session

import (
	"context"
	"log"
	"time"
)

// Reaper expires idle and over-age sessions. It is the sole mechanism that
// reclaims resources from abandoned connections (e.g. a client that crashed
// before a clean close).
type Reaper struct {
	reg *Registry
}

func NewReaper(reg *Registry) *Reaper {
	return &Reaper{reg: reg}
}

// Sweep terminates every session that is idle past the configured timeout,
// past its absolute expiry, or whose execution handle has died. Returns the
// number of sessions reaped.
func (r *Reaper) Sweep(ctx context.Context) int {
	now := time.Now()
	idle := r.reg.cfg.IdleTimeout
	reaped := 0

	for _, s := range r.reg.ListAll() {
		var reason string
		switch {
		case s.Ended():
			reason = "process exited"
		case idle > 0 && now.Sub(s.LastActivity()) > idle:
			reason = "idle timeout"
		case r.reg.cfg.MaxAge > 0 && now.After(s.ExpiresAt):
			reason = "session expired"
		default:
			continue
		}
		if r.reg.Terminate(ctx, s.ID, reason) {
			log.Printf("[reaper] reaped session %s: %s", s.ID, reason)
			reaped++
		}
	}
	return reaped
}
