package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/mudscribe/mudscribe/pkg/logger"
)

func validateSchedule(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid keepalive schedule %q", expr)
	}
	return nil
}

// nextKeepalive returns when the schedule fires next after ref.
func nextKeepalive(expr string, ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, ref, false)
}

// runKeepalive sends the idle command on schedule while the game is
// connected, so the server does not log an idle player out.
func (r *Relay) runKeepalive(ctx context.Context) {
	command := r.cfg.Keepalive.Command

	for {
		next, err := r.keepaliveNext(time.Now())
		if err != nil {
			logger.ErrorCF("relay", "Keepalive schedule stopped", map[string]any{"error": err.Error()})
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if !r.IsConnected() {
			continue
		}
		if err := r.sendToGame(command); err != nil {
			logger.WarnCF("relay", "Keepalive not sent", map[string]any{"error": err.Error()})
			continue
		}
		logger.DebugCF("relay", "Keepalive sent", map[string]any{"command": command})
	}
}
