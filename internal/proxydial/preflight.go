package proxydial

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Preflight checks that the relay's control address is actually reachable
// through the configured dialer before the supervisor commits to a retry
// loop against it — a fast, explicit signal rather than relying on the
// ordinary connect-and-retry path to eventually notice a dead proxy.
type Preflight struct {
	dialer  *Dialer
	timeout time.Duration
}

// NewPreflight builds a reachability checker that dials through dialer;
// the relay address ("host:port") is passed to each check.
func NewPreflight(dialer *Dialer, timeout time.Duration) *Preflight {
	return &Preflight{dialer: dialer, timeout: timeout}
}

// CheckReachable dials relayAddr through the proxy and closes the
// connection immediately; it never sends the control handshake.
func (p *Preflight) CheckReachable(ctx context.Context, relayAddr string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", relayAddr)
	if err != nil {
		return fmt.Errorf("relay unreachable through proxy: %w", err)
	}
	conn.Close()
	return nil
}

// StartPeriodicCheck runs CheckReachable at interval until stopped or a
// check fails, at which point it reports the failure once and exits.
func StartPeriodicCheck(p *Preflight, relayAddr string, interval time.Duration) (stop func(), failed <-chan error) {
	done := make(chan struct{})
	errCh := make(chan error, 1)
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.CheckReachable(context.Background(), relayAddr); err != nil {
					slog.Warn("periodic proxy reachability check failed", "err", err)
					select {
					case errCh <- err:
					default:
					}
					return
				}
				slog.Debug("periodic proxy reachability check passed")
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, errCh
}
