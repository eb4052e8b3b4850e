package forward

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/make87/m87-tunnel/internal/mux"
)

// SessionSource resolves an agent's live control-channel session. It is
// satisfied by *internal/control.Registry.
type SessionSource interface {
	Get(agentID string) (*mux.Session, bool)
}

// Proxy serves forwarded connections: resolve the SNI host against the
// registry, enforce the ACL, open a substream on the agent's session,
// write the port header, then copy bytes bidirectionally (spec.md §4.4).
type Proxy struct {
	Registry *Registry
	Sessions SessionSource
	Logger   *slog.Logger
}

// Handle implements router.ForwardHandler.
func (p *Proxy) Handle(ctx context.Context, conn net.Conn, sniHost string) {
	defer conn.Close()

	mapping, ok := p.Registry.Lookup(sniHost)
	if !ok {
		p.logger().Debug("forward not found", "sni", sniHost)
		return
	}

	srcIP := sourceIP(conn)
	if !mapping.permits(srcIP) {
		p.logger().Info("forward blocked by acl", "sni", sniHost, "source", srcIP)
		return
	}

	session, ok := p.Sessions.Get(mapping.AgentID)
	if !ok {
		p.logger().Debug("forward target has no live session", "sni", sniHost, "agent_id", mapping.AgentID)
		return
	}

	stream, err := session.OpenStream(ctx)
	if err != nil {
		p.logger().Warn("opening forward substream failed", "sni", sniHost, "err", err)
		return
	}
	defer stream.Close()

	header := strconv.FormatUint(uint64(mapping.TargetPort), 10) + "\n"
	if _, err := io.WriteString(stream, header); err != nil {
		p.logger().Warn("writing forward header failed", "sni", sniHost, "err", err)
		return
	}

	pipe(conn, stream)
}

// pipe copies bytes in both directions until either side is done, mirroring
// the teacher's tunnel-copy pattern of two goroutines plus a done channel.
func pipe(a, b io.ReadWriteCloser) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	<-done
}

func sourceIP(conn net.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func (p *Proxy) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
