package control

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/make87/m87-tunnel/internal/mux"
	"github.com/make87/m87-tunnel/internal/wire"
)

// Dial sends the handshake line on conn and upgrades it into a client-role
// multiplexer session. conn is expected to already be a live TLS connection
// to control.<public-host>:<unified-port> (spec.md §4.2); dialing that
// connection is the caller's responsibility (see internal/agentrt), so this
// function can be exercised against a net.Pipe in tests.
func Dial(conn io.ReadWriteCloser, agentID, tunnelToken string, logger *slog.Logger, muxOpts ...mux.Option) (*mux.Session, error) {
	line := EncodeHandshake(Handshake{AgentID: agentID, Token: tunnelToken})
	if _, err := io.WriteString(conn, line); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing handshake: %w", err)
	}
	return mux.NewSession(wire.NewCodec(conn), mux.RoleClient, logger, muxOpts...), nil
}
