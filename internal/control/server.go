package control

import (
	"io"
	"log/slog"

	"github.com/make87/m87-tunnel/internal/mux"
	"github.com/make87/m87-tunnel/internal/token"
	"github.com/make87/m87-tunnel/internal/wire"
)

// AcceptorState models the server-side handshake state machine of spec.md
// §4.2: AwaitHandshake -> (good token) -> Registered -> (transport failure |
// evicted) -> Dead.
type AcceptorState int

const (
	StateAwaitHandshake AcceptorState = iota
	StateRegistered
	StateDead
)

// Acceptor handles inbound control-tunnel connections on the server side.
type Acceptor struct {
	registry *Registry
	secret   []byte
	logger   *slog.Logger
	muxOpts  []mux.Option
}

// NewAcceptor creates a control-channel acceptor backed by registry and
// authorizing tokens signed with secret. muxOpts, if given, override the
// multiplexer's default keep-alive interval/timeout (spec.md §4.1) for
// every session this acceptor registers.
func NewAcceptor(registry *Registry, secret []byte, logger *slog.Logger, muxOpts ...mux.Option) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acceptor{registry: registry, secret: secret, logger: logger, muxOpts: muxOpts}
}

// Accept reads and validates the handshake line on conn, and on success
// upgrades it into a registered multiplexer session. On any handshake
// failure the connection is closed with no response body, so as not to leak
// why (spec.md §4.2). The returned session is nil iff err != nil.
func (a *Acceptor) Accept(conn io.ReadWriteCloser) (*mux.Session, error) {
	state := StateAwaitHandshake

	hs, rest, err := ReadHandshake(conn)
	if err != nil {
		state = StateDead
		conn.Close()
		a.logger.Warn("control handshake unreadable", "err", err)
		return nil, err
	}

	agentID, err := token.Verify(hs.Token, a.secret)
	if err != nil || agentID != hs.AgentID {
		state = StateDead
		conn.Close()
		// deliberately do not log agent_id on failure, to avoid leaking
		// which ids are valid to an attacker probing tokens.
		a.logger.Warn("control handshake auth failed")
		return nil, errAuthFailed
	}

	session := mux.NewSession(wire.NewCodec(rest), mux.RoleServer, a.logger, a.muxOpts...)
	a.registry.Register(agentID, session)
	state = StateRegistered
	a.logger.Info("agent registered", "agent_id", agentID, "state", int(state))

	return session, nil
}

var errAuthFailed = &handshakeError{"control handshake rejected"}

type handshakeError struct{ msg string }

func (e *handshakeError) Error() string { return e.msg }
