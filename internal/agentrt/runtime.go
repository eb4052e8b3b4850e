package agentrt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/make87/m87-tunnel/internal/control"
	"github.com/make87/m87-tunnel/internal/demux"
	"github.com/make87/m87-tunnel/internal/fsops"
	"github.com/make87/m87-tunnel/internal/hub"
	"github.com/make87/m87-tunnel/internal/logtail"
	"github.com/make87/m87-tunnel/internal/metrics"
	"github.com/make87/m87-tunnel/internal/mux"
	"github.com/make87/m87-tunnel/internal/proxydial"
	"github.com/make87/m87-tunnel/internal/ptyexec"
)

// metricsInterval is how often the METRICS topic's producer samples.
const metricsInterval = 2 * time.Second

// TokenIssuer mints a tunnel token authorizing this agent's next control
// channel open. Its implementation lives outside this spec (the REST
// registration/approval surface, spec.md §1) — Runtime only consumes the
// resulting token, fetching a fresh one before every dial since tokens are
// short-lived (TTL <= 30s, spec.md §3) and must not outlive a single
// connect attempt across the supervisor's reconnect loop.
type TokenIssuer interface {
	IssueTunnelToken(ctx context.Context, agentID, apiKey string) (string, error)
}

// Dialer opens the raw network connection to the relay; satisfied by
// *proxydial.Dialer when a proxy is configured, or a plain net.Dialer
// otherwise.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Runtime assembles one running agent process: the control-channel dial
// (C2 client side), the substream demultiplexer (C5) and its handlers
// (PTY/exec C6, broadcast topics C7, filesystem ops), all bound to cfg.
type Runtime struct {
	cfg    *Config
	tokens TokenIssuer
	dial   Dialer

	logs    *hub.Hub
	metrics *hub.Hub

	Logger *slog.Logger
}

// New builds a Runtime. tokens mints tunnel tokens; if dialer is nil and
// cfg.Proxy.URL is set, a proxydial.Dialer is constructed from it.
func New(cfg *Config, tokens TokenIssuer, dialer Dialer, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dialer == nil && cfg.Proxy.URL != "" {
		pd, err := proxydial.New(cfg.Proxy.URL, cfg.Proxy.Timeout)
		if err != nil {
			return nil, fmt.Errorf("building proxy dialer: %w", err)
		}
		dialer = pd
	}
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	logPath, err := logtail.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("resolving log path: %w", err)
	}
	if cfg.LogPath != "" {
		logPath = cfg.LogPath
	}

	collector := metrics.NewCollector()

	rt := &Runtime{
		cfg:    cfg,
		tokens: tokens,
		dial:   dialer,
		Logger: logger,
	}
	rt.logs = hub.New(logtail.Producer(logPath))
	rt.metrics = hub.New(func(publish func([]byte), stop <-chan struct{}) {
		metricsProducerLoop(collector, publish, stop)
	})
	return rt, nil
}

// Register satisfies supervisor.Supervisor.Register: it confirms a token
// can currently be minted for this agent, standing in for the external
// device-registration handshake (spec.md §1, out of scope here).
func (rt *Runtime) Register(ctx context.Context) error {
	_, err := rt.tokens.IssueTunnelToken(ctx, rt.cfg.Agent.AgentID, rt.cfg.Agent.APIKey)
	return err
}

// RunTunnel satisfies supervisor.Supervisor.RunTunnel: dial the control
// port, hand off to the client-side handshake (C2), then accept and
// demultiplex substreams (C5) until the session ends.
func (rt *Runtime) RunTunnel(ctx context.Context) error {
	token, err := rt.tokens.IssueTunnelToken(ctx, rt.cfg.Agent.AgentID, rt.cfg.Agent.APIKey)
	if err != nil {
		return fmt.Errorf("issuing tunnel token: %w", err)
	}

	addr := fmt.Sprintf("control.%s:%d", rt.cfg.Server.PublicHost, rt.cfg.Server.Port)
	raw, err := rt.dial.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing control port: %w", err)
	}

	tlsConn := tls.Client(raw, &tls.Config{
		ServerName:         "control." + rt.cfg.Server.PublicHost,
		InsecureSkipVerify: rt.cfg.Server.TrustInvalidServerCert,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tlsConn.Close()
		return fmt.Errorf("tls handshake: %w", err)
	}

	var muxOpts []mux.Option
	if rt.cfg.Tunnel.PingInterval > 0 {
		muxOpts = append(muxOpts, mux.WithPingInterval(rt.cfg.Tunnel.PingInterval))
	}
	if rt.cfg.Tunnel.PingTimeout > 0 {
		muxOpts = append(muxOpts, mux.WithPingTimeout(rt.cfg.Tunnel.PingTimeout))
	}

	session, err := control.Dial(tlsConn, rt.cfg.Agent.AgentID, token, rt.Logger, muxOpts...)
	if err != nil {
		return fmt.Errorf("control handshake: %w", err)
	}
	defer session.Close()

	handlers := rt.handlers()
	for {
		stream, err := session.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go demux.Dispatch(ctx, stream, handlers, rt.Logger)
	}
}

func (rt *Runtime) handlers() demux.Handlers {
	return demux.Handlers{
		Forward:  rt.handleForward,
		Exec:     rt.handleExec,
		Terminal: rt.handleTerminal,
		Topic:    rt.handleTopic,
		FS:       rt.handleFS,
	}
}

func (rt *Runtime) handleForward(ctx context.Context, stream demux.Substream, port uint16) {
	defer stream.Close()
	conn, err := demux.DialLocal(ctx, port)
	if err != nil {
		rt.Logger.Warn("forward: local connect failed", "port", port, "err", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(conn, stream); done <- struct{}{} }()
	go func() { io.Copy(stream, conn); done <- struct{}{} }()
	<-done
}

func (rt *Runtime) handleExec(ctx context.Context, stream demux.Substream, cfg demux.ExecConfig) {
	defer stream.Close()
	if cfg.TTY {
		ptyexec.ExecPTY(stream, cfg.Command, "", cfg.Rows, cfg.Cols, rt.Logger)
		return
	}
	ptyexec.ExecPiped(stream, cfg.Command, rt.Logger)
}

func (rt *Runtime) handleTerminal(ctx context.Context, stream demux.Substream, termName string) {
	defer stream.Close()
	ptyexec.Terminal(stream, termName, rt.Logger)
}

func (rt *Runtime) handleTopic(ctx context.Context, stream demux.Substream, topic string) {
	defer stream.Close()

	var h *hub.Hub
	switch topic {
	case "LOGS":
		h = rt.logs
	case "METRICS":
		h = rt.metrics
	default:
		return
	}

	sub := h.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if _, err := stream.Write(msg); err != nil {
				return
			}
		case err, ok := <-sub.Err():
			if ok {
				rt.Logger.Debug("topic subscriber dropped", "topic", topic, "err", err)
			}
			return
		}
	}
}

func (rt *Runtime) handleFS(ctx context.Context, stream demux.Substream, verb, argsJSON string) {
	defer stream.Close()
	if err := fsops.Run(stream, verb, argsJSON); err != nil {
		rt.Logger.Warn("fs op failed to write result", "verb", verb, "err", err)
	}
}

func metricsProducerLoop(c *metrics.Collector, publish func([]byte), stop <-chan struct{}) {
	t := time.NewTicker(metricsInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			line, err := metrics.MarshalLine(c.Next())
			if err != nil {
				continue
			}
			publish(line)
		}
	}
}
