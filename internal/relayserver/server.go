package relayserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/make87/m87-tunnel/internal/adminapi"
	"github.com/make87/m87-tunnel/internal/certmgr"
	"github.com/make87/m87-tunnel/internal/control"
	"github.com/make87/m87-tunnel/internal/forward"
	"github.com/make87/m87-tunnel/internal/hub"
	"github.com/make87/m87-tunnel/internal/mux"
	"github.com/make87/m87-tunnel/internal/router"
)

// adminEvent is the JSON shape published to the admin API's /events
// websocket (internal/adminapi) whenever an agent registers or a forward
// mapping changes.
type adminEvent struct {
	Type       string `json:"type"`
	AgentID    string `json:"agent_id,omitempty"`
	SNIHost    string `json:"sni_host,omitempty"`
	TargetPort uint16 `json:"target_port,omitempty"`
}

func publishEvent(events *hub.Hub, logger *slog.Logger, ev adminEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("failed to marshal admin event", "err", err)
		return
	}
	events.Publish(msg)
}

// Server assembles the relay's public TLS listener (C3), control channel
// acceptor and session registry (C2), forward registry and proxy (C4),
// certificate manager (C9) and admin API into one running process.
type Server struct {
	cfg *Config

	registry  *control.Registry
	acceptor  *control.Acceptor
	forwards  *forward.Registry
	proxy     *forward.Proxy
	certs     *certmgr.Manager
	events    *hub.Hub
	admin     *adminapi.Server
	adminAddr string

	logger *slog.Logger
}

// New assembles a Server from cfg. dns is optional and only consulted when
// cfg.TLS.Production is true (ACME DNS-01 issuance, C9); nil is valid for
// non-production deployments, which fall back to a self-signed cert.
func New(cfg *Config, dns certmgr.DNSUpdater, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var muxOpts []mux.Option
	if cfg.Tunnel.PingInterval > 0 {
		muxOpts = append(muxOpts, mux.WithPingInterval(cfg.Tunnel.PingInterval))
	}
	if cfg.Tunnel.PingTimeout > 0 {
		muxOpts = append(muxOpts, mux.WithPingTimeout(cfg.Tunnel.PingTimeout))
	}

	registry := control.NewRegistry()
	acceptor := control.NewAcceptor(registry, []byte(cfg.Auth.SharedSecret), logger, muxOpts...)

	forwards := forward.NewRegistry()
	proxy := &forward.Proxy{Registry: forwards, Sessions: registry, Logger: logger}

	certs, err := certmgr.New(cfg.Listen.PublicHost, cfg.CertDir, cfg.TLS.ACMEDirector, dns, cfg.TLS.Production,
		certmgr.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	// The admin-events hub has no producer of its own: events arrive from
	// control-session registration and forward-registry mutations, which
	// call events.Publish directly whenever they happen (see OnRegister
	// below and eventingForwardRegistrar).
	events := hub.New(func(publish func([]byte), stop <-chan struct{}) { <-stop })

	registry.OnRegister = func(agentID string) {
		publishEvent(events, logger, adminEvent{Type: "agent_connect", AgentID: agentID})
	}

	s := &Server{
		cfg:       cfg,
		registry:  registry,
		acceptor:  acceptor,
		forwards:  forwards,
		proxy:     proxy,
		certs:     certs,
		events:    events,
		adminAddr: cfg.Admin.Addr,
		logger:    logger,
	}
	s.admin = adminapi.New(s, &eventingForwardRegistrar{registry: forwards, events: events, logger: logger}, events, logger)
	return s, nil
}

// eventingForwardRegistrar wraps forward.Registry so every mutation made
// through the admin API also publishes a forward-registration event,
// satisfying adminapi.ForwardRegistrar.
type eventingForwardRegistrar struct {
	registry *forward.Registry
	events   *hub.Hub
	logger   *slog.Logger
}

func (e *eventingForwardRegistrar) Upsert(sniHost string, m forward.Mapping) {
	e.registry.Upsert(sniHost, m)
	publishEvent(e.events, e.logger, adminEvent{
		Type:       "forward_registered",
		AgentID:    m.AgentID,
		SNIHost:    sniHost,
		TargetPort: m.TargetPort,
	})
}

func (e *eventingForwardRegistrar) Remove(sniHost string) {
	e.registry.Remove(sniHost)
	publishEvent(e.events, e.logger, adminEvent{Type: "forward_removed", SNIHost: sniHost})
}

// AgentCount satisfies adminapi.StatusSource.
func (s *Server) AgentCount() int { return s.registry.Size() }

// ForwardCount satisfies adminapi.StatusSource.
func (s *Server) ForwardCount() int { return s.forwards.Size() }

// Run binds the admin loopback listener and the public TLS listener and
// serves both until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	adminLn, err := net.Listen("tcp", s.adminAddr)
	if err != nil {
		return err
	}
	defer adminLn.Close()

	adminSrv := &http.Server{Handler: s.admin.Mux()}
	go func() {
		<-ctx.Done()
		adminSrv.Close()
	}()
	go func() {
		if err := adminSrv.Serve(adminLn); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("admin server stopped", "err", err)
		}
	}()

	publicLn, err := net.Listen("tcp", s.cfg.Listen.Addr)
	if err != nil {
		return err
	}
	defer publicLn.Close()

	r := &router.Router{
		PublicHost: s.cfg.Listen.PublicHost,
		GetCert:    s.certs.GetCertificate,
		Control: func(conn io.ReadWriteCloser) error {
			_, err := s.acceptor.Accept(conn)
			return err
		},
		Forward: s.proxy,
		REST:    &loopbackProxyREST{addr: s.adminAddr, logger: s.logger},
		Logger:  s.logger,
	}

	go func() {
		<-ctx.Done()
		publicLn.Close()
	}()

	return r.Serve(ctx, publicLn)
}

// loopbackProxyREST satisfies router.RESTHandler by splicing the public-host
// TLS connection to the admin API's loopback HTTP listener, so the admin
// surface is reachable both directly on loopback and through the router's
// bare-public-host SNI route, while the admin server itself never binds
// anything but loopback.
type loopbackProxyREST struct {
	addr   string
	logger *slog.Logger
}

func (h *loopbackProxyREST) Handle(conn net.Conn) {
	backend, err := net.DialTimeout("tcp", h.addr, 5*time.Second)
	if err != nil {
		h.logger.Warn("admin loopback dial failed", "err", err)
		conn.Close()
		return
	}

	done := make(chan struct{}, 2)
	go func() { io.Copy(backend, conn); backend.(*net.TCPConn).CloseWrite(); done <- struct{}{} }()
	go func() { io.Copy(conn, backend); done <- struct{}{} }()
	<-done
	<-done
	conn.Close()
	backend.Close()
}
