// Package router implements the single public TLS listener that dispatches
// connections by SNI (C3): the relay's public host routes to the loopback
// REST/admin API, control.<public-host> routes to the control channel
// acceptor, and any other label routes to the forward proxy.
package router

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// handshakeTimeout bounds how long a single TLS handshake may take before
// the connection is abandoned (spec.md §4.3).
const handshakeTimeout = 10 * time.Second

// ControlAcceptorFunc accepts an already-established TLS connection destined
// for the control channel and drives the handshake/registration handoff.
// It is a func rather than an interface because internal/control.Acceptor
// returns a concrete *mux.Session the router has no use for; callers adapt
// with a closure that discards it (see internal/relayserver).
type ControlAcceptorFunc func(conn io.ReadWriteCloser) error

// ForwardHandler serves a single forwarded connection once its SNI has
// been resolved to a registered tunnel.
type ForwardHandler interface {
	Handle(ctx context.Context, conn net.Conn, sniHost string)
}

// RESTHandler serves connections addressed to the bare public host.
type RESTHandler interface {
	Handle(conn net.Conn)
}

// Router owns the public listener and the SNI dispatch table.
type Router struct {
	PublicHost string
	GetCert    func(*tls.ClientHelloInfo) (*tls.Certificate, error)

	Control  ControlAcceptorFunc
	Forward  ForwardHandler
	REST     RESTHandler

	Logger *slog.Logger
}

// Serve accepts connections from ln until it returns an error (typically
// because ln was closed during shutdown).
func (r *Router) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go r.handle(ctx, conn)
	}
}

func (r *Router) handle(ctx context.Context, conn net.Conn) {
	tlsConn := tls.Server(conn, &tls.Config{
		GetCertificate: r.GetCert,
		MinVersion:     tls.VersionTLS12,
	})

	tlsConn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		r.logger().Debug("tls handshake failed", "remote", conn.RemoteAddr(), "err", err)
		tlsConn.Close()
		return
	}
	tlsConn.SetDeadline(time.Time{})

	sni := strings.ToLower(tlsConn.ConnectionState().ServerName)
	switch {
	case sni == "":
		tlsConn.Close()
	case sni == r.PublicHost:
		r.REST.Handle(tlsConn)
	case sni == "control."+r.PublicHost:
		if err := r.Control(tlsConn); err != nil {
			r.logger().Warn("control accept failed", "remote", conn.RemoteAddr(), "err", err)
		}
	case strings.HasSuffix(sni, "."+r.PublicHost):
		r.Forward.Handle(ctx, tlsConn, sni)
	default:
		r.logger().Debug("unrecognized sni, closing", "sni", sni)
		tlsConn.Close()
	}
}

func (r *Router) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
