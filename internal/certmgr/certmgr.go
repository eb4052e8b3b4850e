// Package certmgr implements TLS certificate lifecycle management (C9):
// cached-certificate reuse, DNS preflight, ACME DNS-01 issuance with a
// failure cooldown, and a self-signed fallback for non-production runs.
package certmgr

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// renewBefore is how much validity must remain on the cached leaf
	// before certmgr bothers renewing it (spec.md §4.9).
	renewBefore = 10 * 24 * time.Hour
	// failureCooldown bounds how often a failed issuance attempt is
	// retried, to avoid hammering the ACME directory or DNS provider.
	failureCooldown = 12 * time.Hour
)

// Manager owns the relay's serving certificate and keeps it renewed in the
// background. Production is a caller-supplied bool, not an env sniff: the
// decision of "are we production" belongs to config (spec.md §6), not here.
type Manager struct {
	host       string
	certDir    string
	production bool
	preflight  *Preflight
	issuer     *acmeIssuer
	logger     *slog.Logger

	current atomic.Pointer[tls.Certificate]
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New builds a Manager for host, persisting certificate material under
// certDir. When production is false, GetCertificate falls back to a
// locally-generated self-signed leaf instead of driving ACME.
func New(host, certDir, acmeDirectoryURL string, dns DNSUpdater, production bool, opts ...Option) (*Manager, error) {
	issuer, err := newACMEIssuer(acmeDirectoryURL, dns)
	if err != nil {
		return nil, fmt.Errorf("building acme issuer: %w", err)
	}

	m := &Manager{
		host:       host,
		certDir:    certDir,
		production: production,
		preflight:  NewPreflight(""),
		issuer:     issuer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GetCertificate satisfies tls.Config.GetCertificate. It serves the cached
// leaf if still within its validity window and otherwise attempts a
// synchronous renewal (self-signing outside production), falling back to
// the last good cert if renewal fails. With no cached cert to fall back
// on, the renewal error is returned and the handshake fails.
func (m *Manager) GetCertificate(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if cert := m.current.Load(); cert != nil && !m.needsRenewal(cert) {
		return cert, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	cert, err := m.ensure(ctx)
	if err != nil {
		if cached := m.current.Load(); cached != nil {
			m.logger.Warn("certificate renewal failed, serving cached leaf", "err", err)
			return cached, nil
		}
		return nil, err
	}
	return cert, nil
}

func (m *Manager) needsRenewal(cert *tls.Certificate) bool {
	leaf := cert.Leaf
	if leaf == nil {
		return true
	}
	return time.Until(leaf.NotAfter) < renewBefore
}

// ensure loads a cert from disk if still fresh; otherwise it issues and
// persists a new one (outside production it self-signs one, which is not
// written to disk), and caches the result in memory.
func (m *Manager) ensure(ctx context.Context) (*tls.Certificate, error) {
	if cert, err := m.loadFromDisk(); err == nil && !m.needsRenewal(cert) {
		m.current.Store(cert)
		return cert, nil
	}

	if !m.production {
		cert, err := selfSigned(m.host)
		if err != nil {
			return nil, err
		}
		m.current.Store(&cert)
		return &cert, nil
	}

	if until, ok := m.inCooldown(); ok {
		return nil, fmt.Errorf("issuance in cooldown for %s more", until)
	}

	// A missing DNS record is a normal skip condition (spec.md §4.9
	// precondition 1: "skip issuance without error"), not an issuance
	// failure, so it must not arm the 12h cooldown reserved for actual
	// ACME attempts (precondition 2).
	ready, err := m.preflight.Ready(m.host)
	if err != nil {
		return nil, fmt.Errorf("dns preflight: %w", err)
	}
	if !ready {
		return nil, fmt.Errorf("dns preflight not satisfied for %s, skipping issuance", m.host)
	}

	cert, _, err := m.issuer.issue(ctx, m.host)
	if err != nil {
		m.recordFailure()
		return nil, fmt.Errorf("issuing certificate: %w", err)
	}
	leaf, err := parseLeaf(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parsing issued leaf: %w", err)
	}
	cert.Leaf = leaf

	if err := m.persist(cert); err != nil {
		m.logger.Warn("failed to persist issued certificate", "err", err)
	}
	m.clearFailure()
	m.current.Store(&cert)
	return &cert, nil
}

func (m *Manager) certPath() string     { return filepath.Join(m.certDir, "fullchain.pem") }
func (m *Manager) keyPath() string      { return filepath.Join(m.certDir, "privkey.pem") }
func (m *Manager) cooldownPath() string { return filepath.Join(m.certDir, "last_failure") }

func (m *Manager) loadFromDisk() (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(m.certPath(), m.keyPath())
	if err != nil {
		return nil, err
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("empty certificate chain on disk")
	}
	leaf, err := parseLeaf(cert.Certificate[0])
	if err != nil {
		return nil, err
	}
	cert.Leaf = leaf
	return &cert, nil
}

// persist writes the cert and key atomically (write-temp, then rename) so
// a concurrent reader never observes a half-written file.
func (m *Manager) persist(cert tls.Certificate) error {
	if err := os.MkdirAll(m.certDir, 0755); err != nil {
		return err
	}
	if err := atomicWritePEMCert(m.certPath(), cert.Certificate); err != nil {
		return err
	}
	return atomicWritePEMKey(m.keyPath(), cert.PrivateKey)
}

func (m *Manager) inCooldown() (time.Duration, bool) {
	data, err := os.ReadFile(m.cooldownPath())
	if err != nil {
		return 0, false
	}
	unixSec, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false
	}
	elapsed := time.Since(time.Unix(unixSec, 0))
	if elapsed >= failureCooldown {
		return 0, false
	}
	return failureCooldown - elapsed, true
}

func (m *Manager) recordFailure() {
	if err := os.MkdirAll(m.certDir, 0755); err != nil {
		return
	}
	_ = os.WriteFile(m.cooldownPath(), []byte(strconv.FormatInt(time.Now().Unix(), 10)), 0644)
}

func (m *Manager) clearFailure() {
	_ = os.Remove(m.cooldownPath())
}
