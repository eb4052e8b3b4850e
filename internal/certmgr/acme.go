package certmgr

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"golang.org/x/crypto/acme"
)

// DNSUpdater publishes and retracts the _acme-challenge TXT record used to
// satisfy a DNS-01 challenge. Concrete implementations talk to whatever
// DNS provider hosts the zone; this package only needs the two verbs.
type DNSUpdater interface {
	PublishTXT(ctx context.Context, host, value string) error
	CleanupTXT(ctx context.Context, host, value string) error
}

// acmeIssuer drives a DNS-01 order against a Let's Encrypt-shaped ACME
// directory using golang.org/x/crypto/acme.
type acmeIssuer struct {
	client    *acme.Client
	dns       DNSUpdater
	accountKey *ecdsa.PrivateKey
}

func newACMEIssuer(directoryURL string, dns DNSUpdater) (*acmeIssuer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating account key: %w", err)
	}
	return &acmeIssuer{
		client: &acme.Client{
			Key:          key,
			DirectoryURL: directoryURL,
		},
		dns:        dns,
		accountKey: key,
	}, nil
}

// issue runs the full DNS-01 flow for host and returns a ready-to-serve
// leaf certificate plus the time it expires.
func (a *acmeIssuer) issue(ctx context.Context, host string) (tls.Certificate, time.Time, error) {
	if _, err := a.client.Register(ctx, &acme.Account{}, acme.AcceptTOS); err != nil && err != acme.ErrAccountAlreadyExists {
		return tls.Certificate{}, time.Time{}, fmt.Errorf("registering acme account: %w", err)
	}

	authz, err := a.client.AuthorizeOrder(ctx, acme.DomainIDs(host, "*."+host))
	if err != nil {
		return tls.Certificate{}, time.Time{}, fmt.Errorf("authorizing order for %s: %w", host, err)
	}

	for _, authzURL := range authz.AuthzURLs {
		if err := a.satisfyChallenge(ctx, host, authzURL); err != nil {
			return tls.Certificate{}, time.Time{}, err
		}
	}

	order, err := a.client.WaitOrder(ctx, authz.URI)
	if err != nil {
		return tls.Certificate{}, time.Time{}, fmt.Errorf("waiting for order: %w", err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, time.Time{}, fmt.Errorf("generating leaf key: %w", err)
	}
	csr, err := certRequest(leafKey, host)
	if err != nil {
		return tls.Certificate{}, time.Time{}, fmt.Errorf("building csr: %w", err)
	}

	der, _, err := a.client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return tls.Certificate{}, time.Time{}, fmt.Errorf("finalizing order: %w", err)
	}

	leaf, err := x509.ParseCertificate(der[0])
	if err != nil {
		return tls.Certificate{}, time.Time{}, fmt.Errorf("parsing issued certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: der,
		PrivateKey:  leafKey,
	}, leaf.NotAfter, nil
}

func (a *acmeIssuer) satisfyChallenge(ctx context.Context, host, authzURL string) error {
	z, err := a.client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return fmt.Errorf("fetching authorization: %w", err)
	}
	if z.Status == acme.StatusValid {
		return nil
	}

	var chal *acme.Challenge
	for _, c := range z.Challenges {
		if c.Type == "dns-01" {
			chal = c
			break
		}
	}
	if chal == nil {
		return fmt.Errorf("no dns-01 challenge offered for %s", host)
	}

	value, err := a.client.DNS01ChallengeRecord(chal.Token)
	if err != nil {
		return fmt.Errorf("computing dns-01 record: %w", err)
	}

	if err := a.dns.PublishTXT(ctx, host, value); err != nil {
		return fmt.Errorf("publishing challenge txt record: %w", err)
	}
	defer a.dns.CleanupTXT(ctx, host, value)

	if _, err := a.client.Accept(ctx, chal); err != nil {
		return fmt.Errorf("accepting dns-01 challenge: %w", err)
	}
	if _, err := a.client.WaitAuthorization(ctx, authzURL); err != nil {
		return fmt.Errorf("waiting for authorization: %w", err)
	}
	return nil
}

func certRequest(key *ecdsa.PrivateKey, host string) ([]byte, error) {
	tmpl := &x509.CertificateRequest{
		DNSNames: []string{host, "*." + host},
	}
	return x509.CreateCertificateRequest(rand.Reader, tmpl, key)
}
