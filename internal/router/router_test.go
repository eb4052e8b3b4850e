package router

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

type fakeREST struct {
	mu   sync.Mutex
	hits int
}

func (f *fakeREST) Handle(conn net.Conn) {
	f.mu.Lock()
	f.hits++
	f.mu.Unlock()
	conn.Close()
}

type fakeForward struct {
	mu   sync.Mutex
	seen []string
}

func (f *fakeForward) Handle(_ context.Context, conn net.Conn, sniHost string) {
	f.mu.Lock()
	f.seen = append(f.seen, sniHost)
	f.mu.Unlock()
	conn.Close()
}

func newTestRouter(t *testing.T) (*Router, *fakeREST, *fakeForward, chan string) {
	t.Helper()
	cert := generateTestCert(t)

	controlHits := make(chan string, 4)
	rest := &fakeREST{}
	fwd := &fakeForward{}

	r := &Router{
		PublicHost: "tunnel.example.com",
		GetCert: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return &cert, nil
		},
		Control: func(conn io.ReadWriteCloser) error {
			controlHits <- "control"
			conn.Close()
			return nil
		},
		Forward: fwd,
		REST:    rest,
	}
	return r, rest, fwd, controlHits
}

func serveOnLoopback(t *testing.T, r *Router) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Serve(ctx, ln)
	return ln.Addr().String()
}

func dialSNI(t *testing.T, addr, sni string) net.Conn {
	t.Helper()
	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName:         sni,
		InsecureSkipVerify: true,
	})
	if err != nil {
		t.Fatalf("tls dial: %v", err)
	}
	return conn
}

func Test_public_host_routes_to_rest(t *testing.T) {
	r, rest, _, _ := newTestRouter(t)
	addr := serveOnLoopback(t, r)

	conn := dialSNI(t, addr, "tunnel.example.com")
	defer conn.Close()

	waitFor(t, func() bool {
		rest.mu.Lock()
		defer rest.mu.Unlock()
		return rest.hits == 1
	})
}

func Test_control_subdomain_routes_to_control_acceptor(t *testing.T) {
	r, _, _, hits := newTestRouter(t)
	addr := serveOnLoopback(t, r)

	conn := dialSNI(t, addr, "control.tunnel.example.com")
	defer conn.Close()

	select {
	case <-hits:
	case <-time.After(2 * time.Second):
		t.Fatal("control acceptor was not invoked")
	}
}

func Test_label_subdomain_routes_to_forward(t *testing.T) {
	r, _, fwd, _ := newTestRouter(t)
	addr := serveOnLoopback(t, r)

	conn := dialSNI(t, addr, "myapp.tunnel.example.com")
	defer conn.Close()

	waitFor(t, func() bool {
		fwd.mu.Lock()
		defer fwd.mu.Unlock()
		return len(fwd.seen) == 1 && fwd.seen[0] == "myapp.tunnel.example.com"
	})
}

func Test_unrecognized_sni_is_closed(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	addr := serveOnLoopback(t, r)

	conn := dialSNI(t, addr, "evil.example.net")
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to unrecognized sni to be closed")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
