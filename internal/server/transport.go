package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Transport is the serving side of the proxy: it accepts connections on a
// bound listener and hands requests to a handler.
type Transport interface {
	// Serve blocks until the transport is shut down. A clean shutdown
	// returns nil.
	Serve() error
	// Shutdown stops accepting and waits for in-flight requests.
	Shutdown(ctx context.Context) error
	// Close releases the listener of a transport that never served.
	Close() error
	Addr() net.Addr
}

// httpTransport serves HTTP/1.1 over a net.Listener.
type httpTransport struct {
	ln  net.Listener
	srv *http.Server
}

var _ Transport = (*httpTransport)(nil)

func newHTTPTransport(ln net.Listener, handler http.Handler) *httpTransport {
	return &httpTransport{
		ln: ln,
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 30 * time.Second,
		},
	}
}

func (t *httpTransport) Serve() error {
	if err := t.srv.Serve(t.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *httpTransport) Shutdown(ctx context.Context) error {
	return t.srv.Shutdown(ctx)
}

func (t *httpTransport) Close() error {
	return t.ln.Close()
}

func (t *httpTransport) Addr() net.Addr {
	return t.ln.Addr()
}
