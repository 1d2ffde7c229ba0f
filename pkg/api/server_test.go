package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/goclaw/simnet/pkg/logger"
)

func TestNewHTTPServer(t *testing.T) {
	stack := newTestStack(t)
	stack.cfg.Server.Port = 8080
	stack.cfg.Server.HTTP.MaxHeaderBytes = 4096

	server := NewHTTPServer(stack.cfg, logger.NewNop(), stack.handlers)
	if server.server == nil || server.router == nil {
		t.Fatal("server not initialized")
	}
	if server.server.Addr != "127.0.0.1:8080" {
		t.Errorf("addr = %q", server.server.Addr)
	}
	if server.server.MaxHeaderBytes != 4096 {
		t.Errorf("MaxHeaderBytes = %d", server.server.MaxHeaderBytes)
	}
	if server.Handler() == nil {
		t.Error("Handler() returned nil")
	}
	if server.Addr() != nil {
		t.Error("Addr() set before Start")
	}
}

func TestHTTPServer_StartAndShutdown(t *testing.T) {
	stack := newTestStack(t)
	server := NewHTTPServer(stack.cfg, logger.NewNop(), stack.handlers)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Health check status = %v, want %v", resp.StatusCode, http.StatusOK)
	}
	if server.Addr().String() != ln.Addr().String() {
		t.Errorf("Addr() = %v, want %v", server.Addr(), ln.Addr())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Serve() returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Serve() did not return after shutdown")
	}
}

func TestHTTPServer_StartListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig()
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	server := NewHTTPServer(cfg, logger.NewNop(), &Handlers{})

	err = server.Start()
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("Start() error = %v, want listen error", err)
	}
}
