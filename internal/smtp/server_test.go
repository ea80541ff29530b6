package smtp

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestConnectionCeiling checks that the server never hands out more
// connection slots than configured, for any configured ceiling.
func TestConnectionCeiling(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxConns := rapid.IntRange(1, 50).Draw(t, "maxConnections")

		cfg := DefaultConfig()
		cfg.MaxConnections = maxConns
		server := NewServer(cfg, NewResolver(""), &recordingHandler{}, nil)

		for i := 0; i < maxConns; i++ {
			if !server.acquireConnection() {
				t.Fatalf("slot %d of %d should be available", i+1, maxConns)
			}
		}
		if server.ActiveConnections() != int64(maxConns) {
			t.Fatalf("expected %d active connections, got %d", maxConns, server.ActiveConnections())
		}
		if server.acquireConnection() {
			t.Fatal("slot beyond the ceiling should be refused")
		}

		for i := 0; i < maxConns; i++ {
			server.releaseConnection()
		}
		if server.ActiveConnections() != 0 {
			t.Fatalf("expected 0 active connections after release, got %d", server.ActiveConnections())
		}
	})
}

// TestConcurrentConnectionAcquisition checks the slot accounting under
// contention: overcommitted goroutines must acquire exactly the ceiling.
func TestConcurrentConnectionAcquisition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 50
	server := NewServer(cfg, NewResolver(""), &recordingHandler{}, nil)

	var wg sync.WaitGroup
	var acquired int64

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if server.acquireConnection() {
				atomic.AddInt64(&acquired, 1)
			}
		}()
	}
	wg.Wait()

	if acquired != int64(cfg.MaxConnections) {
		t.Errorf("expected %d acquired slots, got %d", cfg.MaxConnections, acquired)
	}
	if server.ActiveConnections() != int64(cfg.MaxConnections) {
		t.Errorf("expected %d active connections, got %d", cfg.MaxConnections, server.ActiveConnections())
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = freePort(t)
	server := NewServer(cfg, NewResolver(""), &recordingHandler{}, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	if !server.IsRunning() {
		t.Fatal("server should be running after Start")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}
	if server.IsRunning() {
		t.Fatal("server should not be running after Stop")
	}
}

// TestServerEndToEnd drives a whole delivery over a real TCP connection.
func TestServerEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = freePort(t)
	handler := &recordingHandler{}
	server := NewServer(cfg, NewResolver(""), handler, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer server.Stop()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port), 5*time.Second)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	reader := bufio.NewReader(conn)
	expect := func(code string) {
		t.Helper()
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if !strings.HasPrefix(line, code) {
			t.Fatalf("expected %s reply, got %q", code, line)
		}
	}
	expectMultiline := func(code string) {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if !strings.HasPrefix(line, code) {
				t.Fatalf("expected %s reply, got %q", code, line)
			}
			if !strings.HasPrefix(line, code+"-") {
				return
			}
		}
	}
	send := func(line string) {
		t.Helper()
		if _, err := fmt.Fprintf(conn, "%s\r\n", line); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	expect("220")
	send("EHLO client.test")
	expectMultiline("250")
	send("MAIL FROM:<sender@remote.test>")
	expect("250")
	send("RCPT TO:<Target@anywhere.test>")
	expect("250")
	send("DATA")
	expect("354")
	send("Subject: live test")
	send("")
	send("over the wire")
	send(".")
	expect("250")
	send("QUIT")
	expect("221")

	if len(handler.envelopes) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(handler.envelopes))
	}
	if handler.envelopes[0].Recipients[0].Inbox != "target" {
		t.Errorf("inbox mismatch: %q", handler.envelopes[0].Recipients[0].Inbox)
	}
}

// TestStopWaitsForActiveSession checks that shutdown drains a session
// accepted just before Stop instead of abandoning it.
func TestStopWaitsForActiveSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = freePort(t)
	server := NewServer(cfg, NewResolver(""), &recordingHandler{}, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port), 5*time.Second)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	reader := bufio.NewReader(conn)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("failed to read greeting: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		server.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a session was still open")
	case <-time.After(200 * time.Millisecond):
	}

	fmt.Fprintf(conn, "QUIT\r\n")
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("failed to read QUIT reply: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the session closed")
	}
}

// failingListener always errors on Accept, for exercising the accept loop's
// error handling.
type failingListener struct {
	calls atomic.Int64
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.calls.Add(1)
	return nil, errors.New("accept failed")
}

func (l *failingListener) Close() error   { return nil }
func (l *failingListener) Addr() net.Addr { return &net.TCPAddr{} }

// TestAcceptErrorBackoff checks that a persistent accept failure does not
// spin the loop at full speed.
func TestAcceptErrorBackoff(t *testing.T) {
	server := NewServer(DefaultConfig(), NewResolver(""), &recordingHandler{}, nil)
	listener := &failingListener{}
	server.listener = listener
	server.running.Store(true)

	done := make(chan struct{})
	go func() {
		server.acceptLoop()
		close(done)
	}()

	time.Sleep(350 * time.Millisecond)
	server.running.Store(false)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop did not exit after shutdown")
	}

	if calls := listener.calls.Load(); calls > 10 {
		t.Errorf("accept loop spun %d times in 350ms; backoff not applied", calls)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}
