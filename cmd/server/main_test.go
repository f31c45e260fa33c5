// cmd/server/main_test.go
package main

import (
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/SyedDaiam9101/ids-service/internal/handler"
	"github.com/SyedDaiam9101/ids-service/internal/inference"
)

func TestDrainWaitsForInFlightRequests(t *testing.T) {
	mock := inference.NewMock()
	h := handler.New(mock, nil, nil)

	started := make(chan struct{})
	var finished atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		finished.Store(true)
		w.Write([]byte("ok"))
	})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	srv := &http.Server{Handler: mux}
	opsServer := &http.Server{Handler: http.NewServeMux()}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(lis)
	}()

	sigChan := make(chan os.Signal, 1)
	done := drainOnSignal(sigChan, h, srv, opsServer, nil, 10*time.Millisecond)

	if !h.Ready() {
		t.Fatal("Expected handler to be ready before the drain")
	}

	// Put a slow request in flight, then trigger the drain
	respErr := make(chan error, 1)
	go func() {
		resp, err := http.Get("http://" + lis.Addr().String() + "/slow")
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		respErr <- err
	}()

	<-started
	sigChan <- syscall.SIGTERM

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Drain did not finish")
	}

	// Serve returns the moment Shutdown is called, so the done channel is
	// the only signal that the in-flight request has been answered.
	if !finished.Load() {
		t.Error("Drain finished before the in-flight request completed")
	}
	if err := <-respErr; err != nil {
		t.Errorf("In-flight request failed during drain: %v", err)
	}
	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Serve returned %v, expected ErrServerClosed", err)
	}
	if h.Ready() {
		t.Error("Expected handler to be not ready after the drain")
	}
}
