package infra

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestHTTPServerRunStopsOnCancel(t *testing.T) {
	srv := NewHTTPServer(&Config{Port: "0", HTTPWriteTimeout: time.Second}, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestHTTPServerRunReportsListenError(t *testing.T) {
	srv := NewHTTPServer(&Config{Port: "not-a-port"}, http.NotFoundHandler())
	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}
