package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeListener_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
		ReadHeaderTimeout: time.Second,
	}

	hooks := &ShutdownHooks{}
	var hookRan bool
	hooks.Add("cache", func() error {
		hookRan = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveListener(ctx, srv, ln, 5*time.Second, hooks)
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/", ln.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	assert.True(t, hookRan, "shutdown hooks should run after the server stops")
}

func TestServeListener_ServeFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	hooks := &ShutdownHooks{}
	var hookRan bool
	hooks.Add("pool", func() error {
		hookRan = true
		return nil
	})

	err = serveListener(context.Background(), &http.Server{ReadHeaderTimeout: time.Second}, ln, time.Second, hooks)

	assert.ErrorContains(t, err, "server failed")
	assert.True(t, hookRan)
}
