package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve listens on the server's address and blocks until ctx is cancelled or
// the process receives SIGINT or SIGTERM. In-flight requests get up to
// timeout to complete before the hooks run.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, hooks *ShutdownHooks) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("server listen failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveListener(ctx, srv, ln, timeout, hooks)
}

func serveListener(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, hooks *ShutdownHooks) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", ln.Addr().String()).Msg("server: listening")
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Join(
				fmt.Errorf("server failed: %w", err),
				hooks.Execute(context.WithoutCancel(ctx)),
			)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", timeout).Msg("server: shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		err = fmt.Errorf("server shutdown failed: %w", err)
	}

	// hook failures are logged by Execute and do not fail a clean stop
	_ = hooks.Execute(shutdownCtx)

	log.Info().Msg("server: stopped")

	return err
}
