package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks releases the portal's resources once the HTTP server has
// stopped. Hooks run in reverse order of registration, like deferred calls:
// telemetry registered at startup is flushed after the caches and database
// pool it observes have closed. A failing hook does not stop the rest.
type ShutdownHooks struct {
	hooks []hook
}

// AddContext registers a hook that honours the shutdown deadline. Nil hooks
// are ignored.
func (s *ShutdownHooks) AddContext(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("nil shutdown hook ignored")
		return
	}

	log.Debug().Str("hook", name).Msg("shutdown hook registered")
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// Add registers a hook that does not need the shutdown context.
func (s *ShutdownHooks) Add(name string, fn func() error) {
	if fn == nil {
		s.AddContext(name, nil)
		return
	}

	s.AddContext(name, func(context.Context) error { return fn() })
}

// AddClose registers a resource whose Close has no result, such as a pgx
// pool.
func (s *ShutdownHooks) AddClose(name string, closer interface{ Close() }) {
	if closer == nil {
		s.AddContext(name, nil)
		return
	}

	s.AddContext(name, func(context.Context) error {
		closer.Close()
		return nil
	})
}

// AddCloser registers a resource with an io.Closer style Close.
func (s *ShutdownHooks) AddCloser(name string, closer interface{ Close() error }) {
	if closer == nil {
		s.AddContext(name, nil)
		return
	}

	s.Add(name, closer.Close)
}

// Execute runs every hook, most recently registered first, and returns the
// failures joined. Each hook is run at most once.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	hooks := s.hooks
	s.hooks = nil

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		l := log.Ctx(ctx).With().Str("hook", h.name).Logger()

		if err := h.fn(ctx); err != nil {
			l.Warn().Err(err).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		l.Info().Msg("shutdown hook complete")
	}

	return errors.Join(errs...)
}
