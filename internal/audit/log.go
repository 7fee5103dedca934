package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the zerolog level audit entries are written at. It sits above
// every standard level so audit entries survive any configured filter.
const Level = zerolog.Level(20)

// LevelName is how Level renders in log output.
const LevelName = "audit"

type key struct{}

// Entry accumulates the audit record for a single request. Handlers fill in
// the fields they know about; the middleware writes the entry when the
// request completes.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string
	Error     string

	Authorized  bool
	AuthSubject string
	AuthMethod  string

	BookingSlot    string
	BookingOutcome string
	PatientID      int
	CRMStatus      int
	MissingFields  []string
}

func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	event.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent),
	)

	(&section{}).
		flag("authorized", e.Authorized).
		str("subject", e.AuthSubject).
		str("method", e.AuthMethod).
		attachTo(event, "authorization")

	(&section{}).
		str("slot", e.BookingSlot).
		str("outcome", e.BookingOutcome).
		code("patientID", e.PatientID).
		code("crmStatus", e.CRMStatus).
		strs("missingFields", e.MissingFields).
		attachTo(event, "booking")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

// Begin records the request details that are known before the handler runs.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	e.SourceIP = r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		e.SourceIP = host
	}
}

// End returns a function intended to be deferred: it writes the entry, and
// if the handler panicked it records the panic before re-raising it.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if r := recover(); r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)

			defer panic(r)
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")
	}
}

// Context returns the entry stored in the context, creating and attaching a
// new one when none is present.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, key{}, e), e
}

// Log returns the entry for the current request. Outside of the middleware a
// detached entry is returned so callers never need a nil check.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware attaches an audit entry to each request and writes it once the
// request completes, including when the handler panics.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)

			defer entry.End(ctx)()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry   *Entry
	written bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.written {
		s.entry.Status = status
		s.written = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.written {
		s.entry.Status = http.StatusOK
		s.written = true
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
