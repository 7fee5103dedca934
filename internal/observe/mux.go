package observe

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Multiplexer is the routing surface Mux decorates, usually an
// *http.ServeMux.
type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux registers handlers with OTel request instrumentation. Spans and metrics
// are named after the route, never the request path.
type Mux struct {
	wrapped Multiplexer
}

func NewMux(wrapped Multiplexer) *Mux {
	return &Mux{
		wrapped: wrapped,
	}
}

// Handle registers an instrumented handler. The span is named "METHOD
// /route" using the method of the request actually served.
func (mux *Mux) Handle(pattern string, handler http.Handler) {
	route := TrimMethod(pattern)

	instrumented := otelhttp.NewHandler(handler, route,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + route
		}),
	)

	mux.wrapped.Handle(pattern, instrumented)
}

// HandleUntraced registers a handler without instrumentation. Used for
// probes and metric scrapes.
func (mux *Mux) HandleUntraced(pattern string, handler http.Handler) {
	mux.wrapped.Handle(pattern, handler)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var routeMethods = map[string]bool{
	http.MethodConnect: true,
	http.MethodDelete:  true,
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPatch:   true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodTrace:   true,
}

// TrimMethod strips a leading HTTP method from a ServeMux pattern, leaving
// the route.
func TrimMethod(pattern string) string {
	method, route, found := strings.Cut(pattern, " ")
	if found && routeMethods[method] {
		return route
	}
	return pattern
}
