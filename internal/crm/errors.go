package crm

import (
	"fmt"
	"net/http"
	"strings"
)

// AuthConfigError indicates the CRM credentials are incomplete. It is
// detected at construction and again on every token request.
type AuthConfigError struct {
	Missing []string
}

func (e AuthConfigError) Error() string {
	return fmt.Sprintf("CRM credentials not configured: missing %s", strings.Join(e.Missing, ", "))
}

func (e AuthConfigError) Status() (int, string) {
	return http.StatusInternalServerError, "CRM integration is not configured"
}

// UpstreamAuthError indicates the CRM token endpoint refused the credentials
// or could not be reached. StatusCode is zero for transport failures.
type UpstreamAuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e UpstreamAuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("CRM authentication failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("CRM authentication failed: %v", e.Err)
}

func (e UpstreamAuthError) Unwrap() error {
	return e.Err
}

func (e UpstreamAuthError) Status() (int, string) {
	return http.StatusBadGateway, "CRM authentication failed"
}

// Details returns the upstream response body, if any.
func (e UpstreamAuthError) Details() string {
	return e.Body
}

// UpstreamFetchError indicates a read from the CRM failed, either because the
// CRM answered with a non-2xx status, the transport failed or a token could
// not be obtained.
type UpstreamFetchError struct {
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func (e UpstreamFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("CRM %s failed with status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("CRM %s failed: %v", e.Operation, e.Err)
}

func (e UpstreamFetchError) Unwrap() error {
	return e.Err
}

func (e UpstreamFetchError) Status() (int, string) {
	return http.StatusBadGateway, "failed to fetch data from the CRM"
}

func (e UpstreamFetchError) Details() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// UpstreamBookingError indicates the CRM rejected or failed a slot
// reservation. The CRM response body is attached verbatim.
type UpstreamBookingError struct {
	Slot       string
	StatusCode int
	Body       string
	Err        error
}

func (e UpstreamBookingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("CRM reservation of slot %q failed with status %d", e.Slot, e.StatusCode)
	}
	return fmt.Sprintf("CRM reservation of slot %q failed: %v", e.Slot, e.Err)
}

func (e UpstreamBookingError) Unwrap() error {
	return e.Err
}

func (e UpstreamBookingError) Status() (int, string) {
	return http.StatusBadGateway, "failed to process the booking"
}

func (e UpstreamBookingError) Details() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}
