package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxBodySize bounds how much of a CRM response is read.
const maxBodySize = 10 * 1024 * 1024

// TokenSource supplies bearer tokens for CRM calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Observer records CRM call outcomes.
type Observer interface {
	ObserveRequest(operation string, status int, elapsed time.Duration)
	ObserveTokenRefresh()
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int, time.Duration) {}
func (nopObserver) ObserveTokenRefresh()                      {}

// Schedule identifies the facility, doctor and address whose calendar the
// portal books against.
type Schedule struct {
	FacilityID int
	DoctorID   int
	AddressID  int
}

func (s Schedule) path() string {
	return fmt.Sprintf("/api/v1/integration/facilities/%d/doctors/%d/addresses/%d", s.FacilityID, s.DoctorID, s.AddressID)
}

// Client is an authenticated client for the CRM integration API. It is safe
// for concurrent use.
type Client struct {
	baseURL    string
	schedule   Schedule
	tokens     TokenSource
	httpClient *http.Client
	observer   Observer
}

type ClientOption func(*Client)

// WithObserver records every call made by the client.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient creates a CRM client. The http client's Timeout bounds every
// call; callers should configure it.
func NewClient(baseURL string, schedule Schedule, tokens TokenSource, httpClient *http.Client, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		schedule:   schedule,
		tokens:     tokens,
		httpClient: httpClient,
		observer:   nopObserver{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// InsuranceProviders lists every insurance provider known to the CRM,
// active or not.
func (c *Client) InsuranceProviders(ctx context.Context) ([]InsuranceProvider, error) {
	var envelope listEnvelope[InsuranceProvider]

	err := c.fetch(ctx, "insurance-providers", "/api/v1/integration/insurance-providers", nil, &envelope)
	if err != nil {
		return nil, err
	}

	return envelope.items(), nil
}

// Bookings lists the schedule's bookings between two YYYY-MM-DD dates,
// inclusive.
func (c *Client) Bookings(ctx context.Context, startDate, endDate string) ([]BookingRecord, error) {
	var envelope listEnvelope[BookingRecord]

	err := c.fetch(ctx, "bookings", c.schedule.path()+"/bookings", dateRange(startDate, endDate), &envelope)
	if err != nil {
		return nil, err
	}

	return envelope.items(), nil
}

// AvailableSlots lists open slots between two YYYY-MM-DD dates, inclusive.
// A response without result.items is an empty list.
func (c *Client) AvailableSlots(ctx context.Context, startDate, endDate string) ([]Slot, error) {
	var envelope listEnvelope[Slot]

	err := c.fetch(ctx, "available-slots", c.schedule.path()+"/available-slots", dateRange(startDate, endDate), &envelope)
	if err != nil {
		return nil, err
	}

	return envelope.items(), nil
}

// ReserveSlot books the given slot. A JSON response from the CRM is returned
// verbatim.
func (c *Client) ReserveSlot(ctx context.Context, slot string, payload BookingPayload) (Confirmation, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding booking payload: %w", err)
	}

	endpoint := c.schedule.path() + "/slots/" + url.PathEscape(slot)

	status, respBody, err := c.do(ctx, "reserve-slot", http.MethodPost, endpoint, nil, body)
	if err != nil {
		if tokenErr := tokenError(err); tokenErr != nil {
			return nil, tokenErr
		}
		return nil, UpstreamBookingError{Slot: slot, StatusCode: status, Body: string(respBody), Err: err}
	}

	// Any 2xx means the slot is reserved, whatever the body holds.
	return confirmationOf(ctx, slot, respBody), nil
}

func confirmationOf(ctx context.Context, slot string, body []byte) Confirmation {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Confirmation("{}")
	}

	if json.Valid(trimmed) {
		return Confirmation(trimmed)
	}

	log.Ctx(ctx).Warn().Str("slot", slot).Msg("CRM reservation response is not JSON, returning it as a string")
	quoted, _ := json.Marshal(string(trimmed))
	return Confirmation(quoted)
}

func (c *Client) fetch(ctx context.Context, operation, endpoint string, query url.Values, target any) error {
	status, body, err := c.do(ctx, operation, http.MethodGet, endpoint, query, nil)
	if err != nil {
		if tokenErr := tokenError(err); tokenErr != nil {
			return tokenErr
		}
		return UpstreamFetchError{Operation: operation, StatusCode: status, Body: string(body), Err: err}
	}

	if err := json.Unmarshal(body, target); err != nil {
		return UpstreamFetchError{Operation: operation, StatusCode: status, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}

// do performs an authenticated request. A non-2xx status is returned as an
// error together with the status and body.
func (c *Client) do(ctx context.Context, operation, method, endpoint string, query url.Values, payload []byte) (int, []byte, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observer.ObserveRequest(operation, 0, time.Since(start))
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	c.observer.ObserveRequest(operation, resp.StatusCode, time.Since(start))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Ctx(ctx).Warn().
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Msg("CRM request failed")
		return resp.StatusCode, body, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return resp.StatusCode, body, nil
}

// tokenError returns err when it came from obtaining a token, so that its own
// status and upstream body reach the caller.
func tokenError(err error) error {
	var authErr UpstreamAuthError
	var configErr AuthConfigError
	if errors.As(err, &authErr) || errors.As(err, &configErr) {
		return err
	}
	return nil
}

func dateRange(startDate, endDate string) url.Values {
	return url.Values{
		"start_date": {startDate},
		"end_date":   {endDate},
	}
}
