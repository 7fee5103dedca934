package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/clinicops/clinic-portal/internal/booking"
	"github.com/clinicops/clinic-portal/internal/catalog"
	"github.com/clinicops/clinic-portal/internal/crm"
)

// APIError is a non-2xx response from the portal API.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Details    string `json:"details"`
}

func (e APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("portal API returned %d: %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("portal API returned %d: %s", e.StatusCode, e.Message)
}

// Client implements Backend over the portal's public HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) AvailableSlots(ctx context.Context, startDate, endDate string) ([]crm.Slot, error) {
	query := url.Values{"start_date": {startDate}, "end_date": {endDate}}

	var slots []crm.Slot
	if err := c.call(ctx, http.MethodGet, "/available-slots?"+query.Encode(), nil, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func (c *Client) Insurances(ctx context.Context) ([]crm.InsuranceProvider, error) {
	var providers []crm.InsuranceProvider
	if err := c.call(ctx, http.MethodGet, "/insurances", nil, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func (c *Client) BookingOptions(ctx context.Context) (catalog.Catalog, error) {
	var options catalog.Catalog
	if err := c.call(ctx, http.MethodGet, "/booking-options", nil, &options); err != nil {
		return catalog.Catalog{}, err
	}
	return options, nil
}

func (c *Client) Book(ctx context.Context, req booking.Request) (crm.Confirmation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding booking request: %w", err)
	}

	var confirmation crm.Confirmation
	if err := c.call(ctx, http.MethodPost, "/book-slot", body, &confirmation); err != nil {
		return nil, err
	}
	return confirmation, nil
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, target any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling portal API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return fmt.Errorf("reading portal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decoding portal response: %w", err)
	}
	return nil
}
