package hospital

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client polls a hospital reservation gateway over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// QueryAvailability fetches the currently free slots matching the filter.
func (c *Client) QueryAvailability(ctx context.Context, filter Filter) ([]SlotReport, error) {
	q := url.Values{}
	q.Set("hospital", filter.Hospital)
	if filter.Department != "" {
		q.Set("department", filter.Department)
	}
	if filter.DoctorName != "" {
		q.Set("doctor", filter.DoctorName)
	}
	if filter.DateFrom != nil {
		q.Set("from", filter.DateFrom.UTC().Format(time.RFC3339))
	}
	if filter.DateTo != nil {
		q.Set("to", filter.DateTo.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/slots/available?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build availability request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query availability: status %d", resp.StatusCode)
	}

	var out struct {
		Slots []SlotReport `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode availability response: %w", err)
	}
	return out.Slots, nil
}
