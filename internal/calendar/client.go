package calendar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Service talks to the calendar bridge over HTTP. The bridge wraps the
// provider's OAuth and event APIs behind a stable JSON surface.
type Service struct {
	client  *http.Client
	baseURL string
}

// NewService creates a calendar client against the given bridge base URL.
func NewService(baseURL string, timeout time.Duration) *Service {
	return &Service{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (s *Service) ListChangesSince(token, calendarID string, since time.Time) ([]Event, error) {
	u := fmt.Sprintf("%s/calendars/%s/changes?since=%s",
		s.baseURL, url.PathEscape(calendarID), url.QueryEscape(since.UTC().Format(time.RFC3339)))

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build changes request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list calendar changes: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out struct {
		Events []Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode calendar changes: %w", err)
	}
	return out.Events, nil
}

func (s *Service) UpsertEvent(token, calendarID string, ev Event) (Event, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event: %w", err)
	}

	u := fmt.Sprintf("%s/calendars/%s/events", s.baseURL, url.PathEscape(calendarID))
	req, err := http.NewRequest(http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return Event{}, fmt.Errorf("build upsert request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Event{}, fmt.Errorf("upsert calendar event: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return Event{}, err
	}

	var stored Event
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return Event{}, fmt.Errorf("decode upserted event: %w", err)
	}
	return stored, nil
}

func (s *Service) DeleteEvent(token, calendarID, eventID string) error {
	u := fmt.Sprintf("%s/calendars/%s/events/%s",
		s.baseURL, url.PathEscape(calendarID), url.PathEscape(eventID))

	req, err := http.NewRequest(http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	defer resp.Body.Close()

	// A missing event counts as deleted.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkStatus(resp)
}

func (s *Service) RefreshToken(refreshToken string) (string, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	resp, err := s.client.Post(s.baseURL+"/oauth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	return out.AccessToken, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		return fmt.Errorf("calendar bridge returned %d", resp.StatusCode)
	}
	return nil
}
