// Package calendar implements the calendar adapter used to create a
// calendar entry when a task is given a deadline (spec.md §4.5 step 5c).
// Like the tabular store, the calendar provider is an external
// collaborator specified only by contract, so this is a thin HTTP client
// rather than a provider SDK.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/basket/boss/internal/adapters"
)

// CreateEventOperation creates a single-occurrence event for a task deadline.
type CreateEventOperation struct {
	TaskID    string
	Title     string
	StartsAt  time.Time
	Attendees []string
}

type CreateEventResult struct {
	EventID string
}

type Calendar struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(baseURL, apiKey string) *Calendar {
	return &Calendar{baseURL: baseURL, apiKey: apiKey, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Calendar) Name() string { return "calendar" }

func (c *Calendar) Execute(ctx context.Context, op adapters.Operation) (adapters.Result, *adapters.AdapterError) {
	create, ok := op.(CreateEventOperation)
	if !ok {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: fmt.Errorf("calendar: unsupported operation %T", op)}
	}

	body, err := json.Marshal(create)
	if err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, &adapters.AdapterError{Kind: adapters.KindTransient, Err: fmt.Errorf("calendar: status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: fmt.Errorf("calendar: status %d", resp.StatusCode)}
	}
	var out struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindTransient, Err: err}
	}
	return CreateEventResult{EventID: out.EventID}, nil
}
