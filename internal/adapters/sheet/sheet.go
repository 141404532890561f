// Package sheet implements the tabular-store adapter: the second tier of
// the assignee lookup and the target of the outbox's "upsert row" side
// effect on task creation. The tabular store is an external collaborator
// per spec.md §1 (a Sheets-like spreadsheet) — this adapter only needs to
// honor its HTTP contract (an authenticated row-upsert/row-read endpoint),
// so it is a thin client rather than a full provider SDK; reconciling
// manual spreadsheet edits back into the relational store is an explicit
// non-goal (spec.md §1).
package sheet

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

// UpsertRowOperation writes or updates one row, keyed by TaskID.
type UpsertRowOperation struct {
	TaskID   string
	Fields   map[string]string
}

// LookupAssigneeOperation resolves a name against the tabular store's
// roster sheet; used by the 3-tier assignee lookup's second tier.
type LookupAssigneeOperation struct {
	Name string
}

// LookupAssigneeResult reports whether the name matched a roster row.
type LookupAssigneeResult struct {
	Found bool
	Role  string
}

type Sheet struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(baseURL, apiKey string) *Sheet {
	return &Sheet{baseURL: baseURL, apiKey: apiKey, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *Sheet) Name() string { return "sheet" }

func (s *Sheet) Execute(ctx context.Context, op adapters.Operation) (adapters.Result, *adapters.AdapterError) {
	switch v := op.(type) {
	case UpsertRowOperation:
		return s.upsertRow(ctx, v)
	case LookupAssigneeOperation:
		return s.lookupAssignee(ctx, v)
	default:
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: fmt.Errorf("sheet: unsupported operation %T", op)}
	}
}

func (s *Sheet) upsertRow(ctx context.Context, op UpsertRowOperation) (adapters.Result, *adapters.AdapterError) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/rows/"+op.TaskID, bytes.NewReader(body))
	if err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: err}
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindTransient, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return nil, &adapters.AdapterError{Kind: adapters.KindTransient, Err: fmt.Errorf("sheet: status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: fmt.Errorf("sheet: status %d", resp.StatusCode)}
	}
	return nil, nil
}

func (s *Sheet) lookupAssignee(ctx context.Context, op LookupAssigneeOperation) (adapters.Result, *adapters.AdapterError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/roster/"+op.Name, nil)
	if err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: err}
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return LookupAssigneeResult{Found: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &adapters.AdapterError{Kind: adapters.KindTransient, Err: fmt.Errorf("sheet: status %d", resp.StatusCode)}
	}
	var out struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindTransient, Err: err}
	}
	return LookupAssigneeResult{Found: true, Role: out.Role}, nil
}

func (s *Sheet) authorize(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}
