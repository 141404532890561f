// Package webhooktarget delivers outbound notifications to arbitrary
// operator-configured HTTP endpoints (e.g. a Slack incoming webhook or a
// generic integration URL), signing each payload the same way the
// inbound webhook front door (internal/webhook) verifies it, so a single
// shared secret authenticates traffic in both directions.
package webhooktarget

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/basket/boss/internal/adapters"
)

// SendOperation is the adapters.Operation this adapter understands.
type SendOperation struct {
	URL    string
	Secret string
	Body   []byte
}

type Target struct {
	client *http.Client
}

func New() *Target {
	return &Target{client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *Target) Name() string { return "webhooktarget" }

func (t *Target) Execute(ctx context.Context, op adapters.Operation) (adapters.Result, *adapters.AdapterError) {
	send, ok := op.(SendOperation)
	if !ok {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: fmt.Errorf("webhooktarget: unsupported operation %T", op)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, send.URL, bytes.NewReader(send.Body))
	if err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if send.Secret != "" {
		req.Header.Set("X-Boss-Signature", sign(send.Secret, send.Body))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &adapters.AdapterError{Kind: adapters.KindTransient, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &adapters.AdapterError{Kind: adapters.KindRateLimited, RetryAfter: 10 * time.Second, Err: fmt.Errorf("webhooktarget: status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &adapters.AdapterError{Kind: adapters.KindUnauthorized, Err: fmt.Errorf("webhooktarget: status %d", resp.StatusCode)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: fmt.Errorf("webhooktarget: status %d", resp.StatusCode)}
	default:
		return nil, &adapters.AdapterError{Kind: adapters.KindTransient, Err: fmt.Errorf("webhooktarget: status %d", resp.StatusCode)}
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
