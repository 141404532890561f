package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/basket/boss/internal/adapters/llm"
	"github.com/basket/boss/internal/bus"
	"github.com/basket/boss/internal/classifier"
	"github.com/basket/boss/internal/config"
	"github.com/basket/boss/internal/conversation"
	"github.com/basket/boss/internal/dispatch"
	"github.com/basket/boss/internal/session"
	"github.com/basket/boss/internal/store"
)

const testWebhookSecret = "test-webhook-secret"
const testAdminSecret = "test-admin-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "webhook-test.db")
	st, err := store.Open(dsn, bus.New())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	machine := conversation.New(st)
	cl := classifier.New(llm.New(t.Context(), llm.Config{}))
	sessions := session.Open(t.Context(), "")
	t.Cleanup(func() { sessions.Close() })
	d := dispatch.New(st, machine, cl, sessions, map[string]dispatch.CommandHandler{})

	cfg := &config.Config{
		WebhookSecret:          testWebhookSecret,
		AdminSecret:            testAdminSecret,
		BindAddr:               "127.0.0.1:0",
		RateLimitAuthenticated: config.RateLimitSetting{RequestsPerMinute: 600, BurstSize: 100},
		RateLimitPublic:        config.RateLimitSetting{RequestsPerMinute: 600, BurstSize: 100},
	}

	decoders := map[string]TransportDecoder{
		"telegram": func(body []byte) (dispatch.Inbound, error) {
			var payload struct {
				UserID string `json:"user_id"`
				Text   string `json:"text"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return dispatch.Inbound{}, err
			}
			return dispatch.Inbound{UserID: payload.UserID, Text: payload.Text}, nil
		},
	}

	return New(cfg, st, Deps{Dispatcher: d, Decoders: decoders})
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleWebhook_SignatureMismatchRejected(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"user_id":"u1","text":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", bytes.NewReader(body))
	req.Header.Set("X-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestHandleWebhook_ValidSignatureAccepted(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"user_id":"u1","text":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(testWebhookSecret, body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if err := s.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestHandleWebhook_DuplicateIdempotent(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"user_id":"u2","text":"same message twice"}`)
	sig := sign(testWebhookSecret, body)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", bytes.NewReader(body))
		req.Header.Set("X-Signature", sig)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200", i, rec.Code)
		}
	}
	if err := s.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestHandleWebhook_UnknownTransport(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/discord", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(testWebhookSecret, body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleAdmin_WrongSecretForbidden(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"secret":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/seed-test-team", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestHandleAdmin_SeedTestTeam(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"secret":"` + testAdminSecret + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/seed-test-team", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestTasksCRUD_RoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := t.Context()
	created, err := s.store.CreateTask(ctx, store.NewTask("write the quarterly report"), "test")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/"+created.TaskID, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}

	patchBody := []byte(`{"title":"write the revised quarterly report"}`)
	req = httptest.NewRequest(http.MethodPut, "/api/tasks/"+created.TaskID, bytes.NewReader(patchBody))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/tasks/"+created.TaskID, nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tasks/"+created.TaskID, nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d, want 404", rec.Code)
	}
}

func TestHandleUpdateTask_RejectsMarkup(t *testing.T) {
	s := newTestServer(t)
	created, err := s.store.CreateTask(t.Context(), store.NewTask("clean the backlog"), "test")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	body := []byte(`{"description":"<script>alert(1)</script>"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/tasks/"+created.TaskID, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
