package store

import (
	"testing"

	"github.com/basket/boss/internal/cryptutil"
)

func TestOAuthToken_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	box, err := cryptutil.New(key)
	if err != nil {
		t.Fatalf("cryptutil.New: %v", err)
	}
	tok := OAuthToken{Email: "boss@example.com", Service: "calendar", RefreshToken: "refresh-xyz", AccessToken: "access-abc"}
	if err := s.PutOAuthToken(t.Context(), box, tok); err != nil {
		t.Fatalf("PutOAuthToken: %v", err)
	}
	got, err := s.GetOAuthToken(t.Context(), box, "boss@example.com", "calendar")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if got == nil || got.RefreshToken != "refresh-xyz" || got.AccessToken != "access-abc" {
		t.Fatalf("got %+v", got)
	}
}

func TestOAuthToken_NotFound(t *testing.T) {
	s := newTestStore(t)
	box, _ := cryptutil.New(nil)
	got, err := s.GetOAuthToken(t.Context(), box, "nobody@example.com", "calendar")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for missing token")
	}
}

func TestReencryptAllOAuthTokens(t *testing.T) {
	s := newTestStore(t)
	plaintextBox, _ := cryptutil.New(nil)
	tok := OAuthToken{Email: "legacy@example.com", Service: "sheets", RefreshToken: "legacy-refresh", AccessToken: "legacy-access"}
	if err := s.PutOAuthToken(t.Context(), plaintextBox, tok); err != nil {
		t.Fatalf("PutOAuthToken: %v", err)
	}

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	newBox, err := cryptutil.New(key)
	if err != nil {
		t.Fatalf("cryptutil.New: %v", err)
	}
	n, err := s.ReencryptAllOAuthTokens(t.Context(), plaintextBox, newBox)
	if err != nil {
		t.Fatalf("ReencryptAllOAuthTokens: %v", err)
	}
	if n != 1 {
		t.Fatalf("reencrypted %d tokens, want 1", n)
	}

	got, err := s.GetOAuthToken(t.Context(), newBox, "legacy@example.com", "sheets")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if got.RefreshToken != "legacy-refresh" {
		t.Fatalf("refresh token = %q after reencrypt", got.RefreshToken)
	}
}
