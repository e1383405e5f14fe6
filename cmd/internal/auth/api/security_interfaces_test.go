package authapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestProfileFromTokeninfo(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	exp := strconv.FormatInt(now.Add(time.Hour).Unix(), 10)

	ti := tokeninfoResponse{
		Aud:           "client-1",
		Email:         "user@example.com",
		EmailVerified: "true",
		Name:          "User One",
		Picture:       "https://example.com/p.png",
		Exp:           exp,
	}

	p, err := profileFromTokeninfo(ti, "client-1", now)
	if err != nil {
		t.Fatalf("profileFromTokeninfo: %v", err)
	}
	if p.Email != "user@example.com" || !p.EmailVerified || p.Name != "User One" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.Picture == nil || *p.Picture != "https://example.com/p.png" {
		t.Fatalf("picture not carried over: %+v", p.Picture)
	}
}

func TestProfileFromTokeninfoRejects(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	future := strconv.FormatInt(now.Add(time.Hour).Unix(), 10)

	cases := []struct {
		name string
		ti   tokeninfoResponse
	}{
		{"wrong audience", tokeninfoResponse{Aud: "other", Email: "a@b.c", Exp: future}},
		{"missing email", tokeninfoResponse{Aud: "client-1", Exp: future}},
		{"expired", tokeninfoResponse{Aud: "client-1", Email: "a@b.c", Exp: strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)}},
		{"garbage exp", tokeninfoResponse{Aud: "client-1", Email: "a@b.c", Exp: "soon"}},
	}

	for _, tc := range cases {
		if _, err := profileFromTokeninfo(tc.ti, "client-1", now); !errors.Is(err, ErrGoogleTokenInvalid) {
			t.Fatalf("%s: err = %v, want ErrGoogleTokenInvalid", tc.name, err)
		}
	}
}

func TestTokeninfoGoogleVerifierEndpoint(t *testing.T) {
	exp := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id_token") != "good-token" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"aud":"client-1","email":"user@example.com","email_verified":"true","name":"User","exp":"` + exp + `"}`))
	}))
	defer srv.Close()

	v := &TokeninfoGoogleVerifier{
		ClientID: "client-1",
		Endpoint: srv.URL,
		Client:   srv.Client(),
	}

	p, err := v.Verify(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Email != "user@example.com" || !p.EmailVerified {
		t.Fatalf("unexpected profile: %+v", p)
	}

	if _, err := v.Verify(context.Background(), "bad-token"); !errors.Is(err, ErrGoogleTokenInvalid) {
		t.Fatalf("bad token err = %v, want ErrGoogleTokenInvalid", err)
	}
	if _, err := v.Verify(context.Background(), "   "); !errors.Is(err, ErrGoogleTokenInvalid) {
		t.Fatalf("blank token err = %v", err)
	}
}

func TestNoopGoogleVerifierRejects(t *testing.T) {
	if _, err := (NoopGoogleVerifier{}).Verify(context.Background(), "anything"); !errors.Is(err, ErrGoogleNotConfigured) {
		t.Fatalf("err = %v, want ErrGoogleNotConfigured", err)
	}
}
