package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"barstock/backend/internal/domain"
)

type staticAuthenticator struct {
	user *domain.User
	err  error
}

func (s staticAuthenticator) Authenticate(context.Context, string, string) (*domain.User, error) {
	return s.user, s.err
}

func TestTokenRoundTrip(t *testing.T) {
	mgr := NewAuthManager("roundtrip-secret-0123456789abcdef", time.Hour, nil)

	user := &domain.User{
		ID:    "usr-1",
		Name:  "Test Admin",
		Role:  "admin",
		OrgID: "org-1",
	}
	resp, err := mgr.SignFor(user)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	actor, err := mgr.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.UserID != "usr-1" || actor.Role != "admin" || actor.OrgID != "org-1" || actor.Name != "Test Admin" {
		t.Fatalf("claims lost in round trip: %+v", actor)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager("issuer-secret-0123456789abcdefgh", time.Hour, nil)
	verifier := NewAuthManager("other-secret-0123456789abcdefghi", time.Hour, nil)

	resp, err := issuer.SignFor(&domain.User{ID: "usr-1", Role: "admin", OrgID: "org-1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	mgr := NewAuthManager("garbage-secret-0123456789abcdef", time.Hour, nil)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := mgr.ParseToken(token); err == nil {
			t.Fatalf("expected parse failure for %q", token)
		}
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	mgr := NewAuthManager("expired-secret-0123456789abcdef1", time.Nanosecond, nil)

	resp, err := mgr.SignFor(&domain.User{ID: "usr-1", Role: "admin", OrgID: "org-1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := mgr.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestLoginPropagatesServiceError(t *testing.T) {
	wantErr := errors.New("nope")
	mgr := NewAuthManager("login-secret-0123456789abcdef12", time.Hour, staticAuthenticator{err: wantErr})

	_, err := mgr.Login(context.Background(), domain.LoginRequest{Email: "a@b.c", Password: "x"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected service error passthrough, got %v", err)
	}
}

func TestLoginCarriesPasswordChangeFlag(t *testing.T) {
	mgr := NewAuthManager("flag-secret-0123456789abcdef123", time.Hour, staticAuthenticator{
		user: &domain.User{ID: "usr-1", Role: "staff", OrgID: "org-1", NeedsPasswordChange: true},
	})

	resp, err := mgr.Login(context.Background(), domain.LoginRequest{Email: "a@b.c", Password: "x"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !resp.NeedsPasswordChange {
		t.Fatal("expected NeedsPasswordChange carried through")
	}
	if resp.AccessToken == "" || resp.Role != "staff" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
