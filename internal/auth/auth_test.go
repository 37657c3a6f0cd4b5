package auth

import (
	"strings"
	"testing"
	"time"
)

func TestResolveRoundTrip(t *testing.T) {
	r, err := NewResolver([]byte("test-secret"))
	if err != nil {
		t.Fatalf("%v", err)
	}
	for _, role := range []Role{RoleDriver, RoleGuardian, RoleAdmin} {
		p := Principal{ID: "user-1", Role: role}
		tok, err := r.Sign(p, time.Minute)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		got, err := r.Resolve(tok)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != p {
			t.Errorf("Resolve = %+v, want %+v", got, p)
		}
	}
}

func TestResolveRejects(t *testing.T) {
	r, _ := NewResolver([]byte("test-secret"))
	other, _ := NewResolver([]byte("other-secret"))

	expired, _ := r.Sign(Principal{ID: "u1", Role: RoleDriver}, -time.Minute)
	wrongKey, _ := other.Sign(Principal{ID: "u1", Role: RoleDriver}, time.Minute)
	badRole, _ := r.Sign(Principal{ID: "u1", Role: Role("superuser")}, time.Minute)
	noSubject, _ := r.Sign(Principal{Role: RoleDriver}, time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"empty", ""},
		{"expired", expired},
		{"wrong key", wrongKey},
		{"unknown role", badRole},
		{"no subject", noSubject},
	}
	for _, tc := range tests {
		if _, err := r.Resolve(tc.token); err == nil {
			t.Errorf("%s: Resolve should fail", tc.name)
		}
	}
}

func TestNewResolverEmptySecret(t *testing.T) {
	if _, err := NewResolver(nil); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Errorf("NewResolver(nil) err = %v, want secret error", err)
	}
}
