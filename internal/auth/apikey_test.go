package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"rollcall/internal/rbac"
)

func minCostHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hash)
}

func newTestGate(t *testing.T, key string) *Gate {
	t.Helper()
	gate, err := NewGate(minCostHash(t, key))
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	return gate
}

func TestGateCheck(t *testing.T) {
	gate := newTestGate(t, "s3cret")

	if !gate.Enabled() {
		t.Fatal("expected gate enabled")
	}
	if err := gate.Check("s3cret"); err != nil {
		t.Fatalf("Check(valid) error = %v", err)
	}
	// Second check is served from the verified cache.
	if err := gate.Check("s3cret"); err != nil {
		t.Fatalf("Check(valid, cached) error = %v", err)
	}
	if err := gate.Check("wrong"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Check(wrong) = %v, want ErrInvalidKey", err)
	}
	if err := gate.Check(""); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("Check(\"\") = %v, want ErrMissingKey", err)
	}
}

func TestDisabledGateAllowsEverything(t *testing.T) {
	gate, err := NewGate("  ")
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	if gate.Enabled() {
		t.Fatal("expected gate disabled")
	}
	if err := gate.Check(""); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
}

func TestNewGateRejectsGarbageHash(t *testing.T) {
	if _, err := NewGate("not-a-bcrypt-hash"); err == nil {
		t.Fatal("expected error")
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":    "abc",
		"bearer  abc ":  "abc",
		"Basic abc":     "",
		"abc":           "",
		"":              "",
	}
	for header, want := range tests {
		if got := BearerToken(header); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestHashKeyRoundTrip(t *testing.T) {
	hash, err := HashKey("k")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	gate, err := NewGate(hash)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	if err := gate.Check("k"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if _, err := HashKey(" "); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("HashKey(blank) = %v", err)
	}
}

func TestRoleGate(t *testing.T) {
	gate, err := NewRoleGate(minCostHash(t, "op"), minCostHash(t, "root"))
	if err != nil {
		t.Fatalf("NewRoleGate() error = %v", err)
	}

	tests := []struct {
		key    string
		action rbac.Action
		want   error
	}{
		{key: "", action: rbac.ActionRead, want: nil},
		{key: "", action: rbac.ActionWrite, want: ErrMissingKey},
		{key: "op", action: rbac.ActionWrite, want: nil},
		{key: "op", action: rbac.ActionAdmin, want: ErrForbidden},
		{key: "root", action: rbac.ActionAdmin, want: nil},
		{key: "nope", action: rbac.ActionWrite, want: ErrInvalidKey},
	}
	for _, tc := range tests {
		if err := gate.Authorize(tc.key, tc.action); !errors.Is(err, tc.want) {
			t.Errorf("Authorize(%q, %q) = %v, want %v", tc.key, tc.action, err, tc.want)
		}
	}

	if role, _ := gate.Role("op"); role != rbac.RoleOperator {
		t.Fatalf("Role(op) = %q, want operator", role)
	}
}

func TestSingleKeyGrantsAdmin(t *testing.T) {
	gate := newTestGate(t, "only")
	if err := gate.Authorize("only", rbac.ActionAdmin); err != nil {
		t.Fatalf("Authorize(admin) error = %v", err)
	}
}
