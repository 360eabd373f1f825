// Package auth gates mutating requests behind API keys whose bcrypt hashes
// are configured at startup. Each key grants an rbac role.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"rollcall/internal/rbac"
)

var (
	ErrMissingKey = errors.New("missing api key")
	ErrInvalidKey = errors.New("invalid api key")
	ErrForbidden  = errors.New("api key not allowed to perform this action")
)

type grant struct {
	hash []byte
	role rbac.Role
}

// Gate verifies presented API keys. A Gate without hashes lets everything
// through.
type Gate struct {
	grants []grant

	mu       sync.Mutex
	verified map[string]rbac.Role
}

// NewGate configures a single key with full rights. An empty hash disables
// the gate.
func NewGate(hash string) (*Gate, error) {
	return NewRoleGate(hash, "")
}

// NewRoleGate configures an operator key and an admin key. When only one of
// them is set it grants admin rights.
func NewRoleGate(operatorHash, adminHash string) (*Gate, error) {
	operatorHash, adminHash = strings.TrimSpace(operatorHash), strings.TrimSpace(adminHash)
	g := &Gate{verified: map[string]rbac.Role{}}
	switch {
	case operatorHash != "" && adminHash != "":
		if err := g.add(adminHash, rbac.RoleAdmin); err != nil {
			return nil, err
		}
		if err := g.add(operatorHash, rbac.RoleOperator); err != nil {
			return nil, err
		}
	case operatorHash != "":
		if err := g.add(operatorHash, rbac.RoleAdmin); err != nil {
			return nil, err
		}
	case adminHash != "":
		if err := g.add(adminHash, rbac.RoleAdmin); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Gate) add(hash string, role rbac.Role) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("parse %s key hash: %w", role, err)
	}
	g.grants = append(g.grants, grant{hash: []byte(hash), role: role})
	return nil
}

func (g *Gate) Enabled() bool { return len(g.grants) > 0 }

// Role resolves the role granted by key. Keys that passed once are
// remembered by digest so bcrypt runs once per key.
func (g *Gate) Role(key string) (rbac.Role, error) {
	if !g.Enabled() {
		return rbac.RoleAdmin, nil
	}
	if key == "" {
		return rbac.RoleViewer, ErrMissingKey
	}

	digest := HashToken(key)
	g.mu.Lock()
	role, ok := g.verified[digest]
	g.mu.Unlock()
	if ok {
		return role, nil
	}

	for _, gr := range g.grants {
		if bcrypt.CompareHashAndPassword(gr.hash, []byte(key)) == nil {
			g.mu.Lock()
			g.verified[digest] = gr.role
			g.mu.Unlock()
			return gr.role, nil
		}
	}
	return rbac.RoleViewer, ErrInvalidKey
}

// Check reports whether key is known to the gate.
func (g *Gate) Check(key string) error {
	_, err := g.Role(key)
	return err
}

// Authorize checks that key grants a role allowed to perform action.
func (g *Gate) Authorize(key string, action rbac.Action) error {
	if action == rbac.ActionRead {
		return nil
	}
	role, err := g.Role(key)
	if err != nil {
		return err
	}
	if !rbac.Can(role, action) {
		return ErrForbidden
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// HashKey produces the bcrypt hash to configure for key.
func HashKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrMissingKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
