package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"market-platform/src/command"
	"market-platform/src/helpers"
	"market-platform/src/models"
)

// TokenAuth accepts bearer tokens from a fixed list and resolves the settings
// through the runner's settings loader.
type TokenAuth struct {
	tokens   [][]byte
	settings command.SettingsLoader
}

// NewTokenAuth returns an auth hook for tokens. settings may be nil.
func NewTokenAuth(tokens []string, settings command.SettingsLoader) *TokenAuth {
	a := &TokenAuth{settings: settings}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// -----------------------------------------------------------------------------

// UserSettings implements interfaces.IAuthHook.
func (a *TokenAuth) UserSettings(ctx context.Context, req *http.Request) (*models.MUserSettings, error) {
	token := bearer(req)
	if token == "" {
		return nil, helpers.NewUnauthorizedError("missing bearer token")
	}
	if !a.valid(token) {
		return nil, helpers.NewUnauthorizedError("invalid token")
	}

	var doc *models.MUserSettings
	if a.settings != nil {
		s, err := a.settings.Load(ctx)
		if err != nil {
			return nil, err
		}
		doc = s
	} else {
		doc = &models.MUserSettings{Credentials: map[string]string{}}
	}
	sum := sha256.Sum256([]byte(token))
	doc.ID = hex.EncodeToString(sum[:8])
	return doc, nil
}

// -----------------------------------------------------------------------------

func (a *TokenAuth) valid(token string) bool {
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(t, []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func bearer(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(req.Header.Get("X-API-Token"))
}
