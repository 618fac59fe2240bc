package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const oidcStateCookieName = "opsdec_oidc_state"

// OIDCConfig is the optional federated-login configuration, read from the
// environment at startup.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (c OIDCConfig) isSet() bool {
	return c.Issuer != "" && c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != ""
}

// OIDCProvider authenticates operators against an external identity
// provider and then issues the same local token pair as password login.
// OIDC never bootstraps the instance: accounts must already exist.
type OIDCProvider struct {
	enabled  bool
	service  *Service
	oauth2   oauth2.Config
	verifier *gooidc.IDTokenVerifier
}

func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, svc *Service) (*OIDCProvider, error) {
	p := &OIDCProvider{service: svc}
	if !cfg.isSet() {
		return p, nil
	}

	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider: %w", err)
	}

	p.enabled = true
	p.oauth2 = oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
	}
	p.verifier = provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID})
	return p, nil
}

func (p *OIDCProvider) Enabled() bool { return p.enabled }

func (p *OIDCProvider) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !p.enabled {
		http.NotFound(w, r)
		return
	}

	state, err := generateState()
	if err != nil {
		log.Printf("oidc: failed to generate state: %v", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, p.oauth2.AuthCodeURL(state), http.StatusFound)
}

func (p *OIDCProvider) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if !p.enabled {
		http.NotFound(w, r)
		return
	}

	stateCookie, err := r.Cookie(oidcStateCookieName)
	if err != nil || stateCookie.Value != r.URL.Query().Get("state") {
		http.Error(w, `{"error":"invalid state"}`, http.StatusBadRequest)
		return
	}

	token, err := p.oauth2.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		log.Printf("oidc: token exchange error: %v", err)
		http.Error(w, `{"error":"authentication failed"}`, http.StatusUnauthorized)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, `{"error":"missing id_token"}`, http.StatusUnauthorized)
		return
	}

	idToken, err := p.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		log.Printf("oidc: token verify error: %v", err)
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}

	var claims struct {
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
		Sub               string `json:"sub"`
	}
	if err := idToken.Claims(&claims); err != nil {
		http.Error(w, `{"error":"invalid claims"}`, http.StatusUnauthorized)
		return
	}

	username := firstNonEmpty(claims.PreferredUsername, claims.Email, claims.Sub)
	user, err := p.service.Store().GetAuthUserByUsername(username)
	if err != nil || !user.IsActive {
		http.Redirect(w, r, "/?error=unknown_account", http.StatusFound)
		return
	}

	pair, err := p.service.IssueTokens(user)
	if err != nil {
		log.Printf("oidc: issuing tokens: %v", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	if err := p.service.Store().UpdateLastLogin(user.ID); err != nil {
		log.Printf("oidc: updating last login: %v", err)
	}
	p.service.SetCookies(w, r, pair)

	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
