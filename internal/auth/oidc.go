package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Authenticator runs the provider side of the authorization code flow.
type Authenticator interface {
	AuthCodeURL(state string) string
	// Exchange trades a code for the verified ID token claims.
	Exchange(ctx context.Context, code string) (map[string]interface{}, error)
}

type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type oidcAuthenticator struct {
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier
}

func NewOIDCAuthenticator(ctx context.Context, cfg OIDCConfig) (Authenticator, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	return &oidcAuthenticator{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (a *oidcAuthenticator) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

func (a *oidcAuthenticator) Exchange(ctx context.Context, code string) (map[string]interface{}, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		return nil, nil
	}
	idToken, err := a.verifier.Verify(ctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id token claims: %w", err)
	}
	return claims, nil
}

// Handlers serves /login, /login/auth and /logout.
type Handlers struct {
	auth     Authenticator
	sessions *Sessions
	log      *logrus.Entry
}

func NewHandlers(logger *logrus.Logger, auth Authenticator, sessions *Sessions) *Handlers {
	return &Handlers{
		auth:     auth,
		sessions: sessions,
		log:      logger.WithField("component", "auth_handlers"),
	}
}

// Login redirects to the identity provider, remembering the next page.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if _, ok := UserFromContext(r.Context()); ok {
		if next == "" {
			next = cookieValue(r, nextCookie)
		}
		http.Redirect(w, r, safeRedirect(next), http.StatusFound)
		return
	}

	expires := time.Now().Add(10 * time.Minute)
	if next != "" {
		h.sessions.setCookie(w, nextCookie, url.QueryEscape(next), expires)
	}
	state := uuid.NewString()
	h.sessions.setCookie(w, stateCookie, state, expires)
	http.Redirect(w, r, h.auth.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the code flow and stores the user's claims in the session.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" || state != cookieValue(r, stateCookie) {
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}
	h.sessions.clearCookie(w, stateCookie)

	claims, err := h.auth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.log.WithError(err).Warn("OIDC code exchange failed")
		http.Error(w, "Authentication failed", http.StatusBadGateway)
		return
	}

	redirect := "/login"
	if claims != nil {
		if err := h.sessions.Save(w, claims); err != nil {
			h.log.WithError(err).Error("Failed to save session")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		redirect = "/"
		if next, err := url.QueryUnescape(cookieValue(r, nextCookie)); err == nil && next != "" {
			redirect = safeRedirect(next)
		}
		h.sessions.clearCookie(w, nextCookie)
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// safeRedirect only allows local absolute paths.
func safeRedirect(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
