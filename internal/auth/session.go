package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	SessionCookie = "session"
	nextCookie    = "next"
	stateCookie   = "oauth_state"
)

var (
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired")
)

// Sessions keeps the OIDC userinfo in a signed HS256 cookie.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewSessions(secret string, ttl time.Duration, secure bool) (*Sessions, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, secure: secure, now: time.Now}, nil
}

// Save writes userinfo to the session cookie. The session expires at the
// userinfo "exp" claim when present, otherwise after the configured TTL.
func (s *Sessions) Save(w http.ResponseWriter, userinfo map[string]interface{}) error {
	exp := s.now().Add(s.ttl)
	if v, ok := userinfo["exp"].(float64); ok {
		exp = time.Unix(int64(v), 0)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userinfo": userinfo,
		"exp":      exp.Unix(),
		"iat":      s.now().Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}

	s.setCookie(w, SessionCookie, signed, exp)
	return nil
}

// Load returns the userinfo stored in the request's session cookie.
func (s *Sessions) Load(r *http.Request) (map[string]interface{}, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}

	tok, err := jwt.Parse(c.Value, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("parse session: %w", err)
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse session: unexpected claims type")
	}
	info, ok := claims["userinfo"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("parse session: userinfo missing")
	}
	return info, nil
}

func (s *Sessions) Clear(w http.ResponseWriter) {
	s.clearCookie(w, SessionCookie)
}

func (s *Sessions) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Sessions) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}
