package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sdko-org/authlog/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Backend resolves the user behind a request from its session and keeps the
// users table in sync with the identity provider's view of that user.
type Backend struct {
	db       *gorm.DB
	sessions *Sessions
	mapping  UserMapping
	log      *logrus.Entry
}

func NewBackend(logger *logrus.Logger, db *gorm.DB, sessions *Sessions, mapping UserMapping) *Backend {
	return &Backend{
		db:       db,
		sessions: sessions,
		mapping:  mapping,
		log:      logger.WithField("component", "auth_backend"),
	}
}

// Authenticate returns the session's user or nil for anonymous requests.
// Expired or unreadable sessions are cleared.
func (b *Backend) Authenticate(w http.ResponseWriter, r *http.Request) (*models.User, error) {
	info, err := b.sessions.Load(r)
	if errors.Is(err, ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		b.log.WithError(err).Debug("Dropping session")
		b.sessions.Clear(w)
		return nil, nil
	}

	user, err := b.mapping.FromUserinfo(info)
	if err != nil {
		b.log.WithError(err).Warn("Session userinfo cannot be mapped to a user")
		b.sessions.Clear(w)
		return nil, nil
	}

	if err := b.UpsertUser(r.Context(), user); err != nil {
		return nil, err
	}
	return user, nil
}

func (b *Backend) UpsertUser(ctx context.Context, user *models.User) error {
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "roles"}),
	}).Create(user).Error
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", user.ID, err)
	}
	return nil
}

// Middleware stores the authenticated user, if any, in the request context.
func (b *Backend) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := b.Authenticate(w, r)
		if err != nil {
			b.log.WithError(err).Error("Authentication failed")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if user != nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
