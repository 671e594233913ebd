package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/sdko-org/authlog/internal/models"
)

// UserMapping names the userinfo claims a User is built from.
type UserMapping struct {
	KeyID    string
	KeyName  string
	KeyEmail string
	KeyRoles string
	// EmailID uses the local part of the email address as the user id.
	EmailID bool
}

func DefaultUserMapping() UserMapping {
	return UserMapping{
		KeyID:    "id",
		KeyName:  "name",
		KeyEmail: "email",
		KeyRoles: "role",
	}
}

// FromUserinfo builds a user from the claims stored in a session.
func (m UserMapping) FromUserinfo(info map[string]interface{}) (*models.User, error) {
	email, err := stringClaim(info, m.KeyEmail)
	if err != nil {
		return nil, err
	}
	name, err := stringClaim(info, m.KeyName)
	if err != nil {
		return nil, err
	}

	var id string
	if m.EmailID {
		id, _, _ = strings.Cut(email, "@")
	} else if id, err = stringClaim(info, m.KeyID); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("userinfo has an empty id")
	}

	roles, err := rolesClaim(info, m.KeyRoles)
	if err != nil {
		return nil, err
	}

	return &models.User{ID: id, Name: name, Email: email, Roles: roles}, nil
}

func stringClaim(info map[string]interface{}, key string) (string, error) {
	v, ok := info[key]
	if !ok {
		return "", fmt.Errorf("userinfo is missing %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("userinfo %q is %T, not a string", key, v)
	}
	return s, nil
}

func rolesClaim(info map[string]interface{}, key string) ([]string, error) {
	switch v := info[key].(type) {
	case nil:
		return []string{}, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		roles := make([]string, 0, len(v))
		for _, r := range v {
			s, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("userinfo %q contains %T, not a string", key, r)
			}
			roles = append(roles, s)
		}
		return roles, nil
	default:
		return nil, fmt.Errorf("userinfo %q is %T, not a list", key, v)
	}
}

type userKey struct{}

func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey{}).(*models.User)
	return u, ok && u != nil
}
