package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/smazurov/relaynode/internal/relay"
)

// AnonymousUser owns sessions started while no users are configured.
const AnonymousUser = "anonymous"

const authRealm = `Basic realm="relaynode API"`

// User is a static API account. Password is either plain text or a bcrypt
// hash ("$2a$...", "$2b$...").
type User struct {
	Name     string
	Password string
	Role     string
}

// ParseUsers parses "name:password[:role]" entries. The role defaults to
// user. The password may not contain ':'; use a bcrypt hash if it must.
func ParseUsers(entries []string) ([]User, error) {
	users := make([]User, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid user entry for %q: want name:password[:role]", parts[0])
		}
		u := User{Name: parts[0], Password: parts[1], Role: relay.RoleUser}
		if len(parts) == 3 {
			u.Role = parts[2]
		}
		switch u.Role {
		case relay.RoleUser, relay.RoleAdmin, relay.RoleMasterAdmin:
		default:
			return nil, fmt.Errorf("user %q: unknown role %q", u.Name, u.Role)
		}
		if seen[u.Name] {
			return nil, fmt.Errorf("user %q: duplicate entry", u.Name)
		}
		seen[u.Name] = true
		users = append(users, u)
	}
	return users, nil
}

func (u User) checkPassword(password string) bool {
	if strings.HasPrefix(u.Password, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
}

// Identity is the authenticated caller of a request.
type Identity struct {
	User string
	Role string
}

type identityKey struct{}

// IdentityFrom returns the caller stored by the auth middleware, or the
// anonymous user when authentication is disabled.
func IdentityFrom(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return Identity{User: AnonymousUser, Role: relay.RoleUser}
}

// basicAuthMiddleware authenticates against the configured users and
// stores the caller's Identity in the request context.
func (s *Server) basicAuthMiddleware(users []User) func(huma.Context, func(huma.Context)) {
	byName := make(map[string]User, len(users))
	for _, u := range users {
		byName[u.Name] = u
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		credentials, problem := requestCredentials(ctx)
		if problem != "" {
			s.unauthorized(ctx, problem)
			return
		}

		name, password, ok := strings.Cut(credentials, ":")
		if !ok {
			s.unauthorized(ctx, "Invalid credentials format")
			return
		}

		u, found := byName[name]
		if !found || !u.checkPassword(password) {
			s.unauthorized(ctx, "Invalid credentials")
			return
		}

		next(huma.WithValue(ctx, identityKey{}, Identity{User: u.Name, Role: u.Role}))
	}
}

// requestCredentials reads "name:password" from the Authorization header
// or, for EventSource clients that cannot set headers, the auth query
// parameter. A non-empty problem is the message for the 401 response.
func requestCredentials(ctx huma.Context) (credentials, problem string) {
	var encoded string
	if header := ctx.Header("Authorization"); header != "" {
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return "", "Invalid authentication type"
		}
		encoded = header[len(prefix):]
	} else {
		encoded = ctx.Query("auth")
	}
	if encoded == "" {
		return "", "Authentication required"
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "Invalid credentials format"
	}
	return string(decoded), ""
}

func (s *Server) unauthorized(ctx huma.Context, msg string) {
	ctx.SetHeader("WWW-Authenticate", authRealm)
	_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg)
}
