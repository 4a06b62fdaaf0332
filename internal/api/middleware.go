/**
 * @description
 * Authentication middleware for the HTTP router. Bearer tokens are HS256 JWTs whose
 * subject is the caller's worker or staff id and whose "role" claim selects what the
 * caller may do. NGO staff tokens carry the organization they act for in "org_id".
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and signature validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the caller's role claim.
type Role string

const (
	RoleWorker Role = "worker"
	RoleNGO    Role = "ngo"
	RoleAdmin  Role = "admin"
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    Role
	OrgID   string
}

// Claims is the JWT payload accepted by JWTAuthMiddleware.
type Claims struct {
	Role  Role   `json:"role"`
	OrgID string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

type principalContextKey string

const principalKey principalContextKey = "principal"

// AuthConfig configures token validation. Issuer is only enforced when set.
type AuthConfig struct {
	Secret string
	Issuer string
}

// JWTAuthMiddleware validates the bearer token and stores the Principal in the request context.
func JWTAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(options...)
	secret := []byte(cfg.Secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required")
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format")
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if len(secret) == 0 {
					return nil, fmt.Errorf("token secret is not configured")
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "unauthorized", fmt.Sprintf("Invalid token: %v", err))
				return
			}

			subject := strings.TrimSpace(claims.Subject)
			if subject == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Subject not found in token")
				return
			}
			switch claims.Role {
			case RoleWorker, RoleNGO, RoleAdmin:
			default:
				writeError(w, http.StatusUnauthorized, "unauthorized", "Unknown role in token")
				return
			}

			principal := Principal{Subject: subject, Role: claims.Role, OrgID: strings.TrimSpace(claims.OrgID)}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := GetPrincipal(r.Context())
			if !ok || !slices.Contains(roles, principal.Role) {
				writeError(w, http.StatusForbidden, "forbidden", "Role not permitted for this endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal retrieves the authenticated caller from the request context.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey).(Principal)
	return principal, ok
}

// actsForOrg reports whether the caller may manage orgID's tasks and redemptions.
func (p Principal) actsForOrg(orgID string) bool {
	return p.Role == RoleAdmin || (p.Role == RoleNGO && p.OrgID != "" && p.OrgID == orgID)
}

// actsForWorker reports whether the caller may read or spend workerID's wallet.
func (p Principal) actsForWorker(workerID string) bool {
	return p.Role == RoleAdmin || (p.Role == RoleWorker && p.Subject == workerID)
}
