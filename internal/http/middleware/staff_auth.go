package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/agenda-platform/internal/tenancy"
)

type contextKey string

const staffClaimsKey contextKey = "staffClaims"

// StaffClaims identifies the operator behind a staff request. StaffID is empty
// for tenant-wide operators.
type StaffClaims struct {
	TenantID string `json:"tenant_id"`
	StaffID  string `json:"staff_id,omitempty"`
	jwt.RegisteredClaims
}

// StaffJWT enforces an HMAC-signed JWT on staff endpoints and places the
// tenant and staff ids into the request context.
func StaffJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "staff auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := StaffClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if strings.TrimSpace(claims.TenantID) == "" {
				http.Error(w, "token has no tenant", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), staffClaimsKey, claims)
			ctx = tenancy.WithTenantID(ctx, claims.TenantID)
			if claims.StaffID != "" {
				ctx = tenancy.WithStaffID(ctx, claims.StaffID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaffClaimsFromContext returns staff JWT claims if present.
func StaffClaimsFromContext(ctx context.Context) (StaffClaims, bool) {
	claims, ok := ctx.Value(staffClaimsKey).(StaffClaims)
	return claims, ok
}
