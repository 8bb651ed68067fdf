package calendarsync

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateTTL = 10 * time.Minute

// ErrInvalidState is returned for a tampered or expired OAuth state.
var ErrInvalidState = errors.New("calendarsync: invalid oauth state")

// State identifies whose calendar an OAuth round trip connects.
type State struct {
	TenantID string
	StaffID  *string
}

type stateClaims struct {
	TenantID string `json:"tenant_id"`
	StaffID  string `json:"staff_id,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner signs the OAuth state parameter so the callback can trust
// the tenant and staff it names.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), now: time.Now}
}

func (s *StateSigner) Sign(tenantID string, staffID *string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("calendarsync: state secret not configured")
	}
	now := s.now()
	claims := stateClaims{
		TenantID: tenantID,
		StaffID:  staffKey(staffID),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("calendarsync: sign state: %w", err)
	}
	return signed, nil
}

func (s *StateSigner) Verify(raw string) (State, error) {
	if len(s.secret) == 0 {
		return State{}, ErrInvalidState
	}
	var claims stateClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid || claims.TenantID == "" {
		return State{}, ErrInvalidState
	}
	st := State{TenantID: claims.TenantID}
	if claims.StaffID != "" {
		id := claims.StaffID
		st.StaffID = &id
	}
	return st, nil
}
