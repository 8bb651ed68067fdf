package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/agenda-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

const (
	refreshSkew         = 60 * time.Second
	defaultLockTTL      = 15 * time.Second
	defaultPollInterval = 100 * time.Millisecond
	refreshLockPrefix   = "calendarsync:refresh:"
)

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenManager hands out access tokens that stay valid for at least a minute.
// Refreshes are collapsed per key in process and, with Redis configured,
// serialized across instances.
type TokenManager struct {
	store        TokenStore
	oauth        refresher
	redis        *redis.Client
	lockTTL      time.Duration
	pollInterval time.Duration
	group        singleflight.Group
	now          func() time.Time
	metrics      *metrics.CalendarMetrics
	logger       *logging.Logger
}

// ManagerOption customizes a TokenManager.
type ManagerOption func(*TokenManager)

// WithRedisLock serializes refreshes across instances with SET NX PX.
func WithRedisLock(client *redis.Client, ttl time.Duration) ManagerOption {
	return func(m *TokenManager) {
		m.redis = client
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

func WithManagerMetrics(mm *metrics.CalendarMetrics) ManagerOption {
	return func(m *TokenManager) { m.metrics = mm }
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewTokenManager(store TokenStore, oauth refresher, logger *logging.Logger, opts ...ManagerOption) *TokenManager {
	if store == nil || oauth == nil {
		panic("calendarsync: token store and oauth client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &TokenManager{
		store:        store,
		oauth:        oauth,
		lockTTL:      defaultLockTTL,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidToken returns the token for (tenant, staff|null), refreshing and
// persisting it first when it expires within a minute.
func (m *TokenManager) GetValidToken(ctx context.Context, tenantID string, staffID *string) (*Token, error) {
	tok, err := m.load(ctx, tenantID, staffID)
	if err != nil {
		return nil, err
	}
	if !m.expiring(tok) {
		return tok, nil
	}

	// The shared refresh must not die with whichever caller started it, but it
	// may not outlive the lock that guards it either.
	ch := m.group.DoChan(tokenKey(tenantID, staffID), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.lockTTL)
		defer cancel()
		return m.refresh(rctx, tenantID, staffID)
	})
	select {
	case <-ctx.Done():
		return nil, &ProviderError{Op: "refresh token", Timeout: true, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		fresh := *res.Val.(*Token)
		return &fresh, nil
	}
}

func (m *TokenManager) load(ctx context.Context, tenantID string, staffID *string) (*Token, error) {
	tok, err := m.store.Get(ctx, tenantID, staffID)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrNotConnected
	}
	if tok.Status == TokenReconnectRequired {
		return nil, ErrTokenRefreshFailed
	}
	return tok, nil
}

func (m *TokenManager) expiring(tok *Token) bool {
	return !tok.Expiry.After(m.now().Add(refreshSkew))
}

func (m *TokenManager) refresh(ctx context.Context, tenantID string, staffID *string) (*Token, error) {
	key := tokenKey(tenantID, staffID)
	unlock, acquired, err := m.lock(ctx, key)
	if err != nil {
		m.logger.Warn("refresh lock unavailable, refreshing without it", "error", err, "tenant_id", tenantID)
	} else if !acquired {
		return m.waitForPeer(ctx, tenantID, staffID)
	}
	defer unlock()

	// Another instance may have refreshed while we waited for the lock.
	tok, err := m.load(ctx, tenantID, staffID)
	if err != nil {
		return nil, err
	}
	if !m.expiring(tok) {
		return tok, nil
	}

	fresh, err := m.oauth.Refresh(ctx, tok.RefreshToken)
	if errors.Is(err, ErrTokenRefreshFailed) {
		m.metrics.ObserveRefresh("revoked")
		if markErr := m.store.MarkReconnectRequired(ctx, tenantID, staffID); markErr != nil {
			m.logger.Error("mark reconnect required failed", "error", markErr, "tenant_id", tenantID, "staff_id", staffKey(staffID))
		}
		m.logger.Warn("calendar token revoked", "tenant_id", tenantID, "staff_id", staffKey(staffID))
		return nil, err
	}
	if err != nil {
		m.metrics.ObserveRefresh("failed")
		return nil, err
	}

	if err := m.store.UpdateAccess(ctx, tenantID, staffID, fresh.AccessToken, fresh.RefreshToken, fresh.Expiry); err != nil {
		m.metrics.ObserveRefresh("failed")
		return nil, fmt.Errorf("calendarsync: persist refreshed token: %w", err)
	}
	tok.AccessToken = fresh.AccessToken
	tok.Expiry = fresh.Expiry
	if fresh.RefreshToken != "" {
		tok.RefreshToken = fresh.RefreshToken
	}
	m.metrics.ObserveRefresh("refreshed")
	m.logger.Info("calendar token refreshed", "tenant_id", tenantID, "staff_id", staffKey(staffID), "expiry", tok.Expiry)
	return tok, nil
}

func (m *TokenManager) lock(ctx context.Context, key string) (func(), bool, error) {
	noop := func() {}
	if m.redis == nil {
		return noop, true, nil
	}
	lockKey := refreshLockPrefix + key
	owner := uuid.NewString()
	ok, err := m.redis.SetNX(ctx, lockKey, owner, m.lockTTL).Result()
	if err != nil {
		return noop, false, err
	}
	if !ok {
		return noop, false, nil
	}
	return func() {
		if err := releaseLock.Run(context.Background(), m.redis, []string{lockKey}, owner).Err(); err != nil {
			m.logger.Warn("release refresh lock failed", "error", err, "key", lockKey)
		}
	}, true, nil
}

// waitForPeer polls the store until the lock holder persists a fresh token.
func (m *TokenManager) waitForPeer(ctx context.Context, tenantID string, staffID *string) (*Token, error) {
	deadline := time.NewTimer(m.lockTTL)
	defer deadline.Stop()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, &ProviderError{Op: "refresh token", Timeout: true, Err: ctx.Err()}
		case <-deadline.C:
			return nil, &ProviderError{Op: "refresh token", Timeout: true, Err: errors.New("refresh lock held by another instance")}
		case <-ticker.C:
			tok, err := m.load(ctx, tenantID, staffID)
			if err != nil {
				return nil, err
			}
			if !m.expiring(tok) {
				return tok, nil
			}
		}
	}
}
