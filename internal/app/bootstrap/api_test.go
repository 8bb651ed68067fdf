package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	appconfig "github.com/wolfman30/agenda-platform/internal/config"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

func memoryConfig() *appconfig.Config {
	return &appconfig.Config{
		UseMemoryStore:       true,
		DefaultTimezone:      "America/Sao_Paulo",
		StaffInitialStatus:   "confirmed",
		StaffJWTSecret:       "secret",
		RateLimitRPS:         10,
		RateLimitBurst:       10,
		SyncRetryMaxAttempts: 5,
	}
}

func TestBuildAPIRequiresConfig(t *testing.T) {
	if _, err := BuildAPI(context.Background(), nil, nil, logging.New("error")); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildAPIInMemoryServesHealthAndMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api, err := BuildAPI(ctx, memoryConfig(), nil, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	api.Start(ctx)
	defer func() {
		cancel()
		api.Close()
	}()

	rr := httptest.NewRecorder()
	api.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	api.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("expected runtime collectors to be registered")
	}

	if api.Calendar.Retrying != nil {
		t.Fatalf("expected no retry queue without AWS config")
	}
	if api.events != nil {
		t.Fatalf("expected no event stream without kafka brokers")
	}
}

func TestBuildAPIMirrorsStatusEventsWhenKafkaConfigured(t *testing.T) {
	cfg := memoryConfig()
	cfg.KafkaBrokers = []string{"127.0.0.1:9092"}
	cfg.KafkaStatusTopic = "appointments.status"

	api, err := BuildAPI(context.Background(), cfg, nil, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer api.Close()
	if api.events == nil {
		t.Fatalf("expected kafka event stream to be wired")
	}
}

func TestBuildAPIOAuthNeedsClientAndStateSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.GoogleClientID = "client-id"

	api, err := BuildAPI(context.Background(), cfg, nil, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer api.Close()

	req := httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=abc&state=x", nil)
	rr := httptest.NewRecorder()
	api.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without state secret, got %d", rr.Code)
	}
}

func TestBuildRedisClient(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true); client != nil {
		t.Fatalf("expected nil client without address")
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, true)
	if client == nil {
		t.Fatalf("expected client for live redis")
	}
	_ = client.Close()

	addr := mr.Addr()
	mr.Close()
	if client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, nil, true); client != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	if pool := ConnectPostgresPool(context.Background(), "", logging.New("error")); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
}

func TestBuildEmailSenderFallsBackToStub(t *testing.T) {
	_, provider := BuildEmailSender(&appconfig.Config{}, nil, nil)
	if provider != "stub" {
		t.Fatalf("expected stub provider, got %s", provider)
	}
	_, provider = BuildEmailSender(&appconfig.Config{SendGridAPIKey: "key", SendGridFromEmail: "agenda@example.com"}, nil, nil)
	if provider != "sendgrid" {
		t.Fatalf("expected sendgrid provider, got %s", provider)
	}
}
