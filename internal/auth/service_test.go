package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/pagegate/internal/config"
	"github.com/hitoshi/pagegate/internal/idp"
	"github.com/hitoshi/pagegate/internal/model"
)

// --- モック定義 ---

type mockProvider struct {
	verifyIDTokenFn       func(ctx context.Context, idToken string) (*model.Principal, error)
	createSessionCookieFn func(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
	verifySessionCookieFn func(ctx context.Context, cookie string, checkRevoked bool) (*model.Principal, error)
}

func (m *mockProvider) VerifyIDToken(ctx context.Context, idToken string) (*model.Principal, error) {
	if m.verifyIDTokenFn != nil {
		return m.verifyIDTokenFn(ctx, idToken)
	}
	return &model.Principal{Subject: "alice"}, nil
}

func (m *mockProvider) CreateSessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error) {
	if m.createSessionCookieFn != nil {
		return m.createSessionCookieFn(ctx, idToken, expiresIn)
	}
	return "session-cookie", nil
}

func (m *mockProvider) VerifySessionCookie(ctx context.Context, cookie string, checkRevoked bool) (*model.Principal, error) {
	if m.verifySessionCookieFn != nil {
		return m.verifySessionCookieFn(ctx, cookie, checkRevoked)
	}
	return &model.Principal{Subject: "alice"}, nil
}

func (m *mockProvider) Warmup(_ context.Context) error {
	return nil
}

type recordCall struct {
	subject string
	action  string
}

type mockRecorder struct {
	mu    sync.Mutex
	calls []recordCall
}

func (m *mockRecorder) Record(subject, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordCall{subject: subject, action: action})
}

type mockMetrics struct {
	mu     sync.Mutex
	login  map[string]int
	verify map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{login: map[string]int{}, verify: map[string]int{}}
}

func (m *mockMetrics) IncLogin(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.login[result]++
}

func (m *mockMetrics) IncSessionVerify(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verify[result]++
}

// --- compile-time interface checks ---
var _ idp.Provider = (*mockProvider)(nil)
var _ ActivityRecorder = (*mockRecorder)(nil)
var _ Metrics = (*mockMetrics)(nil)

func defaultConfig() ServiceConfig {
	return ServiceConfig{SessionLifetime: config.MaxSessionLifetime, CheckRevoked: true, ProviderTimeout: time.Second}
}

// --- テスト ---

func TestLogin_ValidToken_MintsCookieAndRecordsLogin(t *testing.T) {
	var gotTTL time.Duration
	provider := &mockProvider{
		verifyIDTokenFn: func(_ context.Context, idToken string) (*model.Principal, error) {
			if idToken != "valid-id-token" {
				t.Errorf("unexpected token %q", idToken)
			}
			return &model.Principal{Subject: "alice"}, nil
		},
		createSessionCookieFn: func(_ context.Context, _ string, expiresIn time.Duration) (string, error) {
			gotTTL = expiresIn
			return "minted", nil
		},
	}
	recorder := &mockRecorder{}
	metrics := newMockMetrics()
	svc := NewService(provider, recorder, metrics, defaultConfig())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	cred, err := svc.Login(context.Background(), "valid-id-token")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cred.Value != "minted" {
		t.Errorf("Value = %q, want minted", cred.Value)
	}
	if cred.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", cred.Subject)
	}
	if cred.Lifetime() != 5*24*time.Hour {
		t.Errorf("Lifetime = %v, want 120h", cred.Lifetime())
	}
	if !cred.ExpiresAt.Equal(now.Add(5 * 24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", cred.ExpiresAt)
	}
	if gotTTL != 5*24*time.Hour {
		t.Errorf("requested ttl = %v, want 120h", gotTTL)
	}
	if len(recorder.calls) != 1 || recorder.calls[0] != (recordCall{"alice", "login"}) {
		t.Errorf("recorded = %+v, want exactly one {alice login}", recorder.calls)
	}
	if metrics.login["success"] != 1 {
		t.Errorf("login success count = %d", metrics.login["success"])
	}
}

func TestLogin_EmptyToken_ReturnsAuthenticationFailed(t *testing.T) {
	provider := &mockProvider{
		verifyIDTokenFn: func(context.Context, string) (*model.Principal, error) {
			t.Fatal("provider must not be called for an empty token")
			return nil, nil
		},
	}
	recorder := &mockRecorder{}
	svc := NewService(provider, recorder, nil, defaultConfig())

	_, err := svc.Login(context.Background(), "")
	if !errors.Is(err, model.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if len(recorder.calls) != 0 {
		t.Errorf("no activity expected, got %+v", recorder.calls)
	}
}

func TestLogin_InvalidToken_DoesNotMint(t *testing.T) {
	minted := false
	provider := &mockProvider{
		verifyIDTokenFn: func(context.Context, string) (*model.Principal, error) {
			return nil, idp.ErrInvalidToken
		},
		createSessionCookieFn: func(context.Context, string, time.Duration) (string, error) {
			minted = true
			return "x", nil
		},
	}
	recorder := &mockRecorder{}
	metrics := newMockMetrics()
	svc := NewService(provider, recorder, metrics, defaultConfig())

	cred, err := svc.Login(context.Background(), "expired-token")
	if !errors.Is(err, model.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if cred != nil {
		t.Error("expected nil credential")
	}
	if minted {
		t.Error("session cookie must not be minted for an invalid token")
	}
	if len(recorder.calls) != 0 {
		t.Errorf("no activity expected, got %+v", recorder.calls)
	}
	if metrics.login["invalid"] != 1 {
		t.Errorf("login invalid count = %d", metrics.login["invalid"])
	}
}

func TestLogin_ProviderUnreachable_ReturnsUpstreamUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		provider *mockProvider
	}{
		{
			name: "verify",
			provider: &mockProvider{
				verifyIDTokenFn: func(context.Context, string) (*model.Principal, error) {
					return nil, idp.ErrUpstreamUnavailable
				},
			},
		},
		{
			name: "mint",
			provider: &mockProvider{
				createSessionCookieFn: func(context.Context, string, time.Duration) (string, error) {
					return "", idp.ErrUpstreamUnavailable
				},
			},
		},
		{
			name: "timeout",
			provider: &mockProvider{
				createSessionCookieFn: func(ctx context.Context, _ string, _ time.Duration) (string, error) {
					<-ctx.Done()
					return "", ctx.Err()
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &mockRecorder{}
			cfg := defaultConfig()
			cfg.ProviderTimeout = 20 * time.Millisecond
			svc := NewService(tt.provider, recorder, nil, cfg)

			_, err := svc.Login(context.Background(), "valid-id-token")
			if !errors.Is(err, model.ErrUpstreamUnavailable) {
				t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
			}
			if errors.Is(err, model.ErrAuthenticationFailed) {
				t.Error("upstream failure must not be reported as authentication failure")
			}
			if len(recorder.calls) != 0 {
				t.Errorf("no activity expected, got %+v", recorder.calls)
			}
		})
	}
}

func TestLogin_ClientCancellation_DoesNotAbortMinting(t *testing.T) {
	provider := &mockProvider{
		createSessionCookieFn: func(ctx context.Context, _ string, _ time.Duration) (string, error) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "minted", nil
		},
	}
	recorder := &mockRecorder{}
	svc := NewService(provider, recorder, nil, defaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cred, err := svc.Login(ctx, "valid-id-token")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cred.Value != "minted" {
		t.Errorf("Value = %q", cred.Value)
	}
	if len(recorder.calls) != 1 {
		t.Errorf("expected one login activity, got %d", len(recorder.calls))
	}
}

func TestNewService_ClampsLifetime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{30 * 24 * time.Hour, config.MaxSessionLifetime},
		{time.Second, config.MinSessionLifetime},
		{time.Hour, time.Hour},
	}
	for _, tt := range tests {
		svc := NewService(&mockProvider{}, nil, nil, ServiceConfig{SessionLifetime: tt.in})
		if got := svc.SessionLifetime(); got != tt.want {
			t.Errorf("SessionLifetime(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVerify_ValidCookie_ReturnsPrincipal(t *testing.T) {
	var gotCheckRevoked bool
	provider := &mockProvider{
		verifySessionCookieFn: func(_ context.Context, cookie string, checkRevoked bool) (*model.Principal, error) {
			if cookie != "good-cookie" {
				t.Errorf("cookie = %q", cookie)
			}
			gotCheckRevoked = checkRevoked
			return &model.Principal{Subject: "alice"}, nil
		},
	}
	metrics := newMockMetrics()
	svc := NewService(provider, nil, metrics, defaultConfig())

	p, err := svc.Verify(context.Background(), "good-cookie")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", p.Subject)
	}
	if !gotCheckRevoked {
		t.Error("checkRevoked should be passed through")
	}
	if metrics.verify["ok"] != 1 {
		t.Errorf("verify ok count = %d", metrics.verify["ok"])
	}
}

func TestVerify_FailsClosed(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		providerFn func(context.Context, string, bool) (*model.Principal, error)
		wantResult string
	}{
		{"missing", "", nil, "missing"},
		{"invalid", "tampered", func(context.Context, string, bool) (*model.Principal, error) {
			return nil, idp.ErrInvalidToken
		}, "invalid"},
		{"revoked", "revoked", func(context.Context, string, bool) (*model.Principal, error) {
			return nil, idp.ErrRevoked
		}, "invalid"},
		{"disabled", "disabled", func(context.Context, string, bool) (*model.Principal, error) {
			return nil, idp.ErrUserDisabled
		}, "invalid"},
		{"key fetch failure", "any", func(context.Context, string, bool) (*model.Principal, error) {
			return nil, idp.ErrUpstreamUnavailable
		}, "upstream_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := newMockMetrics()
			provider := &mockProvider{verifySessionCookieFn: tt.providerFn}
			svc := NewService(provider, nil, metrics, defaultConfig())

			p, err := svc.Verify(context.Background(), tt.credential)
			if !errors.Is(err, model.ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
			if p != nil {
				t.Error("expected nil principal")
			}
			if metrics.verify[tt.wantResult] != 1 {
				t.Errorf("verify[%s] = %d, want 1", tt.wantResult, metrics.verify[tt.wantResult])
			}
		})
	}
}
