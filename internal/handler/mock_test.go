package handler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/pagegate/internal/lifecycle"
	"github.com/hitoshi/pagegate/internal/model"
	"github.com/hitoshi/pagegate/internal/pages"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn func(ctx context.Context, idToken string) (*model.SessionCredential, error)
	tokens  []string
}

func (m *mockAuthService) Login(ctx context.Context, idToken string) (*model.SessionCredential, error) {
	m.tokens = append(m.tokens, idToken)
	if m.loginFn != nil {
		return m.loginFn(ctx, idToken)
	}
	return nil, model.ErrAuthenticationFailed
}

type mockSessionVerifier struct {
	verifyFn func(ctx context.Context, credential string) (*model.Principal, error)
}

func (m *mockSessionVerifier) Verify(ctx context.Context, credential string) (*model.Principal, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, credential)
	}
	return nil, model.ErrUnauthenticated
}

type mockActivityService struct {
	mu        sync.Mutex
	appendFn  func(ctx context.Context, subject, action string) (*model.ActivityEntry, error)
	historyFn func(ctx context.Context, subject string, limit int) ([]*model.ActivityEntry, error)

	appended []model.ActivityEntry
	limits   []int
}

func (m *mockActivityService) Append(ctx context.Context, subject, action string) (*model.ActivityEntry, error) {
	m.mu.Lock()
	m.appended = append(m.appended, model.ActivityEntry{Subject: subject, Action: action})
	m.mu.Unlock()
	if m.appendFn != nil {
		return m.appendFn(ctx, subject, action)
	}
	return &model.ActivityEntry{ID: "01J0000000000000000000000A", Subject: subject, Action: action, CreatedAt: time.Now()}, nil
}

func (m *mockActivityService) History(ctx context.Context, subject string, limit int) ([]*model.ActivityEntry, error) {
	m.mu.Lock()
	m.limits = append(m.limits, limit)
	m.mu.Unlock()
	if m.historyFn != nil {
		return m.historyFn(ctx, subject, limit)
	}
	return nil, nil
}

type fakeInitStatus struct {
	state lifecycle.State
}

func (f *fakeInitStatus) State() lifecycle.State { return f.state }
func (f *fakeInitStatus) Ready() bool            { return f.state == lifecycle.StateReady }

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error { return m.err }

// --- ヘルパー ---

const (
	testIndexHTML     = "<html>public index</html>"
	testDashboardHTML = "<html>dashboard</html>"
	testStaticJS      = "console.log('signin')"
	validCookie       = "valid-session-cookie"
	testSubject       = "user-123"
)

// newTestResolver はトップページ・app.js・dashboardを持つResolverを一時ディレクトリに構築する。
// profileは許可リストにあるがファイルは存在しない。
func newTestResolver(t *testing.T) *pages.Resolver {
	t.Helper()

	publicDir := t.TempDir()
	privateDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(publicDir, pages.IndexFile), []byte(testIndexHTML), 0o644); err != nil {
		t.Fatalf("failed to write index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(privateDir, "dashboard.html"), []byte(testDashboardHTML), 0o644); err != nil {
		t.Fatalf("failed to write dashboard: %v", err)
	}
	if err := os.WriteFile(filepath.Join(publicDir, "app.js"), []byte(testStaticJS), 0o644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	if err := os.Mkdir(filepath.Join(publicDir, "css"), 0o755); err != nil {
		t.Fatalf("failed to create css dir: %v", err)
	}

	resolver, err := pages.NewResolver(publicDir, privateDir, []string{"dashboard", "profile"})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	t.Cleanup(func() { resolver.Close() })
	return resolver
}

func validSessionVerifier() *mockSessionVerifier {
	return &mockSessionVerifier{
		verifyFn: func(ctx context.Context, credential string) (*model.Principal, error) {
			if credential == validCookie {
				return &model.Principal{
					Subject:   testSubject,
					Email:     "user@example.com",
					ExpiresAt: time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC),
				}, nil
			}
			return nil, model.ErrUnauthenticated
		},
	}
}
