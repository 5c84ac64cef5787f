package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/pagegate/internal/model"
)

// mockSessionVerifier はテスト用のSessionVerifier実装。
type mockSessionVerifier struct {
	verifyFn func(ctx context.Context, credential string) (*model.Principal, error)
	calls    []string
}

func (m *mockSessionVerifier) Verify(ctx context.Context, credential string) (*model.Principal, error) {
	m.calls = append(m.calls, credential)
	if m.verifyFn != nil {
		return m.verifyFn(ctx, credential)
	}
	return nil, model.ErrUnauthenticated
}

func validVerifier() *mockSessionVerifier {
	return &mockSessionVerifier{
		verifyFn: func(ctx context.Context, credential string) (*model.Principal, error) {
			if credential == "valid-cookie" {
				return &model.Principal{Subject: "user-123", Email: "user@example.com"}, nil
			}
			return nil, model.ErrUnauthenticated
		},
	}
}

func TestAdmissionGate_ValidSession_InjectsPrincipal(t *testing.T) {
	var gotSubject, gotEmail string
	handler := NewAdmissionGate(validVerifier(), CallerAPI)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := PrincipalFromContext(r.Context())
		if err != nil {
			t.Fatalf("principal not in context: %v", err)
		}
		gotSubject = principal.Subject
		gotEmail = principal.Email
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-cookie"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotSubject != "user-123" || gotEmail != "user@example.com" {
		t.Errorf("principal = (%q, %q), want (user-123, user@example.com)", gotSubject, gotEmail)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "private, no-store" {
		t.Errorf("Cache-Control = %q, want %q", cc, "private, no-store")
	}
}

func TestAdmissionGate_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		cookie     *http.Cookie
		class      CallerClass
		wantStatus int
	}{
		{"API呼び出し: Cookie無し", nil, CallerAPI, http.StatusUnauthorized},
		{"API呼び出し: 空のCookie", &http.Cookie{Name: SessionCookieName, Value: ""}, CallerAPI, http.StatusUnauthorized},
		{"API呼び出し: 不正なCookie", &http.Cookie{Name: SessionCookieName, Value: "forged"}, CallerAPI, http.StatusUnauthorized},
		{"ページ遷移: Cookie無し", nil, CallerPage, http.StatusFound},
		{"ページ遷移: 不正なCookie", &http.Cookie{Name: SessionCookieName, Value: "forged"}, CallerPage, http.StatusFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewAdmissionGate(validVerifier(), tt.class)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if called {
				t.Error("downstream handler must not run for an unauthenticated request")
			}
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			switch tt.class {
			case CallerPage:
				if loc := w.Header().Get("Location"); loc != "/" {
					t.Errorf("Location = %q, want %q", loc, "/")
				}
			case CallerAPI:
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode body: %v", err)
				}
				if body.Code != model.ErrCodeUnauthenticated {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthenticated)
				}
			}
		})
	}
}

func TestAdmissionGate_VerifierErrorFailsClosed(t *testing.T) {
	verifier := &mockSessionVerifier{
		verifyFn: func(ctx context.Context, credential string) (*model.Principal, error) {
			return nil, errors.New("identity provider exploded")
		},
	}

	handler := NewAdmissionGate(verifier, CallerAPI)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "anything"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAdmissionGate_MissingCookiePassesEmptyCredential(t *testing.T) {
	verifier := validVerifier()
	handler := NewAdmissionGate(verifier, CallerAPI)(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/me", nil))

	if len(verifier.calls) != 1 || verifier.calls[0] != "" {
		t.Errorf("verifier calls = %q, want one empty credential", verifier.calls)
	}
}

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
}

func TestUserIDFromContext_ValidValue_ReturnsUserID(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "user-456")

	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-456" {
		t.Errorf("userID = %q, want %q", userID, "user-456")
	}
}

func TestCallerClass_String(t *testing.T) {
	if CallerPage.String() != "page" || CallerAPI.String() != "api" {
		t.Errorf("unexpected names: %q, %q", CallerPage, CallerAPI)
	}
}
