package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockStatusRecorder struct {
	statuses []int
}

func (m *mockStatusRecorder) RecordHTTPStatus(statusCode int) {
	m.statuses = append(m.statuses, statusCode)
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	recorder := &mockStatusRecorder{}

	mw := NewMetricsMiddleware(recorder)
	mw(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	mw(NewAdmissionGate(validVerifier(), CallerAPI)(okHandler())).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/me", nil))
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("implicit 200"))
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []int{http.StatusOK, http.StatusUnauthorized, http.StatusOK}
	if len(recorder.statuses) != len(want) {
		t.Fatalf("recorded %v, want %v", recorder.statuses, want)
	}
	for i := range want {
		if recorder.statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %d, want %d", i, recorder.statuses[i], want[i])
		}
	}
}
