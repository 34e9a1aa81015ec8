// Package testutil provides shared helpers for exercising the debug HTTP
// routes in tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// LocalRemoteAddr passes the tsweb debug access check.
const LocalRemoteAddr = "127.0.0.1:12345"

// NewDebugRequest creates a request that appears to come from localhost.
func NewDebugRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = LocalRemoteAddr
	return req
}

// ServeDebug sends a local request through h and returns the recorded
// response.
func ServeDebug(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, NewDebugRequest(method, target, nil))
	return rec
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
