package tello

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localHostRequest creates a request that appears to come from localhost,
// which tsweb's debug access check requires.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutes(t *testing.T) {
	d, link := newSimDrone(t, nil, nil)
	httpMux := http.NewServeMux()
	d.cmd.(*CommandMux[*MockLink]).AttachAdminRoutes(httpMux)
	d.AttachAdminRoutes(httpMux)

	tests := []struct {
		name   string
		method string
		path   string
		form   url.Values
		status int
		body   string
	}{
		{"console page", http.MethodGet, "/debug/tello", nil, http.StatusOK, "Tello command console"},
		{"query", http.MethodPost, "/debug/tello-send-api", url.Values{"command": {"sdk?"}}, http.StatusOK, `"2.0"`},
		{"rc is fire and forget", http.MethodPost, "/debug/tello-send-api", url.Values{"command": {"rc 0 0 0 0"}}, http.StatusOK, "Sent"},
		{"empty command", http.MethodPost, "/debug/tello-send-api", url.Values{"command": {"  "}}, http.StatusBadRequest, "Missing command"},
		{"wrong method", http.MethodGet, "/debug/tello-send-api", nil, http.StatusMethodNotAllowed, ""},
		{"script", http.MethodGet, "/debug/tello-tail.js", nil, http.StatusOK, "EventSource"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.form != nil {
				body = strings.NewReader(tt.form.Encode())
			}
			req := localHostRequest(tt.method, tt.path, body)
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
	assert.Contains(t, link.Commands(), "rc 0 0 0 0")

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/tello-status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "ok", st.Link)
}
