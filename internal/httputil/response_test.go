package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad limit") }, http.StatusBadRequest, "bad limit"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no session") }, http.StatusNotFound, "no session"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.msg, decode(t, rec)["error"])
		})
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"battery": 72})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 72.0, decode(t, rec)["battery"])
}

func TestRequireMethod(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	assert.True(t, RequireMethod(rec, httptest.NewRequest(http.MethodPost, "/", nil), http.MethodGet, http.MethodPost))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	assert.False(t, RequireMethod(rec, httptest.NewRequest(http.MethodDelete, "/", nil), http.MethodGet))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
