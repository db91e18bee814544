package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pkghttp.ErrorResponse{Error: "test_error", Message: "Test message", Details: "Additional details"}, resp)
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		write  func(http.ResponseWriter, string)
		status int
		code   string
	}{
		{pkghttp.WriteBadRequest, http.StatusBadRequest, "bad_request"},
		{pkghttp.WriteUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{pkghttp.WriteForbidden, http.StatusForbidden, "forbidden"},
		{pkghttp.WriteNotFound, http.StatusNotFound, "not_found"},
		{pkghttp.WriteTooManyRequests, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{pkghttp.WriteAccountLocked, http.StatusForbidden, "account_locked"},
		{pkghttp.WriteServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{pkghttp.WriteInternalError, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "msg")

			assert.Equal(t, tt.status, w.Code)

			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp["error"])
			assert.Equal(t, "msg", resp["message"])
			assert.NotContains(t, resp, "details")
		})
	}
}
