package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSetsStatusCodeFromCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, New(ErrCodeBadRequest, "bad").StatusCode)
	assert.Equal(t, http.StatusNotFound, New(ErrCodeNotFound, "missing").StatusCode)
	assert.Equal(t, http.StatusConflict, New(ErrCodeConflict, "conflict").StatusCode)
	assert.Equal(t, http.StatusConflict, New(ErrCodeOperationInFlight, "busy").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, New(ErrCodeServiceUnavailable, "down").StatusCode)
	assert.Equal(t, http.StatusInternalServerError, New(ErrCodeInternalServer, "oops").StatusCode)
	assert.Equal(t, http.StatusInternalServerError, New("UNKNOWN_CODE", "oops").StatusCode)
}

func TestAppErrorStringIncludesDetailsWhenPresent(t *testing.T) {
	plain := New(ErrCodeBadRequest, "bad input")
	assert.Equal(t, "BAD_REQUEST: bad input", plain.Error())

	withDetails := NewWithDetails(ErrCodeBadRequest, "bad input", "field x is required")
	assert.Equal(t, "BAD_REQUEST: bad input - field x is required", withDetails.Error())
}

func TestWrapCarriesUnderlyingErrorTextAsDetails(t *testing.T) {
	wrapped := Wrap(ErrCodeInternalServer, "load failed", errors.New("disk full"))
	assert.Equal(t, "disk full", wrapped.Details)
}

func TestToResponseMirrorsFields(t *testing.T) {
	err := NewWithDetails(ErrCodeNotFound, "plugin not found", "checked registry")
	resp := err.ToResponse()
	assert.Equal(t, ErrorResponse{
		Error:   ErrCodeNotFound,
		Message: "plugin not found",
		Code:    ErrCodeNotFound,
		Details: "checked registry",
	}, resp)
}

func TestConvenienceConstructors(t *testing.T) {
	assert.Equal(t, `"demo" not found`, NotFound(`"demo"`).Message)
	assert.Equal(t, http.StatusConflict, Conflict("already running").StatusCode)
	assert.Equal(t, http.StatusConflict, OperationInProgress("creating").StatusCode)
	assert.Equal(t, http.StatusInternalServerError, InternalServer("boom").StatusCode)
	assert.Equal(t, http.StatusBadRequest, BadRequest("bad").StatusCode)
}

func TestFromPluginErrorMapsEveryKnownKind(t *testing.T) {
	cases := []struct {
		kind       string
		wantCode   string
		wantStatus int
	}{
		{"PluginNotFoundError", ErrCodeNotFound, http.StatusNotFound},
		{"PluginAlreadyRegisteredError", ErrCodeConflict, http.StatusConflict},
		{"PluginOperationInProgressError", ErrCodeOperationInFlight, http.StatusConflict},
		{"PluginStateError", ErrCodeBadRequest, http.StatusBadRequest},
		{"PluginLoadError", ErrCodeBadRequest, http.StatusBadRequest},
		{"PluginLifecycleError", ErrCodeBadRequest, http.StatusBadRequest},
		{"PluginLifecycleTimeoutError", ErrCodeBadRequest, http.StatusBadRequest},
		{"RemoteLoadError", ErrCodeBadRequest, http.StatusBadRequest},
		{"SomethingUnrecognized", ErrCodeInternalServer, http.StatusInternalServerError},
	}

	for _, c := range cases {
		got := FromPluginError(c.kind, "demo", "details here")
		assert.Equal(t, c.wantCode, got.Code, c.kind)
		assert.Equal(t, c.wantStatus, got.StatusCode, c.kind)
	}
}
