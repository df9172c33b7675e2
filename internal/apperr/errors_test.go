package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("bad"), http.StatusBadRequest},
		{"auth", Auth("no"), http.StatusUnauthorized},
		{"not_found", NotFound("gone"), http.StatusNotFound},
		{"rate_limited", RateLimited("slow down"), http.StatusTooManyRequests},
		{"internal", Internal("failed", errors.New("boom")), http.StatusInternalServerError},
		{"foreign", errors.New("plain"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("outer: %w", NotFound("user not found")), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessageHidesCause(t *testing.T) {
	err := Internal("failed to store message", errors.New("pq: connection refused"))

	assert.Equal(t, "failed to store message", PublicMessage(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "internal server error", PublicMessage(errors.New("pq: connection refused")))
}

func TestInternalUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Internal("failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestResponseFor(t *testing.T) {
	resp := ResponseFor(NotFound("Receiver not found"))

	assert.Equal(t, Response{Success: false, StatusCode: http.StatusNotFound, Message: "Receiver not found"}, resp)
}
