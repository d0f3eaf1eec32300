package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errQueued = New(Conflict, "already_queued", "already in mic queue")

func TestIsMatchesOnCode(t *testing.T) {
	wrapped := fmt.Errorf("request mic: %w", errQueued)
	assert.ErrorIs(t, wrapped, errQueued)
	assert.ErrorIs(t, wrapped, New(Conflict, "already_queued", "other text"))
	assert.NotErrorIs(t, wrapped, New(Conflict, "not_queued", "already in mic queue"))
}

func TestKindAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		status int
	}{
		{New(Validation, "empty_content", "x"), Validation, http.StatusBadRequest},
		{New(Authorization, "forbidden", "x"), Authorization, http.StatusForbidden},
		{errQueued, Conflict, http.StatusConflict},
		{New(Transient, "timeout", "x"), Transient, http.StatusServiceUnavailable},
		{errors.New("boom"), Invariant, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestBodyOf(t *testing.T) {
	b := BodyOf(fmt.Errorf("wrap: %w", errQueued))
	assert.Equal(t, "already_queued", b.Code)
	assert.Equal(t, "conflict", b.Kind)
	assert.Equal(t, "wrap: already in mic queue", b.Error)

	b = BodyOf(errors.New("boom"))
	assert.Equal(t, "internal", b.Code)
}
