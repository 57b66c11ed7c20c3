package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := New(KindValidation, "bad port")
	assert.Equal(t, "bad port", err.Error())

	wrapped := Wrap(KindDaemon, "daemon unreachable", errors.New("connection refused"))
	assert.Equal(t, "daemon unreachable: connection refused", wrapped.Error())
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("creating server: %w", Newf(KindAllocationConflict, "allocation %d was claimed", 4))

	assert.True(t, errors.Is(err, ErrAllocationConflict))
	assert.False(t, errors.Is(err, ErrAllocationUnavailable))
	assert.False(t, errors.Is(err, New(KindAllocationConflict, "other message")))
}

func TestError_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindUnknown, "persist", cause)

	assert.True(t, errors.Is(err, cause))
}

func TestValidation_Hint(t *testing.T) {
	err := Validation("invalid ip", "use a dotted IPv4 address")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, Hint(err), "dotted IPv4")
	assert.Equal(t, "invalid ip", err.Error())
}

func TestKindOf_Unknown(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindInsufficientCapacity, http.StatusUnprocessableEntity},
		{KindAllocationUnavailable, http.StatusUnprocessableEntity},
		{KindAllocationConflict, http.StatusConflict},
		{KindNodeHasServers, http.StatusConflict},
		{KindDaemon, http.StatusBadGateway},
		{KindUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(New(tt.kind, "x")))
		})
	}
}

func TestUserMessage(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(KindDaemon, "unable to resolve the daemon host", errors.New("lookup x: no such host")))
	assert.Equal(t, "unable to resolve the daemon host", UserMessage(err))
	assert.Equal(t, "plain", UserMessage(errors.New("plain")))
}
