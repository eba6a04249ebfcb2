package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := NewStatsRetrievalError("http://monitor/stats/servers/", errors.New("connection refused"))

	assert.ErrorIs(t, err, ErrStatsRetrieval)
	assert.NotErrorIs(t, err, ErrNoServers)

	wrapped := fmt.Errorf("select server: %w", err)
	assert.ErrorIs(t, wrapped, ErrStatsRetrieval)
	assert.Equal(t, ErrCodeStatsRetrieval, GetErrorCode(wrapped))
	assert.True(t, IsControllerError(wrapped))
	assert.Equal(t, "http://monitor/stats/servers/", err.Metadata["endpoint"])
	assert.Contains(t, err.Error(), "connection refused")
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("broken pipe")
	err := NewDirectiveError(ErrCodePacketOut, 1, cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrPacketOut)
	assert.Equal(t, uint64(1), err.Metadata["dpid"])
}

func TestWrapErrorNil(t *testing.T) {
	assert.Nil(t, WrapError(nil, ErrCodeConfigLoad, "config", "unused"))
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NewError(ErrCodeInvalidConfig, "config", "bad"), http.StatusBadRequest},
		{NewError(ErrCodeInvalidRequest, "admin", "bad dpid"), http.StatusBadRequest},
		{NewUnknownSwitchError(7), http.StatusNotFound},
		{NewSwitchNotReadyError(7, "configuring"), http.StatusConflict},
		{NewNoServersError(), http.StatusServiceUnavailable},
		{NewStatsRetrievalError("u", nil), http.StatusBadGateway},
		{NewDirectiveError(ErrCodeFlowInstall, 1, errors.New("x")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, GetHTTPStatusCode(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewStatsRetrievalError("u", nil)))
	assert.True(t, IsRetryable(NewSwitchNotReadyError(1, "configuring")))
	assert.False(t, IsRetryable(NewNoServersError()))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrCodeInternalError, GetErrorCode(errors.New("plain")))
}
