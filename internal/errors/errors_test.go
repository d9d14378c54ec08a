// internal/errors/errors_test.go
package errors

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorCodesAndStatus(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   string
		status int
	}{
		{NewValidationError("bad", nil), "VALIDATION_ERROR", http.StatusBadRequest},
		{NewProviderError("upstream", nil), "PROVIDER_ERROR", http.StatusBadGateway},
		{NewTimeoutError("slow", nil), "TIMEOUT", http.StatusGatewayTimeout},
		{NewCanceledError("gone", nil), "CANCELED", 499},
		{NewProcessingError("boom", nil), "PROCESSING_ERROR", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.status, HTTPStatus(tc.err))
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := FromContext(ctx)
	require.NotNil(t, err)
	assert.True(t, IsCanceledError(err))

	ctx, cancel = context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	assert.True(t, IsTimeoutError(FromContext(ctx)))
}
