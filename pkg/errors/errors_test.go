package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesTypeMatchingAndRetryHint(t *testing.T) {
	inner := New(ErrTypeRateLimited, "slow down").WithRetryAfter(15)
	wrapped := Wrap(inner, ErrTypeGenericAPI, "publish failed")

	assert.Equal(t, ErrTypeGenericAPI, wrapped.Type)
	assert.Equal(t, 15, wrapped.RetryAfter)
	assert.True(t, IsType(wrapped, ErrTypeGenericAPI))
	assert.ErrorIs(t, wrapped, inner)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrTypeGenericAPI, "ignored"))
}

func TestUnsupportedNamesAlternative(t *testing.T) {
	err := Unsupported("twitter", "update", "delete the post and repost the corrected content")

	assert.Equal(t, ErrTypeUnsupportedOperation, err.Type)
	assert.Contains(t, err.Message, "twitter does not support update")
	assert.Contains(t, err.Message, "delete the post and repost")
}

func TestUnsupportedWithoutAlternative(t *testing.T) {
	err := Unsupported("tiktok", "delete", "")
	assert.Equal(t, "tiktok does not support delete", err.Message)
}

func TestAsErrorWrapsUnstructuredAsGeneric(t *testing.T) {
	plain := fmt.Errorf("connection reset")
	structured := AsError(plain)

	require.NotNil(t, structured)
	assert.Equal(t, ErrTypeGenericAPI, structured.Type)
	assert.Equal(t, "connection reset", structured.Message)
}

func TestAsErrorPassesThroughStructured(t *testing.T) {
	original := New(ErrTypeInvalidCredentials, "missing api_key")
	wrapped := fmt.Errorf("initialize: %w", original)

	structured := AsError(wrapped)
	assert.Same(t, original, structured)
}

func TestWithDetailAccumulates(t *testing.T) {
	err := New(ErrTypeGenericAPI, "boom").
		WithDetail("status", 500).
		WithDetail("endpoint", "/v2/tweets")

	assert.Equal(t, 500, err.Details["status"])
	assert.Equal(t, "/v2/tweets", err.Details["endpoint"])
}

func TestOnlyRateLimitedIsRetryable(t *testing.T) {
	cases := map[ErrorType]bool{
		ErrTypeInvalidCredentials:        false,
		ErrTypeAuthFailed:                false,
		ErrTypeRateLimited:               true,
		ErrTypeUnsupportedOperation:      false,
		ErrTypeInvalidConnectorReference: false,
		ErrTypeValidation:                false,
		ErrTypeGenericAPI:                false,
	}
	for errType, want := range cases {
		assert.Equal(t, want, IsRetryable(New(errType, "x")), "type %s", errType)
	}
}
