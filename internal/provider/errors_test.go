package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	ce := NewTransient(503, cause)

	assert.Equal(t, "boom", ce.Error())
	assert.True(t, errors.Is(ce, cause))
}

func TestAsCallError_PassesThroughTypedError(t *testing.T) {
	original := NewPermanent(404, errors.New("not found"))
	ce := AsCallError(original)
	require.Same(t, original, ce)
}

func TestAsCallError_DefaultsUnknownErrorToTransient(t *testing.T) {
	ce := AsCallError(errors.New("some unexpected failure"))
	assert.Equal(t, KindTransient, ce.Kind)
}

func TestNewMalformed_HasMalformedKindAndNoStatusCode(t *testing.T) {
	ce := NewMalformed(errors.New("unparseable body"))
	assert.Equal(t, KindMalformed, ce.Kind)
	assert.Equal(t, 0, ce.StatusCode)
}
