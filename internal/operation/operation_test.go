package operation

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasbasham/pyx-auth/internal/failure"
)

func TestNew(t *testing.T) {
	op := New()

	_, err := uuid.Parse(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStart, op.Status)
	assert.False(t, op.Terminal())
}

func TestHappyPath(t *testing.T) {
	op := New()

	require.NoError(t, op.MarkResolved("https://api.pyx.dev/v1/upload/acme"))
	assert.Equal(t, StatusInputResolved, op.Status)
	assert.Equal(t, "https://api.pyx.dev/v1/upload/acme", op.UploadURL)

	require.NoError(t, op.MarkAssertionObtained())
	require.NoError(t, op.MarkTokenObtained())
	require.NoError(t, op.MarkEmitted())

	assert.Equal(t, StatusEmitted, op.Status)
	assert.True(t, op.Terminal())
}

func TestOutOfOrderTransitions(t *testing.T) {
	tests := []struct {
		name string
		step func(*Operation) error
	}{
		{name: "assertion before resolve", step: (*Operation).MarkAssertionObtained},
		{name: "token before assertion", step: (*Operation).MarkTokenObtained},
		{name: "emit before token", step: (*Operation).MarkEmitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := New()
			require.Error(t, tt.step(op))
			assert.Equal(t, StatusStart, op.Status)
		})
	}
}

func TestResolveTwice(t *testing.T) {
	op := New()
	require.NoError(t, op.MarkResolved("a"))
	assert.Error(t, op.MarkResolved("b"))
	assert.Equal(t, "a", op.UploadURL)
}

func TestMarkFailed(t *testing.T) {
	op := New()
	require.NoError(t, op.MarkResolved("https://api.pyx.dev/v1/upload/acme"))

	err := failure.New(failure.RegistryRejected, "registry returned HTTP 403")
	require.NoError(t, op.MarkFailed(err))

	assert.Equal(t, StatusFailed, op.Status)
	assert.Equal(t, failure.RegistryRejected, op.Kind)
	assert.Equal(t, "registry returned HTTP 403", op.Error)
	assert.True(t, op.Terminal())

	assert.Error(t, op.MarkFailed(err))
	assert.Error(t, op.MarkAssertionObtained())
}

func TestMarkFailedUnclassified(t *testing.T) {
	op := New()
	require.NoError(t, op.MarkFailed(errors.New("boom")))
	assert.Empty(t, op.Kind)
}

func TestCannotFailAfterEmit(t *testing.T) {
	op := New()
	require.NoError(t, op.MarkResolved("u"))
	require.NoError(t, op.MarkAssertionObtained())
	require.NoError(t, op.MarkTokenObtained())
	require.NoError(t, op.MarkEmitted())

	assert.Error(t, op.MarkFailed(errors.New("late")))
	assert.Equal(t, StatusEmitted, op.Status)
}
