package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")

	assert.Equal(t, "no inputs", New(InvalidInput, "no inputs").Error())
	assert.Equal(t, "failed to mint token: connection refused", Wrap(NetworkError, cause, "failed to mint token").Error())
	assert.Equal(t, "connection refused", Wrap(NetworkError, cause, "").Error())
}

func TestKindOfWrappedChain(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("exchange: %w", Wrap(NetworkError, cause, "mint"))

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, NetworkError, kind)
	assert.True(t, Is(err, NetworkError))
	assert.False(t, Is(err, RegistryRejected))
	assert.ErrorIs(t, err, cause)
}

func TestKindOfUnclassified(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, Is(nil, InvalidInput))
}
