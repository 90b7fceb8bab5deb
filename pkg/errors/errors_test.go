package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrInvalidTransition, "cannot move from PUBLISHED")
	require.True(t, errors.Is(err, ErrInvalidTransition))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.Equal(t, "cannot move from PUBLISHED", err.Message)
}

func TestIsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", Clone(ErrPermissionDenied, ""))
	assert.True(t, errors.Is(wrapped, ErrPermissionDenied))
}

func TestStorageIsRetryable(t *testing.T) {
	err := Storage(sql.ErrConnDone, "failed to save thesis")
	assert.True(t, err.Retryable())
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.False(t, Clone(ErrConflict, "").Retryable())
}

func TestValidationDetails(t *testing.T) {
	details := map[string]string{"title": "must not be empty"}
	err := Validation("invalid thesis payload", details)
	details["title"] = "mutated"

	require.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "must not be empty", err.Details["title"])
	assert.Nil(t, Validation("x", nil).Details)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))
	assert.Equal(t, ErrInternal.Code, FromError(errors.New("boom")).Code)
	assert.Equal(t, ErrNotFound.Code, FromError(fmt.Errorf("x: %w", ErrNotFound)).Code)
}
