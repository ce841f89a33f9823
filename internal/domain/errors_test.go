package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredErrors_Is(t *testing.T) {
	var err error = fmt.Errorf("reserva: %w", &domain.InsufficientStockError{VariantID: "v1", Requested: 6, Available: 4})

	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.NotErrorIs(t, err, domain.ErrVariantNotFound)

	var ise *domain.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "v1", ise.VariantID)
	assert.EqualValues(t, 6, ise.Requested)
	assert.EqualValues(t, 4, ise.Available)

	assert.ErrorIs(t, &domain.VariantNotFoundError{VariantID: "x"}, domain.ErrVariantNotFound)
	assert.ErrorIs(t, &domain.VariantNotFoundError{VariantID: "x"}, domain.ErrNotFound)
	assert.ErrorIs(t, &domain.InvalidRequestError{Index: 2, Reason: "cantidad"}, domain.ErrInvalidInput)
}

func TestInvalidRequestError_Message(t *testing.T) {
	assert.Contains(t, (&domain.InvalidRequestError{Index: -1, Reason: "lista vacía"}).Error(), "lista vacía")
	assert.Contains(t, (&domain.InvalidRequestError{Index: 3, Reason: "cantidad"}).Error(), "línea 3")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, domain.IsRetryable(domain.ErrConflict))
	assert.True(t, domain.IsRetryable(fmt.Errorf("x: %w", domain.ErrUnavailable)))
	assert.True(t, domain.IsRetryable(domain.ErrTimeout))
	assert.True(t, domain.IsRetryable(domain.ErrIdempotencyInProgress))
	assert.False(t, domain.IsRetryable(&domain.InsufficientStockError{VariantID: "v"}))
	assert.False(t, domain.IsRetryable(domain.ErrIdempotencyMismatch))
}
