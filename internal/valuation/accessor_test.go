package valuation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IRREngine/internal/domain"
	"IRREngine/internal/testutil"
	"IRREngine/internal/valuation"
)

func TestLatestAsOf_PicksMostRecentOnOrBefore(t *testing.T) {
	entity := uuid.New()
	store := testutil.NewMemoryStore()
	store.AddValuation(entity, testutil.Date(2024, time.January, 31), "10100")
	store.AddValuation(entity, testutil.Date(2024, time.March, 31), "10500")
	store.AddValuation(entity, testutil.Date(2024, time.June, 30), "11000")

	acc := valuation.NewAccessor(store)

	point, err := acc.LatestAsOf(context.Background(), entity, testutil.Date(2024, time.May, 15))
	require.NoError(t, err)
	assert.Equal(t, "10500", point.Value.String())
	assert.Equal(t, testutil.Date(2024, time.March, 31), point.Date)

	// Exactly on a snapshot date counts.
	point, err = acc.LatestAsOf(context.Background(), entity, testutil.Date(2024, time.June, 30))
	require.NoError(t, err)
	assert.Equal(t, "11000", point.Value.String())
}

func TestLatestAsOf_NoneBeforeDate(t *testing.T) {
	entity := uuid.New()
	store := testutil.NewMemoryStore()
	store.AddValuation(entity, testutil.Date(2024, time.June, 30), "11000")

	_, err := valuation.NewAccessor(store).
		LatestAsOf(context.Background(), entity, testutil.Date(2024, time.January, 1))
	assert.True(t, errors.Is(err, domain.ErrNoValuation), "err = %v, want ErrNoValuation", err)
}

func TestLatestAsOf_UnknownEntity(t *testing.T) {
	_, err := valuation.NewAccessor(testutil.NewMemoryStore()).
		LatestAsOf(context.Background(), uuid.New(), testutil.Date(2024, time.June, 30))
	assert.True(t, errors.Is(err, domain.ErrNoValuation), "err = %v, want ErrNoValuation", err)
}

func TestLatestAsOf_NegativeValueRejected(t *testing.T) {
	entity := uuid.New()
	store := testutil.NewMemoryStore()
	store.AddValuation(entity, testutil.Date(2024, time.June, 30), "-5")

	_, err := valuation.NewAccessor(store).
		LatestAsOf(context.Background(), entity, testutil.Date(2024, time.December, 31))
	assert.True(t, errors.Is(err, domain.ErrInvalidValuation), "err = %v, want ErrInvalidValuation", err)
}
