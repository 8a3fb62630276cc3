package cashflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IRREngine/internal/cashflow"
	"IRREngine/internal/domain"
	"IRREngine/internal/testutil"
)

var (
	jan1  = testutil.Date(2024, time.January, 1)
	jun1  = testutil.Date(2024, time.June, 1)
	dec31 = testutil.Date(2024, time.December, 31)
)

func newExtractor(store cashflow.EventStore) *cashflow.Extractor {
	return cashflow.NewExtractor(store, zerolog.Nop())
}

func TestSeriesInRange_SignConvention(t *testing.T) {
	entity := uuid.New()
	store := testutil.NewMemoryStore()
	store.AddEvent(entity, jan1, "1000", "contribution")
	store.AddEvent(entity, jan1.AddDate(0, 1, 0), "500", "regular_contribution")
	store.AddEvent(entity, jan1.AddDate(0, 2, 0), "200", "transfer_in")
	store.AddEvent(entity, jan1.AddDate(0, 3, 0), "300", "withdrawal")
	store.AddEvent(entity, jan1.AddDate(0, 4, 0), "150", "transfer_out")

	flows, err := newExtractor(store).SeriesInRange(context.Background(), entity, jan1, dec31)
	require.NoError(t, err)
	require.Len(t, flows, 5)

	// Money into the entity is negative, money back out positive.
	assert.Equal(t, "-1000", flows[0].Amount.String())
	assert.Equal(t, "-500", flows[1].Amount.String())
	assert.Equal(t, "-200", flows[2].Amount.String())
	assert.Equal(t, "300", flows[3].Amount.String())
	assert.Equal(t, "150", flows[4].Amount.String())
}

// Recorded amounts are magnitudes; a negatively recorded contribution
// still normalizes to a negative flow, not a positive one.
func TestSeriesInRange_NormalizesRecordedSign(t *testing.T) {
	entity := uuid.New()
	store := testutil.NewMemoryStore()
	store.AddEvent(entity, jan1, "-1000", "contribution")
	store.AddEvent(entity, jun1, "-300", "withdrawal")

	flows, err := newExtractor(store).SeriesInRange(context.Background(), entity, jan1, dec31)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "-1000", flows[0].Amount.String())
	assert.Equal(t, "300", flows[1].Amount.String())
}

func TestSeriesInRange_SortedWithStableTies(t *testing.T) {
	entity := uuid.New()
	store := testutil.NewMemoryStore()
	// Inserted out of date order; the June pair must keep insertion order.
	store.AddEvent(entity, jun1, "100", "withdrawal")
	store.AddEvent(entity, jan1, "1000", "contribution")
	store.AddEvent(entity, jun1, "200", "withdrawal")

	flows, err := newExtractor(store).SeriesInRange(context.Background(), entity, jan1, dec31)
	require.NoError(t, err)
	require.Len(t, flows, 3)
	assert.Equal(t, "-1000", flows[0].Amount.String())
	assert.Equal(t, "100", flows[1].Amount.String())
	assert.Equal(t, "200", flows[2].Amount.String())
}

func TestSeriesInRange_NoEventsIsEmptyNotError(t *testing.T) {
	flows, err := newExtractor(testutil.NewMemoryStore()).
		SeriesInRange(context.Background(), uuid.New(), jan1, dec31)
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestSeriesInRange_InvalidRange(t *testing.T) {
	_, err := newExtractor(testutil.NewMemoryStore()).
		SeriesInRange(context.Background(), uuid.New(), dec31, jan1)
	assert.Error(t, err)
}

func TestSeriesInRange_StoreFailurePropagates(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.FailEvents = true

	_, err := newExtractor(store).SeriesInRange(context.Background(), uuid.New(), jan1, dec31)
	assert.True(t, errors.Is(err, domain.ErrDataAccess), "err = %v, want ErrDataAccess", err)
}

func TestSeriesInRange_UnknownKindSkipped(t *testing.T) {
	entity := uuid.New()
	store := testutil.NewMemoryStore()
	store.AddEvent(entity, jan1, "1000", "contribution")
	store.AddEvent(entity, jun1, "500", "fee_rebate")

	flows, err := newExtractor(store).SeriesInRange(context.Background(), entity, jan1, dec31)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "-1000", flows[0].Amount.String())
}

func TestSeriesInRange_RangeBoundsInclusive(t *testing.T) {
	entity := uuid.New()
	store := testutil.NewMemoryStore()
	store.AddEvent(entity, jan1, "100", "contribution")
	store.AddEvent(entity, dec31, "100", "withdrawal")
	store.AddEvent(entity, dec31.AddDate(0, 0, 1), "999", "withdrawal")

	flows, err := newExtractor(store).SeriesInRange(context.Background(), entity, jan1, dec31)
	require.NoError(t, err)
	assert.Len(t, flows, 2)
}
