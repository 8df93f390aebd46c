//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/infrastructure/persistence"
)

func newSubscriber(t *testing.T, email string) *subscriber.Subscriber {
	t.Helper()
	s, err := subscriber.NewSubscriber(subscriber.NewSubscriberInput{
		ID:                     uuid.New(),
		Email:                  email,
		DisplayName:            "Ada",
		BusinessName:           "Ada Bakes",
		Plan:                   subscriber.Plan{Type: subscriber.PlanMonthly, PriceRef: "price_m", PriceMinor: 2900, Quota: 100},
		BillingCustomerRef:     "cus_" + uuid.NewString()[:8],
		BillingSubscriptionRef: "sub_" + uuid.NewString()[:8],
		SubscriptionStart:      time.Now().UTC(),
	})
	require.NoError(t, err)
	return s
}

func TestSubscriberRepository_EmailIsUnique(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.Truncate(t, "subscribers")
	repo := persistence.NewGormSubscriberRepository(tdb.DB)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSubscriber(t, "ada@example.com")))

	err := repo.Create(ctx, newSubscriber(t, "ADA@example.com"))
	assert.ErrorIs(t, err, shared.ErrDuplicateSubscriber)
}

func TestSubscriberRepository_LookupByBillingRefs(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.Truncate(t, "subscribers")
	repo := persistence.NewGormSubscriberRepository(tdb.DB)
	ctx := context.Background()

	s := newSubscriber(t, "grace@example.com")
	require.NoError(t, repo.Create(ctx, s))

	byCustomer, err := repo.FindByBillingCustomerRef(ctx, s.BillingCustomerRef)
	require.NoError(t, err)
	assert.Equal(t, s.ID, byCustomer.ID)

	bySub, err := repo.FindByBillingSubscriptionRef(ctx, s.BillingSubscriptionRef)
	require.NoError(t, err)
	assert.Equal(t, s.ID, bySub.ID)

	_, err = repo.FindByBillingCustomerRef(ctx, "cus_missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestIdentityStore_DuplicateEmail(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.Truncate(t, "identities")
	store := persistence.NewGormIdentityStore(tdb.DB)
	ctx := context.Background()

	first, err := identity.NewIdentity("linus@example.com", "correct-horse-1", identity.ProfileMetadata{DisplayName: "Linus"}, 4)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, first))

	second, err := identity.NewIdentity("linus@example.com", "correct-horse-2", identity.ProfileMetadata{}, 4)
	require.NoError(t, err)
	assert.ErrorIs(t, store.Create(ctx, second), shared.ErrIdentityAlreadyExists)

	require.NoError(t, store.Delete(ctx, first.ID))
	_, err = store.FindByID(ctx, first.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReconciliationRepository_ListOpenOldestFirst(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.Truncate(t, "reconciliation_cases")
	repo := persistence.NewGormReconciliationRepository(tdb.DB)
	ctx := context.Background()

	older := subscriber.NewReconciliationCase(newSubscriber(t, "a@example.com"), "subscriber write failed")
	older.CreatedAt = time.Now().Add(-time.Hour).UTC()
	newer := subscriber.NewReconciliationCase(newSubscriber(t, "b@example.com"), "subscriber write failed")
	require.NoError(t, repo.Record(ctx, newer))
	require.NoError(t, repo.Record(ctx, older))

	open, err := repo.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, older.ID, open[0].ID)

	newer.Resolve(time.Now())
	require.NoError(t, repo.Save(ctx, newer))

	open, err = repo.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, older.ID, open[0].ID)
}
