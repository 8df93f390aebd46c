package metering

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/domain/usage"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/meterly/backend/internal/infrastructure/content"
	"github.com/meterly/backend/internal/infrastructure/persistence"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
)

var testTimeouts = config.TimeoutsConfig{Identity: time.Second, Billing: time.Second, Datastore: time.Second}

func testCatalog(t *testing.T) *subscriber.Catalog {
	t.Helper()
	catalog, err := subscriber.NewCatalog(
		subscriber.Plan{PriceRef: "price_monthly", PriceMinor: 1900, Quota: 50},
		subscriber.Plan{PriceRef: "price_annual", PriceMinor: 19000, Quota: 50},
	)
	require.NoError(t, err)
	return catalog
}

type gateDeps struct {
	sessions *MockSessions
	subs     *MockSubscribers
	ledger   *MockLedger
	action   *MockAction
}

func newTestGate(t *testing.T) (*Gate, *gateDeps) {
	d := &gateDeps{
		sessions: new(MockSessions),
		subs:     new(MockSubscribers),
		ledger:   new(MockLedger),
		action:   new(MockAction),
	}
	return NewGate(d.sessions, d.subs, d.ledger, testCatalog(t), d.action, nil, testTimeouts), d
}

func activeSubscriber(id uuid.UUID) *subscriber.Subscriber {
	return &subscriber.Subscriber{
		ID:           id,
		Email:        "owner@example.com",
		BusinessName: "Ada's Bakery",
		Plan:         subscriber.PlanMonthly,
		Status:       subscriber.StatusActive,
	}
}

func validAction() MeteredActionRequest {
	return MeteredActionRequest{Kind: "social_post", Topic: "spring menu", Tone: "playful"}
}

func TestPerform_Allowed(t *testing.T) {
	g, d := newTestGate(t)
	id := uuid.New()
	draft := &content.Draft{Kind: content.KindSocialPost, Title: "Spring Menu"}

	d.sessions.On("GetSession", mock.Anything, "tok").Return(&identity.Session{IdentityID: id}, nil)
	d.subs.On("FindByID", mock.Anything, id).Return(activeSubscriber(id), nil)
	d.ledger.On("GetCurrentUsage", mock.Anything, id).Return(int64(10), nil)
	d.action.On("Generate", mock.Anything, content.Request{
		Kind: content.KindSocialPost, Topic: "spring menu", Tone: content.TonePlayful, BusinessName: "Ada's Bakery",
	}).Return(draft, nil)
	d.ledger.On("Increment", mock.Anything, id).Return(int64(11), nil).Once()

	out, err := g.Perform(context.Background(), "tok", validAction())
	require.NoError(t, err)
	assert.Same(t, draft, out.Result)
	assert.True(t, out.UsageRecorded)
	assert.Equal(t, usage.Snapshot{Current: 11, Limit: 50, Remaining: 39}, out.Usage)
}

func TestPerform_Unauthenticated(t *testing.T) {
	g, d := newTestGate(t)
	d.sessions.On("GetSession", mock.Anything, "expired").Return(nil, errors.New("token expired"))

	_, err := g.Perform(context.Background(), "expired", validAction())
	assert.True(t, errors.Is(err, shared.ErrUnauthenticated))
	d.subs.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	d.action.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestPerform_InvalidPayload(t *testing.T) {
	g, d := newTestGate(t)
	d.sessions.On("GetSession", mock.Anything, "tok").Return(&identity.Session{IdentityID: uuid.New()}, nil)

	_, err := g.Perform(context.Background(), "tok", MeteredActionRequest{Kind: "poem"})
	assert.True(t, errors.Is(err, shared.ErrValidation))
	d.subs.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestPerform_InactiveSubscription(t *testing.T) {
	tests := []struct {
		name   string
		status subscriber.Status
	}{
		{"pending", subscriber.StatusPending},
		{"past due", subscriber.StatusPastDue},
		{"cancelled", subscriber.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, d := newTestGate(t)
			id := uuid.New()
			sub := activeSubscriber(id)
			sub.Status = tt.status

			d.sessions.On("GetSession", mock.Anything, "tok").Return(&identity.Session{IdentityID: id}, nil)
			d.subs.On("FindByID", mock.Anything, id).Return(sub, nil)
			d.ledger.On("PeekCurrentUsage", mock.Anything, id).Return(int64(7), nil)

			_, err := g.Perform(context.Background(), "tok", validAction())
			require.Error(t, err)
			assert.True(t, errors.Is(err, shared.ErrSubscriptionInactive))

			var denied *usage.DeniedError
			require.True(t, errors.As(err, &denied))
			assert.Equal(t, http.StatusPaymentRequired, denied.HTTPStatusCode())
			assert.Equal(t, string(tt.status), denied.Status)
			assert.Equal(t, int64(7), denied.Usage.Current)

			d.action.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
			d.ledger.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything)
			d.ledger.AssertNotCalled(t, "GetCurrentUsage", mock.Anything, mock.Anything)
		})
	}
}

func TestPerform_UnknownSubscriberIsInactive(t *testing.T) {
	g, d := newTestGate(t)
	id := uuid.New()
	d.sessions.On("GetSession", mock.Anything, "tok").Return(&identity.Session{IdentityID: id}, nil)
	d.subs.On("FindByID", mock.Anything, id).Return(nil, shared.ErrNotFound)

	_, err := g.Perform(context.Background(), "tok", validAction())
	assert.True(t, errors.Is(err, shared.ErrSubscriptionInactive))
}

func TestPerform_QuotaBoundary(t *testing.T) {
	t.Run("49 used allows the 50th", func(t *testing.T) {
		g, d := newTestGate(t)
		id := uuid.New()
		d.sessions.On("GetSession", mock.Anything, "tok").Return(&identity.Session{IdentityID: id}, nil)
		d.subs.On("FindByID", mock.Anything, id).Return(activeSubscriber(id), nil)
		d.ledger.On("GetCurrentUsage", mock.Anything, id).Return(int64(49), nil)
		d.action.On("Generate", mock.Anything, mock.Anything).Return(&content.Draft{}, nil)
		d.ledger.On("Increment", mock.Anything, id).Return(int64(50), nil)

		out, err := g.Perform(context.Background(), "tok", validAction())
		require.NoError(t, err)
		assert.Equal(t, usage.Snapshot{Current: 50, Limit: 50, Remaining: 0}, out.Usage)
	})

	t.Run("50 used refuses the 51st", func(t *testing.T) {
		g, d := newTestGate(t)
		id := uuid.New()
		d.sessions.On("GetSession", mock.Anything, "tok").Return(&identity.Session{IdentityID: id}, nil)
		d.subs.On("FindByID", mock.Anything, id).Return(activeSubscriber(id), nil)
		d.ledger.On("GetCurrentUsage", mock.Anything, id).Return(int64(50), nil)

		_, err := g.Perform(context.Background(), "tok", validAction())
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrQuotaExceeded))

		var denied *usage.DeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, usage.Snapshot{Current: 50, Limit: 50, Remaining: 0}, denied.Usage)
		assert.Equal(t, http.StatusTooManyRequests, denied.HTTPStatusCode())
		d.action.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		d.ledger.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything)
	})
}

func TestPerform_ActionFailureDoesNotCount(t *testing.T) {
	g, d := newTestGate(t)
	id := uuid.New()
	d.sessions.On("GetSession", mock.Anything, "tok").Return(&identity.Session{IdentityID: id}, nil)
	d.subs.On("FindByID", mock.Anything, id).Return(activeSubscriber(id), nil)
	d.ledger.On("GetCurrentUsage", mock.Anything, id).Return(int64(3), nil)
	d.action.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("renderer crashed"))

	_, err := g.Perform(context.Background(), "tok", validAction())
	assert.True(t, errors.Is(err, shared.ErrInternal))
	d.ledger.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything)
}

func TestPerform_IncrementFailureStillReturnsResult(t *testing.T) {
	g, d := newTestGate(t)
	id := uuid.New()
	draft := &content.Draft{Title: "ok"}
	d.sessions.On("GetSession", mock.Anything, "tok").Return(&identity.Session{IdentityID: id}, nil)
	d.subs.On("FindByID", mock.Anything, id).Return(activeSubscriber(id), nil)
	d.ledger.On("GetCurrentUsage", mock.Anything, id).Return(int64(3), nil)
	d.action.On("Generate", mock.Anything, mock.Anything).Return(draft, nil)
	d.ledger.On("Increment", mock.Anything, id).Return(int64(0), errors.New("lock timeout"))
	d.ledger.On("PeekCurrentUsage", mock.Anything, id).Return(int64(3), nil)

	out, err := g.Perform(context.Background(), "tok", validAction())
	require.NoError(t, err)
	assert.Same(t, draft, out.Result)
	assert.False(t, out.UsageRecorded)
	assert.Equal(t, int64(3), out.Usage.Current)
}

// ledgerBackedGate runs the gate over a real sqlite ledger and subscriber
// table. It returns the gate, its ledger and the active subscriber's ID.
func ledgerBackedGate(t *testing.T, now time.Time) (*Gate, *persistence.GormUsageLedger, *persistence.Database, uuid.UUID) {
	t.Helper()
	db, err := persistence.Open(sqlite.Open(":memory:"), &config.DatabaseConfig{MaxOpenConns: 1, MaxIdleConns: 1}, persistence.Options{})
	require.NoError(t, err)
	require.NoError(t, db.DB.AutoMigrate(models.All()...))
	t.Cleanup(func() { _ = db.Close() })

	subs := persistence.NewGormSubscriberRepository(db.DB)
	ident := uuid.New()
	sub, err := subscriber.NewSubscriber(subscriber.NewSubscriberInput{
		ID:                     ident,
		Email:                  "owner@example.com",
		DisplayName:            "Ada",
		Plan:                   subscriber.Plan{Type: subscriber.PlanMonthly, PriceRef: "price_monthly", PriceMinor: 1900, Quota: 50},
		BillingCustomerRef:     "cus_1",
		BillingSubscriptionRef: "sub_1",
		SubscriptionStart:      now,
	})
	require.NoError(t, err)
	_, err = sub.ApplyStatus(subscriber.StatusActive, now)
	require.NoError(t, err)
	require.NoError(t, subs.Create(context.Background(), sub))

	sessions := new(MockSessions)
	sessions.On("GetSession", mock.Anything, "tok").Return(&identity.Session{IdentityID: ident}, nil)
	ledger := persistence.NewGormUsageLedger(db.DB, func() time.Time { return now })
	g := NewGate(sessions, subs, ledger, testCatalog(t), content.NewGenerator(nil), nil, testTimeouts)
	return g, ledger, db, ident
}

type burstResult struct {
	recorded int
	refused  int
	other    []error
}

// burst fires calls concurrent actions and tallies their outcomes
func burst(g *Gate, calls int) burstResult {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		res burstResult
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := g.Perform(context.Background(), "tok", validAction())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && out.UsageRecorded:
				res.recorded++
			case errors.Is(err, shared.ErrQuotaExceeded):
				res.refused++
			case err != nil:
				res.other = append(res.other, err)
			default:
				res.other = append(res.other, errors.New("allowed but not counted"))
			}
		}()
	}
	wg.Wait()
	return res
}

func TestPerform_ConcurrentCallsCountExactly(t *testing.T) {
	now := time.Now().UTC()
	g, ledger, _, ident := ledgerBackedGate(t, now)

	const calls = 20
	res := burst(g, calls)

	count, err := ledger.PeekCurrentUsage(context.Background(), ident)
	require.NoError(t, err)
	assert.Empty(t, res.other)
	assert.Equal(t, calls, res.recorded)
	assert.Equal(t, int64(res.recorded), count)
}

func TestPerform_ConcurrentCallsAtQuotaBoundary(t *testing.T) {
	now := time.Now().UTC()
	g, ledger, db, ident := ledgerBackedGate(t, now)
	require.NoError(t, db.DB.Create(&models.UsageRecordModel{
		SubscriberID: ident,
		Month:        usage.MonthKey(now),
		Count:        45,
		CreatedAt:    now,
		UpdatedAt:    now,
	}).Error)

	const calls = 24
	res := burst(g, calls)

	count, err := ledger.PeekCurrentUsage(context.Background(), ident)
	require.NoError(t, err)
	assert.Empty(t, res.other)
	assert.Equal(t, calls, res.recorded+res.refused)
	assert.GreaterOrEqual(t, res.recorded, 5)
	assert.Equal(t, int64(45+res.recorded), count)

	_, err = g.Perform(context.Background(), "tok", validAction())
	var denied *usage.DeniedError
	require.True(t, errors.As(err, &denied))
	assert.True(t, errors.Is(err, shared.ErrQuotaExceeded))
	assert.Equal(t, count, denied.Usage.Current)
	assert.Equal(t, int64(0), denied.Usage.Remaining)
}
