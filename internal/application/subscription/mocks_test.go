package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/notification"
	"github.com/meterly/backend/internal/domain/subscriber"
)

// MockProvisioner is a mock implementation of identity.Provisioner
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) CreateIdentity(ctx context.Context, email, password string, profile identity.ProfileMetadata) (*identity.Identity, error) {
	args := m.Called(ctx, email, password, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Identity), args.Error(1)
}

func (m *MockProvisioner) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockProvisioner) Authenticate(ctx context.Context, email, password string) (*identity.Session, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

func (m *MockProvisioner) GetSession(ctx context.Context, token string) (*identity.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

func (m *MockProvisioner) RevokeSession(ctx context.Context, session *identity.Session) error {
	return m.Called(ctx, session).Error(0)
}

// MockGateway is a mock implementation of billing.Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCustomer(ctx context.Context, input billing.CustomerInput) (string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) DeleteCustomer(ctx context.Context, customerRef string) error {
	return m.Called(ctx, customerRef).Error(0)
}

func (m *MockGateway) CreateSubscription(ctx context.Context, input billing.SubscriptionInput) (*billing.Subscription, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *MockGateway) RetrieveSubscription(ctx context.Context, subscriptionRef string) (*billing.Subscription, error) {
	args := m.Called(ctx, subscriptionRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *MockGateway) CancelSubscription(ctx context.Context, subscriptionRef string) (*billing.Subscription, error) {
	args := m.Called(ctx, subscriptionRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *MockGateway) UpdateSubscription(ctx context.Context, subscriptionRef, newPriceRef string) (*billing.Subscription, error) {
	args := m.Called(ctx, subscriptionRef, newPriceRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *MockGateway) CreateBillingPortalSession(ctx context.Context, customerRef, returnURL string) (*billing.PortalSession, error) {
	args := m.Called(ctx, customerRef, returnURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PortalSession), args.Error(1)
}

func (m *MockGateway) ListInvoices(ctx context.Context, customerRef string) ([]billing.Invoice, error) {
	args := m.Called(ctx, customerRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.Invoice), args.Error(1)
}

func (m *MockGateway) ListPaymentMethods(ctx context.Context, customerRef string) ([]billing.PaymentMethod, error) {
	args := m.Called(ctx, customerRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.PaymentMethod), args.Error(1)
}

func (m *MockGateway) VerifyWebhookSignature(payload []byte, signature, secret string) (*billing.Event, error) {
	args := m.Called(payload, signature, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Event), args.Error(1)
}

// MockSubscriberRepository is a mock implementation of subscriber.Repository
type MockSubscriberRepository struct {
	mock.Mock
}

func (m *MockSubscriberRepository) Create(ctx context.Context, s *subscriber.Subscriber) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockSubscriberRepository) UpdatePlan(ctx context.Context, s *subscriber.Subscriber) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockSubscriberRepository) UpdateBillingState(ctx context.Context, s *subscriber.Subscriber, from subscriber.Status) error {
	return m.Called(ctx, s, from).Error(0)
}

func (m *MockSubscriberRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscriber.Subscriber), args.Error(1)
}

func (m *MockSubscriberRepository) FindByEmail(ctx context.Context, email string) (*subscriber.Subscriber, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscriber.Subscriber), args.Error(1)
}

func (m *MockSubscriberRepository) FindByBillingCustomerRef(ctx context.Context, ref string) (*subscriber.Subscriber, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscriber.Subscriber), args.Error(1)
}

func (m *MockSubscriberRepository) FindByBillingSubscriptionRef(ctx context.Context, ref string) (*subscriber.Subscriber, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscriber.Subscriber), args.Error(1)
}

func (m *MockSubscriberRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

// MockReconciliationRepository is a mock implementation of subscriber.ReconciliationRepository
type MockReconciliationRepository struct {
	mock.Mock
}

func (m *MockReconciliationRepository) Record(ctx context.Context, c *subscriber.ReconciliationCase) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockReconciliationRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscriber.ReconciliationCase, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscriber.ReconciliationCase), args.Error(1)
}

func (m *MockReconciliationRepository) ListOpen(ctx context.Context, limit int) ([]*subscriber.ReconciliationCase, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*subscriber.ReconciliationCase), args.Error(1)
}

func (m *MockReconciliationRepository) Save(ctx context.Context, c *subscriber.ReconciliationCase) error {
	return m.Called(ctx, c).Error(0)
}

// MockSender is a mock implementation of notification.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg notification.Message) error {
	return m.Called(ctx, msg).Error(0)
}

// fakeEventLog records event ids in memory and runs apply against repo
type fakeEventLog struct {
	mu   sync.Mutex
	seen map[string]bool
	repo subscriber.Repository
}

func newFakeEventLog(repo subscriber.Repository) *fakeEventLog {
	return &fakeEventLog{seen: make(map[string]bool), repo: repo}
}

func (f *fakeEventLog) Seen(_ context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[eventID], nil
}

func (f *fakeEventLog) ProcessOnce(ctx context.Context, event *billing.Event, apply func(ctx context.Context, subscribers subscriber.Repository) error) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[event.ID] {
		return false, nil
	}
	if err := apply(ctx, f.repo); err != nil {
		return false, err
	}
	f.seen[event.ID] = true
	return true, nil
}

// fakeDedupe is an in-memory shared.IdempotencyStore
type fakeDedupe struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeDedupe() *fakeDedupe { return &fakeDedupe{keys: make(map[string]bool)} }

func (f *fakeDedupe) MarkProcessed(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeDedupe) IsProcessed(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key], nil
}

func (f *fakeDedupe) Close() error { return nil }
