package metering

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/domain/usage"
	"github.com/meterly/backend/internal/infrastructure/content"
)

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) CreateIdentity(ctx context.Context, email, password string, profile identity.ProfileMetadata) (*identity.Identity, error) {
	panic("not used by the gate")
}

func (m *MockSessions) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	panic("not used by the gate")
}

func (m *MockSessions) Authenticate(ctx context.Context, email, password string) (*identity.Session, error) {
	panic("not used by the gate")
}

func (m *MockSessions) GetSession(ctx context.Context, token string) (*identity.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

func (m *MockSessions) RevokeSession(ctx context.Context, session *identity.Session) error {
	panic("not used by the gate")
}

type MockSubscribers struct {
	mock.Mock
	subscriber.Repository
}

func (m *MockSubscribers) FindByID(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscriber.Subscriber), args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetCurrentUsage(ctx context.Context, subscriberID uuid.UUID) (int64, error) {
	args := m.Called(ctx, subscriberID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) PeekCurrentUsage(ctx context.Context, subscriberID uuid.UUID) (int64, error) {
	args := m.Called(ctx, subscriberID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) Increment(ctx context.Context, subscriberID uuid.UUID) (int64, error) {
	args := m.Called(ctx, subscriberID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) History(ctx context.Context, subscriberID uuid.UUID, months int) ([]usage.Record, error) {
	args := m.Called(ctx, subscriberID, months)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]usage.Record), args.Error(1)
}

type MockAction struct {
	mock.Mock
}

func (m *MockAction) Generate(ctx context.Context, req content.Request) (*content.Draft, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*content.Draft), args.Error(1)
}
