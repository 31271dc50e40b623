package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"care-messaging/internal/identity"
	"care-messaging/internal/models"
	"care-messaging/internal/store"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) List(ctx context.Context, order store.ListOrder) ([]models.Message, error) {
	args := m.Called(ctx, order)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageStoreMock) Create(ctx context.Context, payload store.CreatePayload) (models.Message, error) {
	args := m.Called(ctx, payload)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageStoreMock) Subscribe(handler store.Handler) store.UnsubscribeFunc {
	args := m.Called(handler)
	if val := args.Get(0); val != nil {
		return val.(store.UnsubscribeFunc)
	}
	return func() {}
}

func (m *MessageStoreMock) MarkConversationRead(ctx context.Context, conversationID, readerID string) error {
	args := m.Called(ctx, conversationID, readerID)
	return args.Error(0)
}

type IdentityProviderMock struct {
	mock.Mock
}

func (m *IdentityProviderMock) CurrentUser(ctx context.Context) (identity.User, error) {
	args := m.Called(ctx)
	var user identity.User
	if val := args.Get(0); val != nil {
		user = val.(identity.User)
	}
	return user, args.Error(1)
}

var _ store.MessageStore = (*MessageStoreMock)(nil)
var _ identity.Provider = (*IdentityProviderMock)(nil)
