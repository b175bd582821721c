package mocks

import (
	"context"

	"vnml-server/shared/interfaces"
	"vnml-server/shared/models"

	"github.com/stretchr/testify/mock"
)

// TurnStore is a mock type for the TurnStore type
type TurnStore struct {
	mock.Mock
}

// CreateSession provides a mock function with given fields: ctx, rec
func (_m *TurnStore) CreateSession(ctx context.Context, rec *models.SessionRecord) error {
	ret := _m.Called(ctx, rec)
	return ret.Error(0)
}

// AppendTurn provides a mock function with given fields: ctx, sessionID, turn
func (_m *TurnStore) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	ret := _m.Called(ctx, sessionID, turn)
	return ret.Error(0)
}

// RecordAction provides a mock function with given fields: ctx, sessionID, seq, action, policy
func (_m *TurnStore) RecordAction(ctx context.Context, sessionID string, seq int, action string, policy models.ActionPolicy) error {
	ret := _m.Called(ctx, sessionID, seq, action, policy)
	return ret.Error(0)
}

// LoadSession provides a mock function with given fields: ctx, sessionID
func (_m *TurnStore) LoadSession(ctx context.Context, sessionID string) (*models.SessionRecord, []models.Turn, error) {
	ret := _m.Called(ctx, sessionID)

	var r0 *models.SessionRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.SessionRecord)
	}
	var r1 []models.Turn
	if ret.Get(1) != nil {
		r1 = ret.Get(1).([]models.Turn)
	}
	return r0, r1, ret.Error(2)
}

// ListSessions provides a mock function with given fields: ctx, limit, offset
func (_m *TurnStore) ListSessions(ctx context.Context, limit int, offset int) ([]models.SessionSummary, error) {
	ret := _m.Called(ctx, limit, offset)

	var r0 []models.SessionSummary
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.SessionSummary)
	}
	return r0, ret.Error(1)
}

// CloseSession provides a mock function with given fields: ctx, sessionID
func (_m *TurnStore) CloseSession(ctx context.Context, sessionID string) error {
	ret := _m.Called(ctx, sessionID)
	return ret.Error(0)
}

// NewTurnStore creates a new instance of TurnStore. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewTurnStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *TurnStore {
	m := &TurnStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.TurnStore = (*TurnStore)(nil)
