package mocks

import (
	"context"

	"vnml-server/shared/interfaces"
	"vnml-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// EngineService is a mock type for the EngineService type
type EngineService struct {
	mock.Mock
}

// StartSession provides a mock function with given fields: ctx, setupText
func (_m *EngineService) StartSession(ctx context.Context, setupText string) (models.SessionState, error) {
	ret := _m.Called(ctx, setupText)
	var r0 models.SessionState
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(models.SessionState)
	}
	return r0, ret.Error(1)
}

// SubmitAction provides a mock function with given fields: ctx, sessionID, text, policy
func (_m *EngineService) SubmitAction(ctx context.Context, sessionID uuid.UUID, text string, policy models.ActionPolicy) (models.Turn, error) {
	ret := _m.Called(ctx, sessionID, text, policy)
	return turnOf(ret.Get(0)), ret.Error(1)
}

// SubmitChoice provides a mock function with given fields: ctx, sessionID, index
func (_m *EngineService) SubmitChoice(ctx context.Context, sessionID uuid.UUID, index int) (models.Turn, error) {
	ret := _m.Called(ctx, sessionID, index)
	return turnOf(ret.Get(0)), ret.Error(1)
}

// SubmitFragment provides a mock function with given fields: ctx, sessionID, raw
func (_m *EngineService) SubmitFragment(ctx context.Context, sessionID uuid.UUID, raw string) (models.Turn, []models.ContentPolicyWarning, error) {
	ret := _m.Called(ctx, sessionID, raw)
	var r1 []models.ContentPolicyWarning
	if ret.Get(1) != nil {
		r1 = ret.Get(1).([]models.ContentPolicyWarning)
	}
	return turnOf(ret.Get(0)), r1, ret.Error(2)
}

// RetryGeneration provides a mock function with given fields: ctx, sessionID
func (_m *EngineService) RetryGeneration(ctx context.Context, sessionID uuid.UUID) (models.Turn, error) {
	ret := _m.Called(ctx, sessionID)
	return turnOf(ret.Get(0)), ret.Error(1)
}

// GetSnapshot provides a mock function with given fields: ctx, sessionID
func (_m *EngineService) GetSnapshot(ctx context.Context, sessionID uuid.UUID) (models.SessionState, error) {
	ret := _m.Called(ctx, sessionID)
	var r0 models.SessionState
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(models.SessionState)
	}
	return r0, ret.Error(1)
}

// ResumeSession provides a mock function with given fields: ctx, sessionID
func (_m *EngineService) ResumeSession(ctx context.Context, sessionID uuid.UUID) (models.SessionState, error) {
	ret := _m.Called(ctx, sessionID)
	var r0 models.SessionState
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(models.SessionState)
	}
	return r0, ret.Error(1)
}

// ListSessions provides a mock function with given fields: ctx, limit, offset
func (_m *EngineService) ListSessions(ctx context.Context, limit int, offset int) ([]models.SessionSummary, error) {
	ret := _m.Called(ctx, limit, offset)
	var r0 []models.SessionSummary
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.SessionSummary)
	}
	return r0, ret.Error(1)
}

// GetCues provides a mock function with given fields: ctx, sessionID, seq
func (_m *EngineService) GetCues(ctx context.Context, sessionID uuid.UUID, seq int) ([]models.Cue, error) {
	ret := _m.Called(ctx, sessionID, seq)
	var r0 []models.Cue
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.Cue)
	}
	return r0, ret.Error(1)
}

// CloseSession provides a mock function with given fields: ctx, sessionID
func (_m *EngineService) CloseSession(ctx context.Context, sessionID uuid.UUID) error {
	ret := _m.Called(ctx, sessionID)
	return ret.Error(0)
}

func turnOf(v interface{}) models.Turn {
	if v == nil {
		return models.Turn{}
	}
	return v.(models.Turn)
}

// NewEngineService creates a new instance of EngineService. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewEngineService(t interface {
	mock.TestingT
	Cleanup(func())
}) *EngineService {
	m := &EngineService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.EngineService = (*EngineService)(nil)
