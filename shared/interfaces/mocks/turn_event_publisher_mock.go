package mocks

import (
	"context"

	"vnml-server/shared/interfaces"

	"github.com/stretchr/testify/mock"
)

// TurnEventPublisher is a mock type for the TurnEventPublisher type
type TurnEventPublisher struct {
	mock.Mock
}

// PublishTurnEvent provides a mock function with given fields: ctx, event
func (_m *TurnEventPublisher) PublishTurnEvent(ctx context.Context, event interfaces.TurnEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

// NewTurnEventPublisher creates a new instance of TurnEventPublisher.
func NewTurnEventPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *TurnEventPublisher {
	m := &TurnEventPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.TurnEventPublisher = (*TurnEventPublisher)(nil)
