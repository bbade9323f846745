package services

import (
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockRecomputer stands in for the transaction status collaborator.
type MockRecomputer struct {
	mock.Mock
}

func (m *MockRecomputer) Recompute(transactionID uuid.UUID) error {
	args := m.Called(transactionID)
	return args.Error(0)
}
