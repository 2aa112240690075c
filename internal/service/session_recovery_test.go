package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestSessionRecoverySuccess(t *testing.T) {
	client := &mockReaderClient{}
	client.On("RestartSession", mock.Anything, "chan-1").Return(nil)
	client.On("WaitForSessionReady", mock.Anything, "chan-1", time.Second).Return(nil)

	sr := NewSessionRecovery(client, time.Second, newTestLogger())

	err := sr.Recover(context.Background(), "chan-1")
	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestSessionRecoveryRestartThenReadyFailureThenSuccess(t *testing.T) {
	client := &mockReaderClient{}
	client.On("RestartSession", mock.Anything, "chan-1").Return(errors.New("session restart returned status 503")).Once()
	client.On("RestartSession", mock.Anything, "chan-1").Return(nil)
	client.On("WaitForSessionReady", mock.Anything, "chan-1", time.Second).Return(nil)

	sr := NewSessionRecovery(client, time.Second, newTestLogger())

	err := sr.Recover(context.Background(), "chan-1")
	assert.NoError(t, err)
	client.AssertNumberOfCalls(t, "RestartSession", 2)
}

func TestSessionRecoveryCancelledContext(t *testing.T) {
	client := &mockReaderClient{}

	sr := NewSessionRecovery(client, time.Second, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sr.Recover(ctx, "chan-1")
	assert.Error(t, err)
	client.AssertNotCalled(t, "RestartSession", mock.Anything, mock.Anything)
}
