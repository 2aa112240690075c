package service

import (
	"context"
	"time"

	"chanrelay/internal/models"
	"chanrelay/pkg/reader"
	"chanrelay/pkg/sender"

	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetWatermark(ctx context.Context, channelID string) (*models.Watermark, error) {
	args := m.Called(ctx, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Watermark), args.Error(1)
}

func (m *mockStore) CommitForwarded(ctx context.Context, channelID string, ids []string) error {
	args := m.Called(ctx, channelID, ids)
	return args.Error(0)
}

func (m *mockStore) MarkChannelInitialized(ctx context.Context, channelID string, baselineIDs []string) error {
	args := m.Called(ctx, channelID, baselineIDs)
	return args.Error(0)
}

func (m *mockStore) ResetChannel(ctx context.Context, channelID string) error {
	args := m.Called(ctx, channelID)
	return args.Error(0)
}

func (m *mockStore) CompactWatermarks(ctx context.Context, retentionDays int) error {
	args := m.Called(ctx, retentionDays)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

type mockReaderClient struct {
	mock.Mock
}

func (m *mockReaderClient) StartSession(ctx context.Context, channelID string) error {
	args := m.Called(ctx, channelID)
	return args.Error(0)
}

func (m *mockReaderClient) SessionStatus(ctx context.Context, channelID string) (reader.SessionStatus, error) {
	args := m.Called(ctx, channelID)
	return args.Get(0).(reader.SessionStatus), args.Error(1)
}

func (m *mockReaderClient) RestartSession(ctx context.Context, channelID string) error {
	args := m.Called(ctx, channelID)
	return args.Error(0)
}

func (m *mockReaderClient) StopSession(ctx context.Context, channelID string) error {
	args := m.Called(ctx, channelID)
	return args.Error(0)
}

func (m *mockReaderClient) WaitForSessionReady(ctx context.Context, channelID string, timeout time.Duration) error {
	args := m.Called(ctx, channelID, timeout)
	return args.Error(0)
}

func (m *mockReaderClient) Poll(ctx context.Context, channelID, afterID string, limit int) ([]reader.Record, error) {
	args := m.Called(ctx, channelID, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]reader.Record), args.Error(1)
}

type mockSender struct {
	mock.Mock
	kind string
}

func (m *mockSender) Deliver(ctx context.Context, payload sender.Payload, target string) error {
	args := m.Called(ctx, payload, target)
	return args.Error(0)
}

func (m *mockSender) Verify(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockSender) Kind() string {
	if m.kind != "" {
		return m.kind
	}
	return "group-webhook"
}
