package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"barlink-service/internal/models"
	"barlink-service/internal/tablestore"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) Insert(ctx context.Context, table string, entity tablestore.Entity, mode tablestore.InsertMode) (tablestore.Entity, error) {
	args := m.Called(ctx, table, entity, mode)
	var out tablestore.Entity
	if val := args.Get(0); val != nil {
		out = val.(tablestore.Entity)
	}
	return out, args.Error(1)
}

func (m *StoreMock) Get(ctx context.Context, table, partitionKey, rowKey string) (tablestore.Entity, error) {
	args := m.Called(ctx, table, partitionKey, rowKey)
	var out tablestore.Entity
	if val := args.Get(0); val != nil {
		out = val.(tablestore.Entity)
	}
	return out, args.Error(1)
}

func (m *StoreMock) Query(ctx context.Context, table, filter string) ([]tablestore.Entity, error) {
	args := m.Called(ctx, table, filter)
	var out []tablestore.Entity
	if val := args.Get(0); val != nil {
		out = val.([]tablestore.Entity)
	}
	return out, args.Error(1)
}

func (m *StoreMock) Delete(ctx context.Context, table, partitionKey, rowKey string) error {
	args := m.Called(ctx, table, partitionKey, rowKey)
	return args.Error(0)
}

var _ tablestore.Store = (*StoreMock)(nil)

type HubPublisherMock struct {
	mock.Mock
}

func (m *HubPublisherMock) Publish(ctx context.Context, event models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
