// Package mocks provides testify mocks for the domain ports.
package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/bulk-download-service/internal/domain"
)

// MockJobRegistry mocks domain.JobRegistry.
type MockJobRegistry struct{ mock.Mock }

func (m *MockJobRegistry) Insert(ctx domain.Context, j domain.Job) (domain.Job, bool, error) {
	args := m.Called(ctx, j)
	return args.Get(0).(domain.Job), args.Bool(1), args.Error(2)
}

func (m *MockJobRegistry) Get(ctx domain.Context, id string) (domain.Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *MockJobRegistry) Update(ctx domain.Context, id string, mutate func(*domain.Job) error) (domain.Job, error) {
	args := m.Called(ctx, id, mutate)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *MockJobRegistry) List(ctx domain.Context, f domain.JobFilter) ([]domain.Job, error) {
	args := m.Called(ctx, f)
	var jobs []domain.Job
	if v := args.Get(0); v != nil {
		jobs = v.([]domain.Job)
	}
	return jobs, args.Error(1)
}

func (m *MockJobRegistry) Sweep(ctx domain.Context, now time.Time) (int, int) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Int(1)
}

func (m *MockJobRegistry) Purge(ctx domain.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockJobRegistry) Len() int {
	return m.Called().Int(0)
}

// MockWorkQueue mocks domain.WorkQueue.
type MockWorkQueue struct{ mock.Mock }

func (m *MockWorkQueue) Enqueue(ctx domain.Context, jobID string, p domain.Priority) error {
	return m.Called(ctx, jobID, p).Error(0)
}

func (m *MockWorkQueue) Dequeue(ctx domain.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockWorkQueue) Len() (int, int) {
	args := m.Called()
	return args.Int(0), args.Int(1)
}

func (m *MockWorkQueue) Close() {
	m.Called()
}

// MockObjectStore mocks domain.ObjectStore.
type MockObjectStore struct{ mock.Mock }

func (m *MockObjectStore) PutDescriptor(ctx domain.Context, key string, body []byte, contentType string) error {
	return m.Called(ctx, key, body, contentType).Error(0)
}

func (m *MockObjectStore) PresignGet(ctx domain.Context, key string, ttl time.Duration) (string, time.Time, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockObjectStore) HealthCheck(ctx domain.Context) error {
	return m.Called(ctx).Error(0)
}

// MockArtifactStager mocks domain.ArtifactStager.
type MockArtifactStager struct{ mock.Mock }

func (m *MockArtifactStager) Stage(ctx domain.Context, j domain.Job) (domain.JobResult, error) {
	args := m.Called(ctx, j)
	return args.Get(0).(domain.JobResult), args.Error(1)
}
