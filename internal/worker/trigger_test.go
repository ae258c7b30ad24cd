package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scuolakb/internal/config"
	"scuolakb/internal/ingest"
	"scuolakb/internal/middleware"
)

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

func TestTrigger_Publishes(t *testing.T) {
	p := new(MockPublisher)
	p.On("Publish", config.TopicRunRequested, mock.MatchedBy(func(b []byte) bool {
		var req ingest.RunRequest
		if err := json.Unmarshal(b, &req); err != nil {
			return false
		}
		return req.MaxDocs == 3 && req.CorrelationID == "corr-1"
	})).Return(nil)

	r := new(MockRunner)
	tr := NewTrigger(context.Background(), p, r)

	err := tr.Request(context.Background(), ingest.RunRequest{MaxDocs: 3, CorrelationID: "corr-1"})
	require.NoError(t, err)
	p.AssertExpectations(t)
	r.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestTrigger_PublishError(t *testing.T) {
	p := new(MockPublisher)
	p.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nsqd down"))

	err := NewTrigger(context.Background(), p, nil).Request(context.Background(), ingest.RunRequest{})
	assert.ErrorContains(t, err, "publish run request")
}

func TestTrigger_InProcess(t *testing.T) {
	r := new(MockRunner)
	r.On("Run", mock.Anything, ingest.RunOptions{Reingest: []string{"https://mim.gov.it/a"}}).Return(&ingest.Report{Failed: 1}, nil)

	// The request context is cancelled as soon as the handler returns.
	reqCtx, cancel := context.WithCancel(context.Background())
	tr := NewTrigger(context.Background(), nil, r)
	require.NoError(t, tr.Request(reqCtx, ingest.RunRequest{Reingest: []string{"https://mim.gov.it/a"}, CorrelationID: "corr-7"}))
	cancel()
	tr.Wait()

	r.AssertExpectations(t)
	assert.NoError(t, r.ctx().Err())
	assert.Equal(t, "corr-7", middleware.GetCorrelationID(r.ctx()))
}

func TestTrigger_NoRunner(t *testing.T) {
	err := NewTrigger(context.Background(), nil, nil).Request(context.Background(), ingest.RunRequest{})
	assert.ErrorIs(t, err, ErrNoRunner)
}
