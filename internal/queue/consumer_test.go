package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHandler struct{ mock.Mock }

func (m *mockHandler) Handle(ctx context.Context, t ReconcileTask) error {
	return m.Called(t).Error(0)
}

type mockRetrier struct{ mock.Mock }

func (m *mockRetrier) Enqueue(ctx context.Context, t ReconcileTask) error {
	return m.Called(t).Error(0)
}

func body(t *testing.T, task ReconcileTask) []byte {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return b
}

func TestProcess_Success(t *testing.T) {
	h, r := &mockHandler{}, &mockRetrier{}
	task := ReconcileTask{Kind: TaskDeleteRemote, RemoteRef: "auth0|x"}
	h.On("Handle", task).Return(nil).Once()

	c := &Consumer{Handler: h, Retry: r, Log: zerolog.Nop()}
	require.NoError(t, c.Process(context.Background(), body(t, task)))
	h.AssertExpectations(t)
	r.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestProcess_FailureRequeuesWithNextAttempt(t *testing.T) {
	h, r := &mockHandler{}, &mockRetrier{}
	task := ReconcileTask{Kind: TaskPurgeLocal, UserID: 4, Attempt: 1}
	h.On("Handle", task).Return(errors.New("db down")).Once()
	next := task
	next.Attempt = 2
	r.On("Enqueue", next).Return(nil).Once()

	c := &Consumer{Handler: h, Retry: r, Log: zerolog.Nop()}
	require.NoError(t, c.Process(context.Background(), body(t, task)))
	h.AssertExpectations(t)
	r.AssertExpectations(t)
}

func TestProcess_GivesUpAfterMaxAttempts(t *testing.T) {
	h, r := &mockHandler{}, &mockRetrier{}
	task := ReconcileTask{Kind: TaskResyncRemote, UserID: 4, Attempt: MaxAttempts - 1}
	h.On("Handle", task).Return(errors.New("still failing")).Once()

	c := &Consumer{Handler: h, Retry: r, Log: zerolog.Nop()}
	require.NoError(t, c.Process(context.Background(), body(t, task)))
	r.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestProcess_RejectsMalformedBodies(t *testing.T) {
	c := &Consumer{Handler: &mockHandler{}, Log: zerolog.Nop()}
	assert.Error(t, c.Process(context.Background(), []byte("{not json")))
	assert.Error(t, c.Process(context.Background(), []byte(`{"kind":"explode"}`)))
}
