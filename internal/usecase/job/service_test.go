package job

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

type fakeSubmitter struct {
	ids []string
	err error
}

func (f *fakeSubmitter) Submit(jobID string) (*Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ids = append(f.ids, jobID)
	return &Task{JobID: jobID, done: make(chan struct{})}, nil
}

func TestServiceSubmit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rt := createTable(t, store, 2)
	sub := &fakeSubmitter{}
	bus := &recordBus{}
	svc := NewService(store, sub, bus, testLogger())

	job, err := svc.Submit(ctx, SubmitInput{RoundTableID: rt.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.JobTypeDiscussion, job.Type)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.Equal(t, []string{job.ID}, sub.ids)
	assert.Equal(t, []domain.EventType{domain.EventJobSubmitted}, bus.types())

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, rt.ID, got.RoundTableID)
}

func TestServiceCreateVotersGetIDs(t *testing.T) {
	store := newTestStore(t)
	rt := createTable(t, store, 1)
	svc := NewService(store, &fakeSubmitter{}, nil, testLogger())

	job, err := svc.Create(context.Background(), SubmitInput{
		Type:         domain.JobTypeMoEVote,
		RoundTableID: rt.ID,
		Options:      domain.JobOptions{Voters: []domain.Agent{{Name: " Judge "}, {ID: "j2", Name: "Other"}}},
	})
	require.NoError(t, err)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, got.Options.Voters, 2)
	assert.Equal(t, "voter-1", got.Options.Voters[0].ID)
	assert.Equal(t, "Judge", got.Options.Voters[0].Name)
	assert.Equal(t, "j2", got.Options.Voters[1].ID)
}

func TestServiceCreateValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rt := createTable(t, store, 1)
	paused := createTable(t, store, 1)
	require.NoError(t, store.UpdateRoundTableStatus(ctx, paused.ID, domain.RoundTablePaused))
	svc := NewService(store, &fakeSubmitter{}, nil, testLogger())

	tests := []struct {
		name string
		in   SubmitInput
		want error
	}{
		{"unknown type", SubmitInput{Type: "poll", RoundTableID: rt.ID}, domain.ErrInvalidInput},
		{"bad language", SubmitInput{RoundTableID: rt.ID, Options: domain.JobOptions{Language: "fr"}}, domain.ErrInvalidInput},
		{"nameless voter", SubmitInput{Type: domain.JobTypeMoEVote, RoundTableID: rt.ID, Options: domain.JobOptions{Voters: []domain.Agent{{}}}}, domain.ErrInvalidInput},
		{"unknown table", SubmitInput{RoundTableID: "nope"}, domain.ErrNotFound},
		{"paused table", SubmitInput{RoundTableID: paused.ID}, domain.ErrRoundTableNotActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestServiceSubmitRefusedJobIsFailed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rt := createTable(t, store, 1)
	closedErr := domain.NewSubSystemError("job", "Worker.Submit", domain.ErrWorkerClosed, "")
	svc := NewService(store, &fakeSubmitter{err: closedErr}, nil, testLogger())

	_, err := svc.Submit(ctx, SubmitInput{RoundTableID: rt.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrWorkerClosed))
}
