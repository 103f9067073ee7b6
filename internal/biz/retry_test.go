package biz

import (
	"context"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLeader struct {
	held     bool
	unlocked int
}

func (l *fakeLeader) TryLock(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.held {
		return nil, ErrNotLeader
	}
	return func() { l.unlocked++ }, nil
}

func TestRetrySweeper(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := dispatchedImageJob(t, f)
	_, err := f.jobUseCase.ApplyReport(ctx, &WorkerReport{JobID: job.ID, Status: JobStatusFailed, Error: "x"})
	require.NoError(t, err)
	f.jobUseCase.now = func() time.Time { return testNow.Add(10 * time.Minute) }

	leader := &fakeLeader{held: true}
	sweeper := NewRetrySweeper(f.jobUseCase, leader, testBootstrap(), log.DefaultLogger)

	ok, failed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, ok+failed, "another instance holds the leader lock")
	assert.Equal(t, JobStatusPending, f.jobs.stored(job.ID).Status)

	leader.held = false
	ok, failed, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 1, leader.unlocked)
	assert.Equal(t, JobStatusProcessing, f.jobs.stored(job.ID).Status)
}
