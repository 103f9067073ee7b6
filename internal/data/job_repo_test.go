package data

import (
	"context"
	"testing"
	"time"

	"media-dispatch-service/internal/biz"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(storyID, sceneID int64, mediaType string) *biz.Job {
	return &biz.Job{
		ID:          uuid.New().String(),
		JobType:     biz.JobTypeGenerateMedia,
		Status:      biz.JobStatusPending,
		UserID:      7,
		StoryID:     &storyID,
		SceneID:     &sceneID,
		MediaType:   mediaType,
		RequestData: map[string]interface{}{"voice_id": "v1"},
		CreditCost:  10,
		RateVersion: "v2",
		MaxRetries:  3,
	}
}

func TestJobRepo_CreateGetUpdate(t *testing.T) {
	d, _ := newTestData(t)
	repo := NewJobRepo(d, log.DefaultLogger)
	ctx := context.Background()

	job := newJob(1, 11, "audio")
	require.NoError(t, repo.CreateJob(ctx, job))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.JobStatusPending, got.Status)
	assert.Equal(t, "v1", got.RequestData["voice_id"])
	assert.Nil(t, got.ResponseData)
	assert.Empty(t, got.MessageID)
	assert.Equal(t, int64(11), *got.SceneID)

	now := time.Now().UTC().Truncate(time.Second)
	got.MessageID = "msg-1"
	require.NoError(t, got.MarkAsProcessing(now))
	require.NoError(t, repo.UpdateJob(ctx, got, biz.JobStatusPending))

	// 状态守卫：旧状态不匹配时冲突
	stale := *got
	stale.Status = biz.JobStatusCancelled
	err = repo.UpdateJob(ctx, &stale, biz.JobStatusPending)
	require.Error(t, err)
	assert.True(t, mediaErrors.IsJobConflict(err))
	assert.False(t, mediaErrors.IsInvalidTransition(err))

	require.NoError(t, got.MarkAsCompleted(map[string]interface{}{"url": "https://cdn/a.mp3"}, now))
	require.NoError(t, repo.UpdateJob(ctx, got, biz.JobStatusProcessing))

	final, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.JobStatusCompleted, final.Status)
	assert.Equal(t, "msg-1", final.MessageID)
	assert.Equal(t, "https://cdn/a.mp3", final.ResponseData["url"])
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)

	_, err = repo.GetJob(ctx, "missing")
	assert.True(t, mediaErrors.IsNotFound(err))
}

func TestJobRepo_MessageIDUnique(t *testing.T) {
	d, _ := newTestData(t)
	repo := NewJobRepo(d, log.DefaultLogger)
	ctx := context.Background()

	a, b := newJob(1, 11, "image"), newJob(1, 12, "image")
	a.MessageID, b.MessageID = "dup", "dup"
	require.NoError(t, repo.CreateJob(ctx, a))
	assert.Error(t, repo.CreateJob(ctx, b))

	// 多个未派发任务的 message_id 为 NULL，不冲突
	require.NoError(t, repo.CreateJob(ctx, newJob(1, 13, "image")))
	require.NoError(t, repo.CreateJob(ctx, newJob(1, 14, "image")))
}

func TestJobRepo_ListActiveAudioHandles(t *testing.T) {
	d, _ := newTestData(t)
	repo := NewJobRepo(d, log.DefaultLogger)
	ctx := context.Background()

	add := func(sceneID int64, mediaType string, status biz.JobStatus, messageID string) {
		job := newJob(1, sceneID, mediaType)
		job.Status = status
		job.MessageID = messageID
		require.NoError(t, repo.CreateJob(ctx, job))
	}
	add(10, "audio", biz.JobStatusCompleted, "h10")
	add(11, "audio", biz.JobStatusProcessing, "h11")
	add(12, "audio", biz.JobStatusFailed, "h12")
	add(13, "audio", biz.JobStatusCancelled, "h13")
	add(14, "image", biz.JobStatusProcessing, "h14")
	add(15, "audio", biz.JobStatusPending, "")

	other := newJob(2, 20, "audio")
	other.MessageID = "h20"
	require.NoError(t, repo.CreateJob(ctx, other))

	handles, err := repo.ListActiveAudioHandles(ctx, 1)
	require.NoError(t, err)
	ids := map[string]int64{}
	for _, h := range handles {
		ids[h.MessageID] = h.SceneID
	}
	assert.Equal(t, map[string]int64{"h10": 10, "h11": 11}, ids)
}

func TestJobRepo_ListDueRetries(t *testing.T) {
	d, _ := newTestData(t)
	repo := NewJobRepo(d, log.DefaultLogger)
	ctx := context.Background()
	now := time.Now().UTC()

	due := newJob(1, 10, "image")
	due.RetryCount = 1
	past := now.Add(-time.Minute)
	due.NextRetryAt = &past
	require.NoError(t, repo.CreateJob(ctx, due))

	later := newJob(1, 11, "image")
	later.RetryCount = 1
	future := now.Add(time.Hour)
	later.NextRetryAt = &future
	require.NoError(t, repo.CreateJob(ctx, later))

	fresh := newJob(1, 12, "image")
	require.NoError(t, repo.CreateJob(ctx, fresh))

	jobs, err := repo.ListDueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due.ID, jobs[0].ID)
}

func TestJobRepo_WorkerReportRacesDispatch(t *testing.T) {
	d, _ := newTestData(t)
	repo := NewJobRepo(d, log.DefaultLogger)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	job := newJob(1, 11, "audio")
	require.NoError(t, repo.CreateJob(ctx, job))

	// worker 回报先于派发方落库，读到的快照里还没有句柄
	report, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, repo.SetMessageID(ctx, job.ID, "msg-1"))
	require.NoError(t, report.MarkAsProcessing(now))
	require.NoError(t, report.MarkAsCompleted(map[string]interface{}{"url": "https://cdn/a.mp3"}, now))
	require.NoError(t, repo.UpdateJob(ctx, report, biz.JobStatusPending))
	assert.Equal(t, int64(1), report.Version)

	// 派发方的旧版本更新失败
	require.NoError(t, job.MarkAsProcessing(now))
	err = repo.UpdateJob(ctx, job, biz.JobStatusPending)
	assert.True(t, mediaErrors.IsJobConflict(err))

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.JobStatusCompleted, stored.Status)
	assert.Equal(t, "msg-1", stored.MessageID)
	assert.Equal(t, int64(1), stored.Version)

	handles, err := repo.ListActiveAudioHandles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "msg-1", handles[0].MessageID)

	assert.True(t, mediaErrors.IsNotFound(repo.SetMessageID(ctx, "missing", "msg-2")))
}

func TestJobRepo_UpdateRequiresSameVersion(t *testing.T) {
	d, _ := newTestData(t)
	repo := NewJobRepo(d, log.DefaultLogger)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	job := newJob(1, 11, "image")
	require.NoError(t, repo.CreateJob(ctx, job))
	stale, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)

	// pending -> failed -> pending 往返后状态相同，但版本已变化
	require.NoError(t, job.MarkAsFailed("boom", now))
	require.NoError(t, repo.UpdateJob(ctx, job, biz.JobStatusPending))
	_, err = job.ScheduleRetry(now)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateJob(ctx, job, biz.JobStatusFailed))

	require.NoError(t, stale.MarkAsProcessing(now))
	err = repo.UpdateJob(ctx, stale, biz.JobStatusPending)
	assert.True(t, mediaErrors.IsJobConflict(err))

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, biz.JobStatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
}
