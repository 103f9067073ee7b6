package biz

import (
	"context"
	"strings"
	"sync"
	"testing"

	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser  int64 = 7
	testStory int64 = 1
	testScene int64 = 11
)

func audioRequest() *GenerateMediaRequest {
	return &GenerateMediaRequest{
		UserID: testUser, StoryID: testStory, SceneID: testScene,
		MediaType: constants.MediaTypeAudio, VoiceID: "voice-1",
	}
}

func TestGenerateSceneMedia_AudioScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.openAccount(testUser, 50)
	f.stories.addStory(testStory, testUser)
	f.stories.addScene(testScene, testStory, 1, strings.Repeat("a", 200))

	res, err := f.generation.GenerateSceneMedia(ctx, audioRequest())
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)
	assert.Equal(t, int64(50), res.CreditsCharged)
	assert.Equal(t, int64(0), res.CreditsRemaining)
	assert.Equal(t, "v2", res.RateVersion)
	assert.Equal(t, int64(0), f.credits.balance(testUser))

	txns := f.credits.txnsFor(testUser)
	require.Len(t, txns, 1)
	assert.Equal(t, constants.TransactionTypeDebit, txns[0].Type)
	assert.Equal(t, int64(50), txns[0].Amount)
	assert.Equal(t, "v2", txns[0].RateVersion)

	job := f.jobs.stored(res.Jobs[0].ID)
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.Equal(t, txns[0].ID, job.CreditTransactionID)
	assert.Equal(t, int64(50), job.CreditCost)
	assert.NotEmpty(t, job.MessageID)
	assert.True(t, f.locker.isHeld(LockKey("11", "audio")))

	// 第一次未完成前再次请求
	_, err = f.generation.GenerateSceneMedia(ctx, audioRequest())
	require.Error(t, err)
	assert.True(t, mediaErrors.IsLockConflict(err))
	assert.Equal(t, 1, f.jobs.count())
	assert.Len(t, f.credits.txnsFor(testUser), 1)
}

func TestGenerateSceneMedia_EnqueueFailureCompensates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.openAccount(testUser, 100)
	f.stories.addStory(testStory, testUser)
	f.stories.addScene(testScene, testStory, 1, "once upon a time")
	f.queue.failAll = true

	req := &GenerateMediaRequest{UserID: testUser, StoryID: testStory, SceneID: testScene, MediaType: constants.MediaTypeImage}
	_, err := f.generation.GenerateSceneMedia(ctx, req)
	require.Error(t, err)
	assert.True(t, mediaErrors.IsEnqueueFailure(err))

	assert.Equal(t, int64(100), f.credits.balance(testUser))
	txns := f.credits.txnsFor(testUser)
	require.Len(t, txns, 2)
	assert.Equal(t, constants.TransactionTypeDebit, txns[0].Type)
	assert.Equal(t, constants.TransactionTypeCredit, txns[1].Type)
	assert.Equal(t, constants.ReasonCompensation, txns[1].Reason)
	assert.Equal(t, txns[0].Amount, txns[1].Amount)

	require.Equal(t, 1, f.jobs.count())
	for id := range f.jobs.jobs {
		job := f.jobs.stored(id)
		assert.Equal(t, JobStatusFailed, job.Status)
		assert.Equal(t, txns[1].ID, job.RefundTransactionID)
	}
	assert.False(t, f.locker.isHeld(LockKey("11", "image")), "lock released after failure")

	sum, err := f.credits.SumTransactions(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, f.credits.balance(testUser), sum)
}

func TestGenerateSceneMedia_ShortCircuits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.openAccount(testUser, 100)
	f.openAccount(99, 100)
	f.stories.addStory(testStory, testUser)
	f.stories.addScene(testScene, testStory, 1, "text")

	// 缺少 voice_id
	req := audioRequest()
	req.VoiceID = ""
	_, err := f.generation.GenerateSceneMedia(ctx, req)
	assert.True(t, mediaErrors.IsValidation(err))

	// 非作者
	req = audioRequest()
	req.UserID = 99
	_, err = f.generation.GenerateSceneMedia(ctx, req)
	assert.Equal(t, mediaErrors.ReasonForbidden, reasonOf(err))

	// 场景不存在
	req = audioRequest()
	req.SceneID = 404
	_, err = f.generation.GenerateSceneMedia(ctx, req)
	assert.True(t, mediaErrors.IsNotFound(err))

	// 场景未激活
	f.stories.scenes[testScene].IsActive = false
	_, err = f.generation.GenerateSceneMedia(ctx, audioRequest())
	assert.True(t, mediaErrors.IsNotFound(err))

	assert.Equal(t, 0, f.jobs.count())
	assert.Empty(t, f.credits.txnsFor(testUser))
	assert.Empty(t, f.locker.held)
}

func TestGenerateSceneMedia_InsufficientCredits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.openAccount(testUser, 5)
	f.stories.addStory(testStory, testUser)
	f.stories.addScene(testScene, testStory, 1, "text")

	req := &GenerateMediaRequest{UserID: testUser, StoryID: testStory, SceneID: testScene, MediaType: constants.MediaTypeImage}
	_, err := f.generation.GenerateSceneMedia(ctx, req)
	require.Error(t, err)
	assert.True(t, mediaErrors.IsInsufficientCredits(err))
	assert.Equal(t, "5", metadataOf(err)["credits_remaining"])

	assert.Equal(t, 0, f.jobs.count())
	assert.Empty(t, f.queue.sent)
	assert.False(t, f.locker.isHeld(LockKey("11", "image")))

	// 没有账户
	f2 := newFixture()
	f2.stories.addStory(testStory, testUser)
	f2.stories.addScene(testScene, testStory, 1, "text")
	_, err = f2.generation.GenerateSceneMedia(ctx, req)
	assert.True(t, mediaErrors.IsNoActiveAccount(err))
}

func TestGenerateSceneMedia_ConcurrentSameScene(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.openAccount(testUser, 1000)
	f.stories.addStory(testStory, testUser)
	f.stories.addScene(testScene, testStory, 1, strings.Repeat("b", 40))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.generation.GenerateSceneMedia(ctx, audioRequest())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if mediaErrors.IsLockConflict(err) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
	assert.Len(t, f.credits.txnsFor(testUser), 1)
	assert.Equal(t, 1, f.jobs.count())
}

func TestGenerateStoryImages(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.openAccount(testUser, 100)
	f.stories.addStory(testStory, testUser)
	f.stories.addScene(10, testStory, 1, "a")
	f.stories.addScene(11, testStory, 2, "b")
	f.stories.addScene(12, testStory, 3, "c")

	res, err := f.generation.GenerateStoryImages(ctx, &GenerateMediaRequest{UserID: testUser, StoryID: testStory})
	require.NoError(t, err)
	assert.Len(t, res.Jobs, 3)
	assert.Equal(t, int64(30), res.CreditsCharged)
	assert.Equal(t, int64(70), f.credits.balance(testUser))
	assert.Len(t, f.queue.sent, 3)

	txns := f.credits.txnsFor(testUser)
	require.Len(t, txns, 1, "aggregate reservation")
	assert.Equal(t, int64(30), txns[0].Amount)
	for _, job := range res.Jobs {
		assert.Equal(t, txns[0].ID, job.CreditTransactionID)
		assert.Equal(t, int64(10), job.CreditCost)
	}
}

func TestGenerateStoryImages_PartialFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.openAccount(testUser, 100)
	f.stories.addStory(testStory, testUser)
	f.stories.addScene(10, testStory, 1, "a")
	f.stories.addScene(11, testStory, 2, "b")
	f.queue.failWhen = func(msg *QueueMessage) bool {
		return strings.Contains(string(msg.Body), `"scene_id":11`)
	}

	res, err := f.generation.GenerateStoryImages(ctx, &GenerateMediaRequest{UserID: testUser, StoryID: testStory})
	require.NoError(t, err)
	require.Len(t, res.Jobs, 2)
	assert.Equal(t, int64(10), res.CreditsCharged)
	assert.Equal(t, int64(90), res.CreditsRemaining)
	assert.Equal(t, int64(90), f.credits.balance(testUser))

	statuses := map[int64]JobStatus{}
	for _, job := range res.Jobs {
		statuses[*job.SceneID] = job.Status
	}
	assert.Equal(t, JobStatusProcessing, statuses[10])
	assert.Equal(t, JobStatusFailed, statuses[11])
	assert.True(t, f.locker.isHeld(LockKey("10", "image")))
	assert.False(t, f.locker.isHeld(LockKey("11", "image")))
}

func TestGenerateStoryImages_AllFail(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.openAccount(testUser, 100)
	f.stories.addStory(testStory, testUser)
	f.stories.addScene(10, testStory, 1, "a")
	f.stories.addScene(11, testStory, 2, "b")
	f.queue.failAll = true

	_, err := f.generation.GenerateStoryImages(ctx, &GenerateMediaRequest{UserID: testUser, StoryID: testStory})
	assert.True(t, mediaErrors.IsEnqueueFailure(err))
	assert.Equal(t, int64(100), f.credits.balance(testUser))
	assert.Empty(t, f.locker.held)
}

func TestGenerateStoryImages_LockConflictReleasesAcquired(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.openAccount(testUser, 100)
	f.stories.addStory(testStory, testUser)
	f.stories.addScene(10, testStory, 1, "a")
	f.stories.addScene(11, testStory, 2, "b")
	_, err := f.locker.TryAcquire(ctx, LockKey("11", "image"), 0)
	require.NoError(t, err)

	_, err = f.generation.GenerateStoryImages(ctx, &GenerateMediaRequest{UserID: testUser, StoryID: testStory})
	assert.True(t, mediaErrors.IsLockConflict(err))
	assert.False(t, f.locker.isHeld(LockKey("10", "image")))
	assert.Equal(t, 0, f.jobs.count())
	assert.Empty(t, f.credits.txnsFor(testUser))
}

func TestGenerateStoryAudio(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.openAccount(testUser, 100)
	f.stories.addStory(testStory, testUser)
	f.stories.addScene(10, testStory, 1, strings.Repeat("a", 10)) // 2.5 -> 3
	f.stories.addScene(11, testStory, 2, strings.Repeat("b", 6))  // 1.5 -> 2
	f.stories.addScene(12, testStory, 3, "")

	res, err := f.generation.GenerateStoryAudio(ctx, &GenerateMediaRequest{UserID: testUser, StoryID: testStory, VoiceID: "v"})
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)
	job := res.Jobs[0]
	assert.Equal(t, JobTypeGenerateEntireAudio, job.JobType)
	assert.Equal(t, int64(5), res.CreditsCharged)
	assert.Nil(t, job.SceneID)

	require.Len(t, f.queue.sent, 1)
	body := decodeMessage(t, f.queue.sent[0])
	assert.Equal(t, "generate_entire_audio", body["action"])
	assert.Equal(t, []interface{}{float64(10), float64(11)}, body["scene_ids"])
	assert.True(t, f.locker.isHeld(LockKey("story_1", "audio")))

	_, err = f.generation.GenerateStoryAudio(ctx, &GenerateMediaRequest{UserID: testUser, StoryID: testStory})
	assert.True(t, mediaErrors.IsValidation(err), "voice_id required")
}

func TestRequestPreview(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stories.addStory(testStory, testUser)

	job, err := f.generation.RequestPreview(ctx, testUser, testStory, constants.PreviewPDF)
	require.NoError(t, err)
	assert.Equal(t, JobTypeGeneratePDFPreview, job.JobType)
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.Equal(t, int64(0), job.CreditCost)
	assert.True(t, f.locker.isHeld(LockKey("story_1", "preview_pdf")))

	body := decodeMessage(t, f.queue.sent[0])
	assert.Equal(t, "generate_pdf_preview", body["action"])
	assert.EqualValues(t, testStory, body["story_id"])

	_, err = f.generation.RequestPreview(ctx, testUser, testStory, constants.PreviewPDF)
	assert.True(t, mediaErrors.IsLockConflict(err))

	_, err = f.generation.RequestPreview(ctx, testUser, testStory, "gif")
	assert.True(t, mediaErrors.IsValidation(err))

	_, err = f.generation.RequestPreview(ctx, 99, testStory, constants.PreviewVideo)
	assert.Equal(t, mediaErrors.ReasonForbidden, reasonOf(err))

	got, err := f.jobUseCase.GetPreviewStatus(ctx, testUser, testStory, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = f.jobUseCase.GetPreviewStatus(ctx, testUser, 2, job.ID)
	assert.True(t, mediaErrors.IsNotFound(err))
}
