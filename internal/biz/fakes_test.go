package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"media-dispatch-service/internal/conf"
	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"

	kratosErrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

func reasonOf(err error) string {
	return kratosErrors.Reason(err)
}

func metadataOf(err error) map[string]string {
	return kratosErrors.FromError(err).Metadata
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testBootstrap() *conf.Bootstrap {
	return &conf.Bootstrap{
		Pricing: &conf.Pricing{
			ActiveVersion: "v2",
			Rates: []*conf.Pricing_RateTable{
				{Version: "v1", ImageFlat: 100, AudioPerChar: "0.3"},
				{Version: "v2", ImageFlat: 10, AudioPerChar: "0.25"},
			},
		},
		Generation: &conf.Generation{
			LockTtl:        &conf.Duration{Duration: 300 * time.Second},
			MaxRetries:     3,
			DefaultCredits: 300,
		},
		Queue: &conf.Queue{SendTimeout: &conf.Duration{Duration: time.Second}},
	}
}

// ---- stories ----

type fakeStoryRepo struct {
	stories map[int64]*Story
	scenes  map[int64]*Scene
}

func newFakeStoryRepo() *fakeStoryRepo {
	return &fakeStoryRepo{stories: map[int64]*Story{}, scenes: map[int64]*Scene{}}
}

func (r *fakeStoryRepo) addStory(id, author int64) {
	r.stories[id] = &Story{ID: id, AuthorID: author, Title: fmt.Sprintf("story %d", id), IsActive: true}
}

func (r *fakeStoryRepo) addScene(id, storyID int64, order int, content string) {
	r.scenes[id] = &Scene{ID: id, StoryID: storyID, Order: order, Content: content, IsActive: true}
}

func (r *fakeStoryRepo) GetStory(_ context.Context, storyID int64) (*Story, error) {
	s, ok := r.stories[storyID]
	if !ok {
		return nil, mediaErrors.NotFound("story %d not found", storyID)
	}
	return s, nil
}

func (r *fakeStoryRepo) GetScene(_ context.Context, storyID, sceneID int64) (*Scene, error) {
	s, ok := r.scenes[sceneID]
	if !ok || s.StoryID != storyID {
		return nil, mediaErrors.NotFound("scene %d not found", sceneID)
	}
	return s, nil
}

func (r *fakeStoryRepo) ListActiveScenes(_ context.Context, storyID int64) ([]*Scene, error) {
	var out []*Scene
	for _, s := range r.scenes {
		if s.StoryID == storyID && s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Order < out[k].Order })
	return out, nil
}

// ---- jobs ----

type fakeJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	handles   []*AudioHandle
	updateErr error
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*Job{}}
}

func cloneJob(j *Job) *Job {
	c := *j
	return &c
}

func (r *fakeJobRepo) CreateJob(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *fakeJobRepo) GetJob(_ context.Context, jobID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, mediaErrors.NotFound("job %s not found", jobID)
	}
	return cloneJob(j), nil
}

func (r *fakeJobRepo) UpdateJob(_ context.Context, job *Job, from JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	cur, ok := r.jobs[job.ID]
	if !ok || cur.Status != from || cur.Version != job.Version {
		return mediaErrors.JobConflict(job.ID)
	}
	job.Version++
	stored := cloneJob(job)
	if stored.MessageID == "" {
		stored.MessageID = cur.MessageID
	}
	r.jobs[job.ID] = stored
	return nil
}

func (r *fakeJobRepo) SetMessageID(_ context.Context, jobID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[jobID]
	if !ok {
		return mediaErrors.NotFound("job %s not found", jobID)
	}
	cur.MessageID = messageID
	return nil
}

func (r *fakeJobRepo) ListActiveAudioHandles(_ context.Context, _ int64) ([]*AudioHandle, error) {
	return r.handles, nil
}

func (r *fakeJobRepo) ListDueRetries(_ context.Context, now time.Time, limit int) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Job
	for _, j := range r.jobs {
		if j.Status == JobStatusPending && j.RetryCount > 0 && j.NextRetryAt != nil && !j.NextRetryAt.After(now) {
			out = append(out, cloneJob(j))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeJobRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *fakeJobRepo) stored(id string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneJob(r.jobs[id])
}

// ---- credits ----

type fakeCreditRepo struct {
	mu       sync.Mutex
	accounts map[int64]*CreditAccount
	txns     []*CreditTransaction
	seq      int
}

func newFakeCreditRepo() *fakeCreditRepo {
	return &fakeCreditRepo{accounts: map[int64]*CreditAccount{}}
}

func (r *fakeCreditRepo) appendTxn(account *CreditAccount, typ string, entry *LedgerEntry) *CreditTransaction {
	r.seq++
	txn := &CreditTransaction{
		ID:           fmt.Sprintf("txn-%d", r.seq),
		UserID:       account.UserID,
		AccountID:    account.ID,
		Type:         typ,
		Amount:       entry.Amount,
		BalanceAfter: account.Balance,
		Reason:       entry.Reason,
		JobID:        entry.JobID,
		SceneID:      entry.SceneID,
		RateVersion:  entry.RateVersion,
		CreatedAt:    testNow,
	}
	r.txns = append(r.txns, txn)
	return txn
}

func (r *fakeCreditRepo) OpenAccount(_ context.Context, userID, initial int64) (*CreditAccount, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[userID]; ok {
		return a, false, nil
	}
	a := &CreditAccount{ID: int64(len(r.accounts) + 1), UserID: userID, Balance: initial, IsActive: true}
	r.accounts[userID] = a
	r.appendTxn(a, constants.TransactionTypeCredit, &LedgerEntry{UserID: userID, Amount: initial, Reason: constants.ReasonOpening})
	return a, true, nil
}

func (r *fakeCreditRepo) GetActiveAccount(_ context.Context, userID int64) (*CreditAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[userID]
	if !ok {
		return nil, mediaErrors.NoActiveAccount(userID)
	}
	c := *a
	return &c, nil
}

func (r *fakeCreditRepo) Debit(_ context.Context, entry *LedgerEntry) (*CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[entry.UserID]
	if !ok {
		return nil, mediaErrors.NoActiveAccount(entry.UserID)
	}
	if a.Balance < entry.Amount {
		return nil, mediaErrors.InsufficientCredits(entry.Amount, a.Balance)
	}
	a.Balance -= entry.Amount
	return r.appendTxn(a, constants.TransactionTypeDebit, entry), nil
}

func (r *fakeCreditRepo) Credit(_ context.Context, entry *LedgerEntry) (*CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[entry.UserID]
	if !ok {
		return nil, mediaErrors.NoActiveAccount(entry.UserID)
	}
	a.Balance += entry.Amount
	return r.appendTxn(a, constants.TransactionTypeCredit, entry), nil
}

func (r *fakeCreditRepo) ListTransactions(_ context.Context, userID int64, page, pageSize int) ([]*CreditTransaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*CreditTransaction
	for _, t := range r.txns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeCreditRepo) SumTransactions(_ context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, t := range r.txns {
		if t.UserID == userID {
			sum += t.SignedAmount()
		}
	}
	return sum, nil
}

func (r *fakeCreditRepo) balance(userID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[userID].Balance
}

func (r *fakeCreditRepo) txnsFor(userID int64) []*CreditTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*CreditTransaction
	for _, t := range r.txns {
		if t.UserID == userID && t.Reason != constants.ReasonOpening {
			out = append(out, t)
		}
	}
	return out
}

// ---- lock ----

type fakeLock struct {
	key    string
	locker *fakeLocker
}

func (l *fakeLock) Key() string { return l.key }

func (l *fakeLock) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	l.locker.released = append(l.locker.released, l.key)
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (ResourceLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, mediaErrors.LockConflict(key)
	}
	l.held[key] = true
	return &fakeLock{key: key, locker: l}, nil
}

func (l *fakeLocker) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

// ---- tx / queue ----

type fakeTx struct{}

func (fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeQueue struct {
	mu       sync.Mutex
	sent     []*QueueMessage
	failKeys map[string]bool
	failAll  bool
	failWhen func(msg *QueueMessage) bool
	// afterSend 在 Send 返回前执行，模拟 worker 抢先回报
	afterSend func(msg *QueueMessage)
	seq       int
}

func (q *fakeQueue) Send(_ context.Context, msg *QueueMessage) (string, error) {
	q.mu.Lock()
	if q.failAll || q.failKeys[msg.Key] || (q.failWhen != nil && q.failWhen(msg)) {
		q.mu.Unlock()
		return "", errors.New("queue unavailable")
	}
	q.seq++
	q.sent = append(q.sent, msg)
	id := fmt.Sprintf("msg-%d", q.seq)
	hook := q.afterSend
	q.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return id, nil
}

// ---- wiring ----

type fixture struct {
	stories    *fakeStoryRepo
	jobs       *fakeJobRepo
	credits    *fakeCreditRepo
	locker     *fakeLocker
	queue      *fakeQueue
	dispatcher *Dispatcher
	ledger     *CreditUseCase
	generation *GenerationUseCase
	jobUseCase *JobUseCase
}

func newFixture() *fixture {
	f := &fixture{
		stories: newFakeStoryRepo(),
		jobs:    newFakeJobRepo(),
		credits: newFakeCreditRepo(),
		locker:  newFakeLocker(),
		queue:   &fakeQueue{failKeys: map[string]bool{}},
	}
	bc := testBootstrap()
	gc := NewGenerationConfig(bc)
	pricing, err := NewCostCalculator(bc)
	if err != nil {
		panic(err)
	}
	logger := log.DefaultLogger
	now := func() time.Time { return testNow }

	f.ledger = NewCreditUseCase(f.credits, gc, logger)
	f.dispatcher = NewDispatcher(f.queue, f.jobs, f.stories, gc, logger)
	f.dispatcher.now = now
	f.generation = NewGenerationUseCase(f.stories, f.jobs, f.ledger, f.locker, fakeTx{}, f.dispatcher, pricing, gc, logger)
	f.generation.now = now
	f.jobUseCase = NewJobUseCase(f.jobs, f.ledger, f.dispatcher, fakeTx{}, logger)
	f.jobUseCase.now = now
	return f
}

func (f *fixture) openAccount(userID, balance int64) {
	if _, _, err := f.credits.OpenAccount(context.Background(), userID, balance); err != nil {
		panic(err)
	}
}
