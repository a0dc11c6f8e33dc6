package reprocess

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZoroCRE/cv-analyzer/constants"
	"github.com/ZoroCRE/cv-analyzer/internal/async"
	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/entity"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
	"github.com/ZoroCRE/cv-analyzer/internal/submission"
)

type fakeQueue struct {
	jobs []async.Job
	err  error
}

func (q *fakeQueue) Submit(_ context.Context, job async.Job) (async.Envelope, error) {
	q.jobs = append(q.jobs, job)
	if q.err != nil {
		return async.Envelope{}, q.err
	}
	return async.NewEnvelope(job, 3), nil
}

type fixture struct {
	svc   *Service
	subs  repository.SubmissionRepository
	docs  repository.DocumentRepository
	agg   *submission.Aggregator
	queue *fakeQueue
	sid   int64
	ids   []int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "cv.db"), logger)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)

	f := &fixture{
		subs:  repository.NewSubmissionRepository(db, logger),
		docs:  repository.NewDocumentRepository(db, logger),
		queue: &fakeQueue{},
	}
	f.agg = submission.NewAggregator(f.subs, logger)
	f.svc = NewService(f.subs, f.docs, f.queue, f.agg, logger)

	user := uuid.New()
	f.sid, err = f.subs.Create(ctx, &entity.Submission{UserID: user, Title: "t", KeywordsSnapshot: "Go, , Kafka ", TotalFiles: 2})
	require.NoError(t, err)
	f.ids, err = f.subs.AttachDocuments(ctx, f.sid, []entity.CVAnalysis{
		{UserID: user, OriginalFilename: "a.pdf", StoragePath: "u/1/a.pdf"},
		{UserID: user, OriginalFilename: "b.pdf", StoragePath: "u/1/b.pdf"},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) fail(t *testing.T, id int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.docs.MarkFailed(ctx, id, "boom"))
	_, err := f.agg.Resolve(ctx, f.sid, id, constants.DocumentFailed)
	require.NoError(t, err)
}

func TestReprocess_ReopensCompletedSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fail(t, f.ids[0])
	f.fail(t, f.ids[1])

	sub, err := f.subs.Get(ctx, f.sid)
	require.NoError(t, err)
	require.Equal(t, constants.SubmissionCompleted, sub.Status)

	env, err := f.svc.Reprocess(ctx, f.ids[0])
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, []string{"Go", "Kafka"}, env.Job.Keywords)
	assert.Equal(t, "u/1/a.pdf", env.Job.StoragePath)
	assert.Equal(t, f.sid, env.Job.SubmissionID)

	sub, err = f.subs.Get(ctx, f.sid)
	require.NoError(t, err)
	assert.Equal(t, constants.SubmissionProcessing, sub.Status)
	assert.Equal(t, 1, sub.FailedFiles)

	cv, err := f.docs.Get(ctx, f.ids[0])
	require.NoError(t, err)
	assert.Equal(t, constants.DocumentPending, cv.Status)
	assert.Nil(t, cv.ErrorMessage)
	assert.Nil(t, cv.ResolvedAs)

	// the next outcome is counted and completes the submission again
	p, err := f.agg.Resolve(ctx, f.sid, f.ids[0], constants.DocumentProcessed)
	require.NoError(t, err)
	assert.True(t, p.JustCompleted)
	assert.Equal(t, 1, p.ProcessedFiles)
	assert.Equal(t, 1, p.FailedFiles)
}

func TestReprocess_EnqueueFailureResolvesAsFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fail(t, f.ids[0])
	f.fail(t, f.ids[1])
	f.queue.err = common.ErrQueueUnavailable

	_, err := f.svc.Reprocess(ctx, f.ids[1])
	require.ErrorIs(t, err, common.ErrQueueUnavailable)

	cv, err := f.docs.Get(ctx, f.ids[1])
	require.NoError(t, err)
	assert.Equal(t, constants.DocumentFailed, cv.Status)
	require.NotNil(t, cv.ErrorMessage)
	assert.Contains(t, *cv.ErrorMessage, "enqueue failed")

	sub, err := f.subs.Get(ctx, f.sid)
	require.NoError(t, err)
	assert.Equal(t, constants.SubmissionCompleted, sub.Status)
	assert.Equal(t, 2, sub.FailedFiles)
}

func TestReprocess_UnknownDocument(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Reprocess(context.Background(), 9999)
	assert.True(t, errors.Is(err, common.ErrNotFound))
	assert.Empty(t, f.queue.jobs)

	_, err = f.svc.Reprocess(context.Background(), 0)
	assert.ErrorIs(t, err, common.ErrValidation)
}
