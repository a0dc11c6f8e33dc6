package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZoroCRE/cv-analyzer/constants"
	"github.com/ZoroCRE/cv-analyzer/internal/async"
	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
	"github.com/ZoroCRE/cv-analyzer/internal/storage"
	"github.com/ZoroCRE/cv-analyzer/internal/submission"
)

type fakeQueue struct {
	mu     sync.Mutex
	jobs   []async.Job
	failAt map[int]bool
}

func (q *fakeQueue) Submit(_ context.Context, job async.Job) (async.Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.jobs)
	q.jobs = append(q.jobs, job)
	if q.failAt[n] {
		return async.Envelope{}, common.ErrQueueUnavailable
	}
	return async.NewEnvelope(job, 3), nil
}

type harness struct {
	svc   *Service
	subs  repository.SubmissionRepository
	docs  repository.DocumentRepository
	store *storage.LocalStorage
	queue *fakeQueue
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "cv.db"), logger)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		subs:  repository.NewSubmissionRepository(db, logger),
		docs:  repository.NewDocumentRepository(db, logger),
		store: store,
		queue: &fakeQueue{failAt: map[int]bool{}},
	}
	h.svc = NewService(store, h.subs, h.docs, h.queue, submission.NewAggregator(h.subs, logger), opts, logger)
	h.svc.now = func() time.Time { return time.UnixMilli(1700000000000).UTC() }
	return h
}

func memUpload(name, body string) Upload {
	return Upload{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}}
}

func TestSubmit_StoresAndQueuesEveryFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	user := uuid.New()

	res, err := h.svc.Submit(ctx, Request{
		UserID:   user,
		Title:    "Backend hiring",
		Keywords: []string{" Go, PostgreSQL ", "", "Redis"},
		Files:    []Upload{memUpload("jane doe.pdf", "a"), memUpload("john(1).docx", "b")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "PostgreSQL", "Redis"}, res.Keywords)
	require.Len(t, res.Accepted, 2)
	assert.Empty(t, res.Rejected)

	sub, err := h.subs.Get(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, 2, sub.TotalFiles)
	assert.Equal(t, "Go, PostgreSQL, Redis", sub.KeywordsSnapshot)
	assert.Equal(t, constants.SubmissionProcessing, sub.Status)

	require.Len(t, h.queue.jobs, 2)
	for i, job := range h.queue.jobs {
		assert.Equal(t, res.Accepted[i].CVID, job.CVID)
		assert.Equal(t, user, job.UserID)
		assert.Equal(t, res.SubmissionID, job.SubmissionID)
		assert.Equal(t, []string{"Go", "PostgreSQL", "Redis"}, job.Keywords)
		assert.NotEmpty(t, res.Accepted[i].JobID)

		ok, err := h.store.Exists(ctx, job.StoragePath)
		require.NoError(t, err)
		assert.True(t, ok, job.StoragePath)
	}
	assert.True(t, strings.HasSuffix(h.queue.jobs[0].StoragePath, "_jane_doe.pdf"))
	assert.True(t, strings.HasSuffix(h.queue.jobs[1].StoragePath, "_john_1_.docx"))
	assert.NotEqual(t, h.queue.jobs[0].StoragePath, h.queue.jobs[1].StoragePath)
	assert.True(t, strings.HasPrefix(h.queue.jobs[0].StoragePath, user.String()+"/"))
}

func TestSubmit_DefaultTitle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})

	res, err := h.svc.Submit(ctx, Request{UserID: uuid.New(), Files: []Upload{memUpload("a.pdf", "x")}})
	require.NoError(t, err)

	sub, err := h.subs.Get(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, "Submission on 2023-11-14", sub.Title)
	assert.Empty(t, sub.KeywordsSnapshot)
}

func TestSubmit_SkipsFilesThatCannotBeStored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{MaxFileSize: 4})
	broken := Upload{Name: "broken.pdf", Open: func() (io.ReadCloser, error) { return nil, errors.New("disk gone") }}

	res, err := h.svc.Submit(ctx, Request{
		UserID: uuid.New(),
		Files:  []Upload{memUpload("ok.pdf", "tiny"), memUpload("big.pdf", "way too large"), broken},
	})
	require.NoError(t, err)
	require.Len(t, res.Accepted, 1)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, "big.pdf", res.Rejected[0].Filename)
	assert.Equal(t, "broken.pdf", res.Rejected[1].Filename)

	sub, err := h.subs.Get(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.TotalFiles)
}

func TestSubmit_NothingStoredCompletesSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{MaxFileSize: 1})

	res, err := h.svc.Submit(ctx, Request{UserID: uuid.New(), Files: []Upload{memUpload("a.pdf", "too big")}})
	require.ErrorIs(t, err, ErrNothingStored)
	require.NotNil(t, res)

	sub, err := h.subs.Get(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.TotalFiles)
	assert.Equal(t, constants.SubmissionCompleted, sub.Status)
	assert.Empty(t, h.queue.jobs)
}

func TestSubmit_EnqueueFailureResolvesDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.queue.failAt[1] = true

	res, err := h.svc.Submit(ctx, Request{
		UserID: uuid.New(),
		Files:  []Upload{memUpload("a.pdf", "x"), memUpload("b.pdf", "y")},
	})
	require.NoError(t, err)
	require.Len(t, res.Accepted, 2)
	assert.Empty(t, res.Accepted[1].JobID)
	assert.NotEmpty(t, res.Accepted[1].Err)

	cv, err := h.docs.Get(ctx, res.Accepted[1].CVID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocumentFailed, cv.Status)
	require.NotNil(t, cv.ErrorMessage)
	assert.Contains(t, *cv.ErrorMessage, "enqueue failed")

	sub, err := h.subs.Get(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.FailedFiles)
	assert.Equal(t, constants.SubmissionProcessing, sub.Status)
}

func TestSubmit_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{MaxFiles: 1})

	_, err := h.svc.Submit(ctx, Request{Files: []Upload{memUpload("a.pdf", "x")}})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = h.svc.Submit(ctx, Request{UserID: uuid.New()})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = h.svc.Submit(ctx, Request{UserID: uuid.New(), Files: []Upload{memUpload("a.pdf", "x"), memUpload("b.pdf", "y")}})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Empty(t, h.queue.jobs)
}

func TestLocalFiles_WalksSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string) {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	write("a.pdf")
	write("nested/b.DOCX")
	write("nested/notes.txt")
	write(".hidden/c.pdf")
	write(".d.png")
	explicit := filepath.Join(dir, "nested", "notes.txt")

	files, err := LocalFiles([]string{dir, explicit}, true)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"a.pdf", "b.DOCX", "notes.txt"}, names)

	rc, err := files[0].Open()
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	_, err = LocalFiles([]string{filepath.Join(dir, "missing")}, true)
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "Jane_Doe__CV_.pdf", SanitizeFilename("Jane Doe (CV).pdf"))
	assert.Equal(t, "x.pdf", SanitizeFilename("../../x.pdf"))
	assert.Equal(t, "r_sum_.docx", SanitizeFilename("résumé.docx"))
}
