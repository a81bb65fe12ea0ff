package transfer

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/terraonline/launcher/internal/patch"
	"github.com/terraonline/launcher/internal/server"
	"github.com/terraonline/launcher/internal/state"
	mocks "github.com/terraonline/launcher/testing"
)

// fakeDownloader writes canned bytes to the target path, with optional
// per-file failures keyed by manifest name.
type fakeDownloader struct {
	fs     afero.Fs
	failOn map[string]bool
}

func (d *fakeDownloader) Download(_ context.Context, rawURL, targetPath string, onProgress func(int64, int64, int)) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	name := u.Query().Get("file")
	if d.failOn[name] {
		return errs.New("connection reset")
	}

	body := []byte("archive:" + name)
	total := int64(len(body))
	if onProgress != nil {
		onProgress(total/2, total, 50)
	}
	if err := afero.WriteFile(d.fs, targetPath, body, 0644); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(total, total, 100)
	}
	return nil
}

// fakeExtractor records extracted archives instead of unpacking them.
type fakeExtractor struct {
	extracted []string
	failOn    map[string]bool
}

func (e *fakeExtractor) Extract(_ context.Context, archivePath, _ string, onProgress func(int)) error {
	name := filepath.Base(archivePath)
	if e.failOn[name] {
		return errs.New("corrupt archive")
	}
	e.extracted = append(e.extracted, name)
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	return nil
}

type pipelineEnv struct {
	fs        afero.Fs
	store     *state.Store
	extractor *fakeExtractor
	pipeline  *Pipeline
}

func newPipelineEnv(t *testing.T, failDownload, failExtract map[string]bool) *pipelineEnv {
	t.Helper()

	mock := mocks.NewMockPatchServer(t)
	fs := afero.NewMemMapFs()
	log := zap.NewNop()
	client := server.NewClient(mock.URL, nil, log)
	store := state.NewStore(fs, "/data", log)
	extractor := &fakeExtractor{failOn: failExtract}
	downloader := &fakeDownloader{fs: fs, failOn: failDownload}

	return &pipelineEnv{
		fs:        fs,
		store:     store,
		extractor: extractor,
		pipeline:  NewPipeline(fs, client, store, extractor, downloader, log),
	}
}

func runCollect(t *testing.T, env *pipelineEnv, job *Job, folder string, manifest []patch.ServerFile) (*patch.BatchSummary, []Event) {
	t.Helper()

	events := make(chan Event, 256)
	var summary *patch.BatchSummary
	var runErr error
	done := make(chan struct{})
	go func() {
		summary, runErr = env.pipeline.RunBatch(context.Background(), job, folder, manifest, events)
		close(done)
	}()

	var collected []Event
	for ev := range events {
		collected = append(collected, ev)
	}
	<-done
	require.NoError(t, runErr)
	return summary, collected
}

var testManifest = []patch.ServerFile{
	{Name: "a.zip", Size: 100, Modified: 1000},
	{Name: "b.zip", Size: 200, Modified: 2000},
	{Name: "c.zip", Size: 300, Modified: 3000},
}

func TestRunBatchSuccess(t *testing.T) {
	env := newPipelineEnv(t, nil, nil)
	job := NewJob(testManifest)

	summary, events := runCollect(t, env, job, "/game", testManifest)

	require.Equal(t, 3, summary.Total)
	require.Equal(t, 3, summary.Downloaded)
	require.Zero(t, summary.Failed)
	require.Equal(t, []string{"a.zip", "b.zip", "c.zip"}, summary.DownloadedNames)
	require.Equal(t, []string{"a.zip", "b.zip", "c.zip"}, env.extractor.extracted)

	last := events[len(events)-1]
	require.Equal(t, EventBatchDone, last.Kind)
	require.NotNil(t, last.Summary)

	// New baseline matches the manifest.
	st := env.store.Load("/game")
	require.NotNil(t, st)
	require.Equal(t, testManifest, st.ServerFiles)
	require.Equal(t, 3, st.DownloadStats.SuccessfulDownloads)

	// Scratch folder is gone.
	exists, _ := afero.DirExists(env.fs, "/game/"+scratchDir)
	require.False(t, exists)
}

func TestProgressMonotonicity(t *testing.T) {
	env := newPipelineEnv(t, nil, nil)
	job := NewJob(testManifest)

	_, events := runCollect(t, env, job, "/game", testManifest)

	const eps = 1e-9 // float noise from the weight math is not a regression
	prev := -1.0
	for _, ev := range events {
		require.GreaterOrEqual(t, ev.OverallPercent+eps, prev,
			"progress went backwards at %v event for %s", ev.Kind, ev.File)
		if ev.OverallPercent > prev {
			prev = ev.OverallPercent
		}
	}
	require.Equal(t, 100.0, events[len(events)-1].OverallPercent)
}

func TestPartialFailureIsolation(t *testing.T) {
	env := newPipelineEnv(t, map[string]bool{"b.zip": true}, nil)
	job := NewJob(testManifest)

	summary, _ := runCollect(t, env, job, "/game", testManifest)

	require.Equal(t, 2, summary.Downloaded)
	require.Equal(t, []string{"b.zip"}, summary.FailedNames)
	require.Equal(t, []string{"a.zip", "c.zip"}, summary.DownloadedNames,
		"files after the failure are still attempted")

	// The failed file has no prior entry, so it is left out of the
	// baseline and the next diff selects it again.
	st := env.store.Load("/game")
	require.NotNil(t, st)
	_, ok := st.FileByName("b.zip")
	require.False(t, ok)
	require.Equal(t, 1, st.DownloadStats.FailedDownloads)
}

func TestFailedFileKeepsPriorEntry(t *testing.T) {
	env := newPipelineEnv(t, map[string]bool{"b.zip": true}, nil)

	prior := []patch.ServerFile{{Name: "b.zip", Size: 200, Modified: 500}}
	require.NoError(t, env.store.Save("/game", prior, patch.DownloadStats{}))

	job := NewJob(testManifest)
	_, _ = runCollect(t, env, job, "/game", testManifest)

	st := env.store.Load("/game")
	require.NotNil(t, st)
	got, ok := st.FileByName("b.zip")
	require.True(t, ok)
	require.EqualValues(t, 500, got.Modified,
		"failed file keeps its stale entry so the next diff retries it")
}

func TestExtractionFailureIsFileFailure(t *testing.T) {
	env := newPipelineEnv(t, nil, map[string]bool{"a.zip": true})
	job := NewJob(testManifest)

	summary, events := runCollect(t, env, job, "/game", testManifest)

	require.Equal(t, []string{"a.zip"}, summary.FailedNames)
	require.Equal(t, 2, summary.Downloaded)

	var sawFailure bool
	for _, ev := range events {
		if ev.Kind == EventFileDone && ev.File == "a.zip" {
			require.Error(t, ev.Err)
			sawFailure = true
		}
	}
	require.True(t, sawFailure)
}

func TestCancelledBatchPersistsNothing(t *testing.T) {
	env := newPipelineEnv(t, nil, nil)
	job := NewJob(testManifest)
	job.Cancel()

	summary, _ := runCollect(t, env, job, "/game", testManifest)

	require.Zero(t, summary.Downloaded)
	require.Nil(t, env.store.Load("/game"),
		"a cancelled batch must not be mistaken for a verified baseline")
}

func TestAllFailedPersistsNothing(t *testing.T) {
	env := newPipelineEnv(t, map[string]bool{"a.zip": true, "b.zip": true, "c.zip": true}, nil)
	job := NewJob(testManifest)

	summary, _ := runCollect(t, env, job, "/game", testManifest)

	require.Equal(t, 3, summary.Failed)
	require.Nil(t, env.store.Load("/game"))
}

func TestOverallPercent(t *testing.T) {
	require.InDelta(t, 0.0, overallPercent(0, 2, 0, downloadWeight, 0), 1e-9)
	require.InDelta(t, 30.0, overallPercent(0, 2, 0, downloadWeight, 100), 1e-9)
	require.InDelta(t, 30.0, overallPercent(0, 2, downloadWeight, extractWeight, 0), 1e-9)
	require.InDelta(t, 50.0, overallPercent(0, 2, downloadWeight, extractWeight, 100), 1e-9)
	require.InDelta(t, 50.0, overallPercent(1, 2, 0, downloadWeight, 0), 1e-9)
	require.InDelta(t, 100.0, overallPercent(2, 2, 0, 0, 0), 1e-9)
	require.InDelta(t, 100.0, overallPercent(0, 0, 0, 0, 0), 1e-9, "empty batch is complete")
}
