package repair_test

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
	"github.com/terraonline/launcher/internal/repair"
	"github.com/terraonline/launcher/internal/server"
	"github.com/terraonline/launcher/internal/state"
	mocks "github.com/terraonline/launcher/testing"
)

type fakeDownloader struct {
	fs         afero.Fs
	downloaded []string
	failOn     map[string]bool
}

func (d *fakeDownloader) Download(_ context.Context, rawURL, targetPath string, onProgress func(int64, int64, int)) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	name := u.Query().Get("file")
	d.downloaded = append(d.downloaded, name)
	if d.failOn[name] {
		return errs.New("connection reset")
	}
	if onProgress != nil {
		onProgress(50, 100, 50)
		onProgress(100, 100, 100)
	}
	return afero.WriteFile(d.fs, targetPath, []byte("archive:"+name), 0644)
}

// fakeExtractor simulates extraction by writing the target file with the
// requested size instead of unpacking anything.
type fakeExtractor struct {
	fs        afero.Fs
	sizes     map[string]int
	extracted []string
	failOn    map[string]bool
}

func (e *fakeExtractor) Extract(_ context.Context, archivePath, destDir string, onProgress func(int)) error {
	name := filepath.Base(archivePath)
	if e.failOn[name] {
		return errs.New("corrupt archive")
	}
	e.extracted = append(e.extracted, name)

	target := filepath.Join(destDir, outputName(name))
	if err := afero.WriteFile(e.fs, target, make([]byte, e.sizes[name]), 0644); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// outputName maps an archive to the file it "extracts". Identity keeps
// the tests simple: the server's repair entries name the final files.
func outputName(archive string) string { return archive }

type repairEnv struct {
	mock       *mocks.MockPatchServer
	fs         afero.Fs
	store      *state.Store
	downloader *fakeDownloader
	extractor  *fakeExtractor
	controller *repair.Controller
}

func newRepairEnv(t *testing.T) *repairEnv {
	t.Helper()

	mock := mocks.NewMockPatchServer(t)
	fs := afero.NewMemMapFs()
	log := zap.NewNop()
	client := server.NewClient(mock.URL, nil, log)
	store := state.NewStore(fs, "/data", log)
	downloader := &fakeDownloader{fs: fs, failOn: map[string]bool{}}
	extractor := &fakeExtractor{fs: fs, sizes: map[string]int{}, failOn: map[string]bool{}}

	return &repairEnv{
		mock:       mock,
		fs:         fs,
		store:      store,
		downloader: downloader,
		extractor:  extractor,
		controller: repair.NewController(fs, client, store, extractor, downloader, log),
	}
}

func TestNothingToRepair(t *testing.T) {
	env := newRepairEnv(t)

	result, err := env.controller.Run(context.Background(), "/game", nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Zero(t, result.RepairedCount)
	require.Empty(t, env.downloader.downloaded, "no downloads when nothing needs repair")
}

func TestRepairSuccess(t *testing.T) {
	env := newRepairEnv(t)
	env.mock.RepairFiles = []patch.ServerFile{
		{Name: "a.zip", Size: 100},
		{Name: "b.zip", Size: 200},
	}
	env.extractor.sizes = map[string]int{"a.zip": 100, "b.zip": 200}

	var lastPercent float64
	result, err := env.controller.Run(context.Background(), "/game", func(percent float64, _ string) {
		require.GreaterOrEqual(t, percent, lastPercent)
		lastPercent = percent
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 2, result.RepairedCount)
	require.Equal(t, []string{"a.zip", "b.zip"}, env.extractor.extracted)
	require.Empty(t, result.Report.Mismatched)

	// Scratch folder and its archives are gone.
	exists, _ := afero.DirExists(env.fs, "/game/temp_repair")
	require.False(t, exists)
}

func TestRepairAbortsOnFirstFailure(t *testing.T) {
	env := newRepairEnv(t)
	env.mock.RepairFiles = []patch.ServerFile{
		{Name: "a.zip", Size: 100},
		{Name: "b.zip", Size: 200},
		{Name: "c.zip", Size: 300},
	}
	env.extractor.sizes = map[string]int{"a.zip": 100}
	env.downloader.failOn["b.zip"] = true

	_, err := env.controller.Run(context.Background(), "/game", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "b.zip", "the error names the failing file")
	require.Equal(t, []string{"a.zip", "b.zip"}, env.downloader.downloaded,
		"files after the failure are not attempted")
	require.Equal(t, []string{"a.zip"}, env.extractor.extracted)
}

func TestVerificationReportsMismatches(t *testing.T) {
	env := newRepairEnv(t)
	env.mock.RepairFiles = []patch.ServerFile{
		{Name: "short.zip", Size: 100},
		{Name: "sum.zip", Size: 10, Checksum: "0000000000000000000000000000000000000000"},
	}
	// short.zip extracts undersized; sum.zip has the right size but a
	// content hash that cannot match the bogus server checksum.
	env.extractor.sizes = map[string]int{"short.zip": 10, "sum.zip": 10}

	result, err := env.controller.Run(context.Background(), "/game", nil)
	require.NoError(t, err, "verification mismatches do not fail the repair")
	require.True(t, result.Success)
	require.Equal(t, 2, result.Report.Checked)
	require.Len(t, result.Report.Mismatched, 2)
}

func TestVerificationUsesChecksumEndpoint(t *testing.T) {
	env := newRepairEnv(t)
	// The repair list has no inline checksum; the checksum endpoint
	// supplies one that cannot match the extracted content.
	env.mock.RepairFiles = []patch.ServerFile{{Name: "a.zip", Size: 10}}
	env.mock.Checksums = []patch.Checksum{{Name: "a.zip", Checksum: "ffffffffffffffffffffffffffffffff"}}
	env.extractor.sizes = map[string]int{"a.zip": 10}

	result, err := env.controller.Run(context.Background(), "/game", nil)
	require.NoError(t, err)
	require.Len(t, result.Report.Mismatched, 1)
	require.Equal(t, "checksum mismatch", result.Report.Mismatched[0].Reason)
}

func TestRepairTouchesVerificationTime(t *testing.T) {
	env := newRepairEnv(t)
	require.NoError(t, env.store.Save("/game",
		[]patch.ServerFile{{Name: "a.zip", Size: 100}}, patch.DownloadStats{}))
	before := env.store.Load("/game").LastVerification

	env.mock.RepairFiles = []patch.ServerFile{{Name: "a.zip", Size: 100}}
	env.extractor.sizes = map[string]int{"a.zip": 100}

	_, err := env.controller.Run(context.Background(), "/game", nil)
	require.NoError(t, err)

	after := env.store.Load("/game").LastVerification
	require.GreaterOrEqual(t, after, before)
}
