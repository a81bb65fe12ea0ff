package server_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terraonline/launcher/internal/patch"
	"github.com/terraonline/launcher/internal/server"
	mocks "github.com/terraonline/launcher/testing"
)

func TestGetToken(t *testing.T) {
	mock := mocks.NewMockPatchServer(t)
	c := server.NewClient(mock.URL, nil, zap.NewNop())

	tok, err := c.GetToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "test-token", tok.Value)
	require.False(t, tok.ExpiresAt.IsZero())
}

func TestGetTokenRefused(t *testing.T) {
	mock := mocks.NewMockPatchServer(t)
	mock.TokenSuccess = false
	c := server.NewClient(mock.URL, nil, zap.NewNop())

	_, err := c.GetToken(context.Background())
	require.Error(t, err)
	require.True(t, server.AuthError.Has(err))
	require.Contains(t, err.Error(), "maintenance")

	// No partial token was retained.
	_, err = c.DownloadURL("a.zip")
	require.Error(t, err)
}

func TestGetTokenHTTPError(t *testing.T) {
	mock := mocks.NewMockPatchServer(t)
	mock.TokenStatus = 500
	c := server.NewClient(mock.URL, nil, zap.NewNop())

	_, err := c.GetToken(context.Background())
	require.True(t, server.AuthError.Has(err))
}

func TestEnsureFreshTokenCaches(t *testing.T) {
	mock := mocks.NewMockPatchServer(t)
	c := server.NewClient(mock.URL, nil, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.EnsureFreshToken(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 1, mock.CountAction(""), "fresh token must be reused")
}

func TestEnsureFreshTokenRenewsNearExpiry(t *testing.T) {
	mock := mocks.NewMockPatchServer(t)
	mock.ExpiresIn = 60 // inside the five minute renewal buffer
	c := server.NewClient(mock.URL, nil, zap.NewNop())

	ctx := context.Background()
	_, err := c.EnsureFreshToken(ctx)
	require.NoError(t, err)
	_, err = c.EnsureFreshToken(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, mock.CountAction(""))
}

func TestListFiles(t *testing.T) {
	mock := mocks.NewMockPatchServer(t)
	mock.Files = []patch.ServerFile{
		{Name: "a.zip", Size: 100, Modified: 1000},
		{Name: "b.zip", Size: 200, Modified: 2000},
	}
	c := server.NewClient(mock.URL, nil, zap.NewNop())

	files := c.ListFiles(context.Background())
	require.Equal(t, mock.Files, files)
	require.Equal(t, "test-token", mock.Requests[len(mock.Requests)-1].Token)
}

func TestListFilesEmptyOnFailure(t *testing.T) {
	t.Run("refused", func(t *testing.T) {
		mock := mocks.NewMockPatchServer(t)
		mock.ListSuccess = false
		c := server.NewClient(mock.URL, nil, zap.NewNop())
		require.Empty(t, c.ListFiles(context.Background()))
	})

	t.Run("http error", func(t *testing.T) {
		mock := mocks.NewMockPatchServer(t)
		mock.ActionStatus = 500
		c := server.NewClient(mock.URL, nil, zap.NewNop())
		require.Empty(t, c.ListFiles(context.Background()))
	})
}

func TestGetRepairCandidates(t *testing.T) {
	mock := mocks.NewMockPatchServer(t)
	mock.RepairFiles = []patch.ServerFile{{Name: "broken.zip", Size: 50}}
	c := server.NewClient(mock.URL, nil, zap.NewNop())

	got := c.GetRepairCandidates(context.Background())
	require.Equal(t, mock.RepairFiles, got)
}

func TestDownloadURL(t *testing.T) {
	mock := mocks.NewMockPatchServer(t)
	c := server.NewClient(mock.URL, nil, zap.NewNop())

	_, err := c.DownloadURL("a.zip")
	require.Error(t, err, "no token held yet")

	_, err = c.EnsureFreshToken(context.Background())
	require.NoError(t, err)

	url, err := c.DownloadURL("patch a.zip")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, mock.URL))
	require.Contains(t, url, "action=download")
	require.Contains(t, url, "token=test-token")
	require.Contains(t, url, "file=patch+a.zip")
}
