package workspace_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/model"
	"github.com/RajasekharPalleti/cropin-automation-techops/internal/workspace"
	"github.com/stretchr/testify/require"
)

func TestWorkspace(t *testing.T) {
	t.Parallel()
	w, cfg := open(t)

	up, err := w.SaveUpload(t.Context(), `C:\fakepath\farmers.xlsx`, strings.NewReader("xlsx bytes"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(up.Filename, "_farmers.xlsx"), up.Filename)
	require.Equal(t, filepath.Join(cfg.UploadDir, up.Filename), up.Path)

	path, err := w.UploadPath(up.Filename)
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "xlsx bytes", string(b))

	again, err := w.SaveUpload(t.Context(), "farmers.xlsx", strings.NewReader("other"))
	require.NoError(t, err)
	require.NotEqual(t, up.Filename, again.Filename)

	out, err := w.OutputPath("AddTagsWithNewAPI_Output.xlsx")
	require.NoError(t, err)
	require.False(t, w.OutputExists("AddTagsWithNewAPI_Output.xlsx"))
	require.NoError(t, os.WriteFile(out, []byte("result"), 0o644))
	require.True(t, w.OutputExists("AddTagsWithNewAPI_Output.xlsx"))

	f, err := w.OpenOutput("AddTagsWithNewAPI_Output.xlsx")
	require.NoError(t, err)
	b, err = io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "result", string(b))

	require.NoError(t, w.RemoveOutput("AddTagsWithNewAPI_Output.xlsx"))
	require.False(t, w.OutputExists("AddTagsWithNewAPI_Output.xlsx"))
	require.NoError(t, w.RemoveOutput("AddTagsWithNewAPI_Output.xlsx"))
	require.ErrorIs(t, w.RemoveOutput("../x.xlsx"), model.ErrInvalid)
}

func TestWorkspace_Confined(t *testing.T) {
	t.Parallel()
	w, cfg := open(t)
	secret := filepath.Join(filepath.Dir(cfg.OutputDir), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o644))

	for _, name := range []string{"", "../secret.txt", "/etc/passwd", "missing.xlsx", "."} {
		_, err := w.UploadPath(name)
		require.ErrorIs(t, err, model.ErrNotFound, name)
		_, err = w.OpenOutput(name)
		require.ErrorIs(t, err, model.ErrNotFound, name)
		require.False(t, w.OutputExists(name))
	}

	_, err := w.OutputPath("../escape.xlsx")
	require.ErrorIs(t, err, model.ErrInvalid)
	_, err = w.OutputPath("sub/escape.xlsx")
	require.ErrorIs(t, err, model.ErrInvalid)

	up, err := w.SaveUpload(t.Context(), "../../evil.xlsx", strings.NewReader("x"))
	require.NoError(t, err)
	require.Equal(t, cfg.UploadDir, filepath.Dir(up.Path))
}

func TestWorkspace_CleanAndSweep(t *testing.T) {
	t.Parallel()
	w, cfg := open(t)

	fresh, err := w.SaveUpload(t.Context(), "fresh.xlsx", strings.NewReader("x"))
	require.NoError(t, err)
	stale, err := w.SaveUpload(t.Context(), "stale.xlsx", strings.NewReader("x"))
	require.NoError(t, err)
	staleOut := filepath.Join(cfg.OutputDir, "Old_Output.xlsx")
	require.NoError(t, os.WriteFile(staleOut, []byte("x"), 0o644))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Path, past, past))
	require.NoError(t, os.Chtimes(staleOut, past, past))

	n, err := w.Sweep(t.Context(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, err = w.UploadPath(fresh.Filename)
	require.NoError(t, err)
	_, err = w.UploadPath(stale.Filename)
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, w.Clean(t.Context()))
	_, err = w.UploadPath(fresh.Filename)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestOpen_CleanOnStart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := model.Workspace{
		UploadDir:    filepath.Join(dir, "uploads"),
		OutputDir:    filepath.Join(dir, "outputs"),
		CleanOnStart: true,
	}
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0o755))
	leftover := filepath.Join(cfg.OutputDir, "leftover.xlsx")
	require.NoError(t, os.WriteFile(leftover, []byte("x"), 0o644))

	w, err := workspace.Open(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	_, err = os.Stat(leftover)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(cfg.UploadDir)
	require.NoError(t, err)
}

func TestJanitor(t *testing.T) {
	t.Parallel()
	w, _ := open(t)

	t.Run("disabled", func(t *testing.T) {
		j, err := workspace.NewJanitor(t.Context(), w, model.Sweep{})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		require.NoError(t, j.Do(ctx))
	})

	t.Run("scheduled", func(t *testing.T) {
		j, err := workspace.NewJanitor(t.Context(), w, model.Sweep{Cron: "@hourly", MaxAge: time.Hour})
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()
		require.NoError(t, j.Do(ctx))
	})

	t.Run("bad cron", func(t *testing.T) {
		_, err := workspace.NewJanitor(t.Context(), w, model.Sweep{Cron: "every tuesday"})
		require.Error(t, err)
	})
}

func open(t *testing.T) (*workspace.Workspace, model.Workspace) {
	t.Helper()
	dir := t.TempDir()
	cfg := model.Workspace{
		UploadDir: filepath.Join(dir, "uploads"),
		OutputDir: filepath.Join(dir, "outputs"),
	}
	w, err := workspace.Open(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, w.Close()) })
	return w, cfg
}
