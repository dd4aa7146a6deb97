// Package workspace stores uploaded input spreadsheets and the outputs
// produced by routines. All names are resolved inside an os.Root, so a
// caller supplied name never escapes its directory.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/model"
)

// Upload describes a stored input file.
type Upload struct {
	Filename string `json:"filename"`
	Path     string `json:"server_path"`
}

type Workspace struct {
	uploads *os.Root
	outputs *os.Root
}

// Open creates the upload and output directories when missing and opens
// them. With CleanOnStart both are emptied.
func Open(ctx context.Context, cfg model.Workspace) (*Workspace, error) {
	uploads, err := openRoot(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	outputs, err := openRoot(cfg.OutputDir)
	if err != nil {
		_ = uploads.Close()
		return nil, fmt.Errorf("output dir: %w", err)
	}
	w := &Workspace{uploads: uploads, outputs: outputs}
	if cfg.CleanOnStart {
		if err := w.Clean(ctx); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	return w, nil
}

func openRoot(dir string) (*os.Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return os.OpenRoot(abs)
}

// SaveUpload stores r under a server generated name which keeps the base
// name of original for readability.
func (w *Workspace) SaveUpload(ctx context.Context, original string, r io.Reader) (Upload, error) {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	if base == "." || base == "/" {
		base = "upload.xlsx"
	}
	name := uuid.NewString() + "_" + base

	f, err := w.uploads.Create(name)
	if err != nil {
		return Upload{}, fmt.Errorf("creating upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = w.uploads.Remove(name)
		return Upload{}, fmt.Errorf("saving upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return Upload{}, fmt.Errorf("closing upload: %w", err)
	}
	slog.DebugContext(ctx, "upload saved", "filename", name)
	return Upload{Filename: name, Path: w.path(w.uploads, name)}, nil
}

// UploadPath returns the path of a stored upload or model.ErrNotFound.
func (w *Workspace) UploadPath(name string) (string, error) {
	if err := stat(w.uploads, name); err != nil {
		return "", err
	}
	return w.path(w.uploads, name), nil
}

// OutputPath returns where an output called name is written. The file may
// not exist yet.
func (w *Workspace) OutputPath(name string) (string, error) {
	if !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: output name %q", model.ErrInvalid, name)
	}
	return w.path(w.outputs, name), nil
}

// OutputExists reports whether a routine produced the named output.
func (w *Workspace) OutputExists(name string) bool {
	return stat(w.outputs, name) == nil
}

// RemoveOutput deletes the named output. A missing file is not an error.
func (w *Workspace) RemoveOutput(name string) error {
	if _, err := w.OutputPath(name); err != nil {
		return err
	}
	if err := w.outputs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing output: %w", err)
	}
	return nil
}

// OpenOutput opens a produced output for reading.
func (w *Workspace) OpenOutput(name string) (*os.File, error) {
	if err := stat(w.outputs, name); err != nil {
		return nil, err
	}
	f, err := w.outputs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening output: %w", err)
	}
	return f, nil
}

// Clean removes everything from both directories.
func (w *Workspace) Clean(ctx context.Context) error {
	var errs []error
	for _, root := range []*os.Root{w.uploads, w.outputs} {
		n, err := sweep(root, func(fs.FileInfo) bool { return true })
		errs = append(errs, err)
		slog.DebugContext(ctx, "workspace cleaned", "dir", root.Name(), "removed", n)
	}
	return errors.Join(errs...)
}

// Sweep removes files older than maxAge from both directories and returns
// how many were removed.
func (w *Workspace) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	deadline := time.Now().Add(-maxAge)
	old := func(info fs.FileInfo) bool {
		return info.ModTime().Before(deadline)
	}
	var total int
	var errs []error
	for _, root := range []*os.Root{w.uploads, w.outputs} {
		n, err := sweep(root, old)
		total += n
		errs = append(errs, err)
	}
	slog.DebugContext(ctx, "workspace swept", "removed", total, "max_age", maxAge)
	return total, errors.Join(errs...)
}

func (w *Workspace) Close() error {
	return errors.Join(w.uploads.Close(), w.outputs.Close())
}

func (w *Workspace) path(root *os.Root, name string) string {
	return filepath.Join(root.Name(), name)
}

func stat(root *os.Root, name string) error {
	if name == "" || !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %q", model.ErrNotFound, name)
	}
	info, err := root.Stat(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %q", model.ErrNotFound, name)
	case err != nil:
		return err
	case !info.Mode().IsRegular():
		return fmt.Errorf("%w: %q is not a file", model.ErrNotFound, name)
	}
	return nil
}

// sweep removes the top level entries of root matching remove.
func sweep(root *os.Root, remove func(fs.FileInfo) bool) (int, error) {
	entries, err := fs.ReadDir(root.FS(), ".")
	if err != nil {
		return 0, err
	}
	var n int
	var errs []error
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !remove(info) {
			continue
		}
		if err := root.RemoveAll(e.Name()); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
