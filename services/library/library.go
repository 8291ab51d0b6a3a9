package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"stable-action/models"
	"stable-action/utils"
)

// Library is the persistence collaborator for finished recordings.
type Library struct {
	baseDir string
	catalog *Catalog // nil: files are moved but not indexed
}

func New(baseDir string, catalog *Catalog) *Library {
	return &Library{baseDir: baseDir, catalog: catalog}
}

// Persist moves the recording and its pose sidecar into the library directory
// and records it in the catalog.
func (l *Library) Persist(ctx context.Context, rec models.Recording) error {
	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return fmt.Errorf("create library dir: %w", err)
	}

	dst := filepath.Join(l.baseDir, filepath.Base(rec.Path))
	if err := moveFile(rec.Path, dst); err != nil {
		return fmt.Errorf("move recording: %w", err)
	}

	sidecar := models.TelemetryPathFor(rec.Path)
	if _, err := os.Stat(sidecar); err == nil {
		if err := moveFile(sidecar, models.TelemetryPathFor(dst)); err != nil {
			utils.L().Warn("library: move telemetry %s: %v", sidecar, err)
		}
	}
	rec.Path = dst

	if l.catalog != nil {
		if err := l.catalog.Save(ctx, rec); err != nil {
			return err
		}
	}
	utils.L().Info("library: saved %s", dst)
	return nil
}

// List returns the newest catalog entries.
func (l *Library) List(ctx context.Context, limit int) ([]models.Recording, error) {
	if l.catalog == nil {
		return nil, nil
	}
	return l.catalog.List(ctx, limit)
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
