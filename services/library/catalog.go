// Package library takes ownership of finished recordings: it moves them out of
// the temp directory and indexes them in a sqlite catalog.
package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stable-action/models"
)

type Catalog struct {
	conn *sql.DB
}

// Open opens (or creates) the catalog at path.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// sqlite serialises writers anyway
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}
	c := &Catalog{conn: conn}
	if err := c.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return c, nil
}

func (c *Catalog) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS recordings (
		id            TEXT PRIMARY KEY,
		path          TEXT NOT NULL,
		created_at    DATETIME NOT NULL,
		width         INTEGER NOT NULL,
		height        INTEGER NOT NULL,
		video_frames  INTEGER NOT NULL,
		audio_samples INTEGER NOT NULL,
		dropped_video INTEGER NOT NULL,
		dropped_audio INTEGER NOT NULL,
		origin_ns     INTEGER NOT NULL,
		duration_ns   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at);
	`
	_, err := c.conn.Exec(query)
	return err
}

// Save inserts or replaces one recording row.
func (c *Catalog) Save(ctx context.Context, r models.Recording) error {
	query := `
	INSERT OR REPLACE INTO recordings
		(id, path, created_at, width, height, video_frames, audio_samples,
		 dropped_video, dropped_audio, origin_ns, duration_ns)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.conn.ExecContext(ctx, query,
		r.ID, r.Path, r.CreatedAt.UTC(), r.Width, r.Height,
		int64(r.VideoFrames), int64(r.AudioSamples),
		int64(r.DroppedVideo), int64(r.DroppedAudio),
		int64(r.Origin), int64(r.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to save recording %s: %w", r.ID, err)
	}
	return nil
}

// List returns the newest recordings first. limit <= 0 means all.
func (c *Catalog) List(ctx context.Context, limit int) ([]models.Recording, error) {
	query := `
	SELECT id, path, created_at, width, height, video_frames, audio_samples,
	       dropped_video, dropped_audio, origin_ns, duration_ns
	FROM recordings
	ORDER BY created_at DESC, id
	LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var out []models.Recording
	for rows.Next() {
		var (
			r                    models.Recording
			created              time.Time
			frames, audio        int64
			dropV, dropA         int64
			originNs, durationNs int64
		)
		if err := rows.Scan(&r.ID, &r.Path, &created, &r.Width, &r.Height,
			&frames, &audio, &dropV, &dropA, &originNs, &durationNs); err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		r.CreatedAt = created
		r.VideoFrames, r.AudioSamples = uint64(frames), uint64(audio)
		r.DroppedVideo, r.DroppedAudio = uint64(dropV), uint64(dropA)
		r.Origin, r.Duration = time.Duration(originNs), time.Duration(durationNs)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *Catalog) Close() error {
	return c.conn.Close()
}
