// Package store persists sessions, scored segments and rendered clips in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/instasplit/instasplit-agent/internal/segment"
)

type Repository interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSessionOptions(ctx context.Context, id string, opts segment.SplitOptions) (int, error)
	UpdateSessionStatus(ctx context.Context, id, status string) error
	DeleteSession(ctx context.Context, id string) error

	InsertSegment(ctx context.Context, sessionID string, seg segment.Segment) error
	GetSegment(ctx context.Context, sessionID string, index int) (*segment.Segment, error)
	ListSegments(ctx context.Context, sessionID string, order segment.SortOrder) ([]segment.Segment, error)
	CountSegments(ctx context.Context, sessionID string) (int, error)
	DeleteSegments(ctx context.Context, sessionID string) error

	CreateClip(ctx context.Context, clip *RenderedClip) error
	FindClip(ctx context.Context, sessionID string, generation, index int, aspect segment.AspectRatio) (*RenderedClip, error)
	GetClip(ctx context.Context, handle string) (*RenderedClip, error)
	DeleteClips(ctx context.Context, sessionID string) ([]*RenderedClip, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s *Session) error {
	if s.Generation == 0 {
		s.Generation = 1
	}
	if s.Status == "" {
		s.Status = StatusIdle
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, source_path, duration, width, height, fps, has_audio,
			segment_duration, overlap, min_score, aspect_ratio, generation, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Source.Path, s.Source.Duration, s.Source.Width, s.Source.Height, s.Source.FPS, boolToInt(s.Source.HasAudio),
		s.Options.SegmentDuration, s.Options.Overlap, s.Options.MinScore, string(s.Options.AspectRatio),
		s.Generation, s.Status, s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, source_path, duration, width, height, fps, has_audio,
			segment_duration, overlap, min_score, aspect_ratio, generation, status, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)

	var s Session
	var hasAudio int
	var aspect, createdAt, updatedAt string
	err := row.Scan(&s.ID, &s.Source.Path, &s.Source.Duration, &s.Source.Width, &s.Source.Height, &s.Source.FPS, &hasAudio,
		&s.Options.SegmentDuration, &s.Options.Overlap, &s.Options.MinScore, &aspect, &s.Generation, &s.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Source.HasAudio = hasAudio == 1
	s.Options.AspectRatio = segment.AspectRatio(aspect)
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

// UpdateSessionOptions stores new options and returns the bumped generation.
func (r *SQLiteRepository) UpdateSessionOptions(ctx context.Context, id string, opts segment.SplitOptions) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET segment_duration = ?, overlap = ?, min_score = ?, aspect_ratio = ?,
			generation = generation + 1, updated_at = ?
		WHERE id = ?
	`, opts.SegmentDuration, opts.Overlap, opts.MinScore, string(opts.AspectRatio), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("session %s not found", id)
	}

	var gen int
	if err := r.db.QueryRowContext(ctx, "SELECT generation FROM sessions WHERE id = ?", id).Scan(&gen); err != nil {
		return 0, err
	}
	return gen, nil
}

func (r *SQLiteRepository) UpdateSessionStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) InsertSegment(ctx context.Context, sessionID string, seg segment.Segment) error {
	tags, err := json.Marshal(seg.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO segments (session_id, idx, start_time, end_time, title, description, score,
			explanation, tags, thumbnail, source_is_landscape, degraded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, seg.Index, seg.Start, seg.End, seg.Title, seg.Description, seg.Score,
		seg.Explanation, string(tags), seg.Thumbnail, boolToInt(seg.SourceIsLandscape), boolToInt(seg.Degraded),
		time.Now().UTC().Format(time.RFC3339))
	return err
}

const segmentColumns = `idx, start_time, end_time, title, description, score, explanation, tags, thumbnail, source_is_landscape, degraded`

type scanner interface {
	Scan(dest ...any) error
}

func scanSegment(row scanner) (*segment.Segment, error) {
	var seg segment.Segment
	var tags string
	var landscape, degraded int
	err := row.Scan(&seg.Index, &seg.Start, &seg.End, &seg.Title, &seg.Description, &seg.Score,
		&seg.Explanation, &tags, &seg.Thumbnail, &landscape, &degraded)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &seg.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of segment %d: %w", seg.Index, err)
	}
	seg.SourceIsLandscape = landscape == 1
	seg.Degraded = degraded == 1
	return &seg, nil
}

func (r *SQLiteRepository) GetSegment(ctx context.Context, sessionID string, index int) (*segment.Segment, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+segmentColumns+" FROM segments WHERE session_id = ? AND idx = ?", sessionID, index)
	seg, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return seg, err
}

func (r *SQLiteRepository) ListSegments(ctx context.Context, sessionID string, order segment.SortOrder) ([]segment.Segment, error) {
	orderBy := "start_time ASC, idx ASC"
	if order == segment.SortByScore {
		orderBy = "score DESC, idx ASC"
	}
	rows, err := r.db.QueryContext(ctx, "SELECT "+segmentColumns+" FROM segments WHERE session_id = ? ORDER BY "+orderBy, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	segs := []segment.Segment{}
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segs = append(segs, *seg)
	}
	return segs, rows.Err()
}

func (r *SQLiteRepository) CountSegments(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM segments WHERE session_id = ?", sessionID).Scan(&count)
	return count, err
}

func (r *SQLiteRepository) DeleteSegments(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM segments WHERE session_id = ?", sessionID)
	return err
}

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *RenderedClip) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rendered_clips (handle, session_id, generation, segment_idx, aspect_ratio, path, mime_type, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, generation, segment_idx, aspect_ratio) DO UPDATE SET
			handle = excluded.handle, path = excluded.path, mime_type = excluded.mime_type,
			size = excluded.size, created_at = excluded.created_at
	`, c.Handle, c.SessionID, c.Generation, c.SegmentIndex, string(c.Aspect), c.Path, c.MIMEType, c.Size, c.CreatedAt.Format(time.RFC3339))
	return err
}

const clipColumns = `handle, session_id, generation, segment_idx, aspect_ratio, path, mime_type, size, created_at`

func scanClip(row scanner) (*RenderedClip, error) {
	var c RenderedClip
	var aspect, createdAt string
	if err := row.Scan(&c.Handle, &c.SessionID, &c.Generation, &c.SegmentIndex, &aspect, &c.Path, &c.MIMEType, &c.Size, &createdAt); err != nil {
		return nil, err
	}
	c.Aspect = segment.AspectRatio(aspect)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func (r *SQLiteRepository) FindClip(ctx context.Context, sessionID string, generation, index int, aspect segment.AspectRatio) (*RenderedClip, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+clipColumns+` FROM rendered_clips
		WHERE session_id = ? AND generation = ? AND segment_idx = ? AND aspect_ratio = ?`,
		sessionID, generation, index, string(aspect))
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, handle string) (*RenderedClip, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+clipColumns+" FROM rendered_clips WHERE handle = ?", handle)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// DeleteClips removes a session's clip rows and returns them so the caller
// can remove the files.
func (r *SQLiteRepository) DeleteClips(ctx context.Context, sessionID string) ([]*RenderedClip, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+clipColumns+" FROM rendered_clips WHERE session_id = ?", sessionID)
	if err != nil {
		return nil, err
	}
	var clips []*RenderedClip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		clips = append(clips, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := r.db.ExecContext(ctx, "DELETE FROM rendered_clips WHERE session_id = ?", sessionID); err != nil {
		return nil, err
	}
	return clips, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
