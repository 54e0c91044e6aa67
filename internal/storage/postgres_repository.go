package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamvault/internal/models"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
	now  func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// schema exists.
func NewPostgresRepository(cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &postgresRepository{
		pool: pool,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}
	if err := repo.ensureSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

const videosSchema = `
CREATE TABLE IF NOT EXISTS videos (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	status TEXT NOT NULL,
	original_file TEXT NOT NULL,
	thumbnail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS videos_status_created_at_idx
	ON videos (status, created_at DESC);
`

func (r *postgresRepository) ensureSchema() error {
	ctx, cancel := r.operationContext()
	defer cancel()
	if _, err := r.pool.Exec(ctx, videosSchema); err != nil {
		return fmt.Errorf("ensure videos schema: %w", err)
	}
	return nil
}

func (r *postgresRepository) operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.operationTimeout())
}

const videoColumns = "id, title, description, category, status, original_file, thumbnail, created_at, updated_at"

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID,
		&video.Title,
		&video.Description,
		&video.Category,
		&video.Status,
		&video.OriginalFile,
		&video.Thumbnail,
		&video.CreatedAt,
		&video.UpdatedAt,
	)
	return video, err
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	if !params.Category.Valid() {
		return models.Video{}, fmt.Errorf("%w: %q", ErrInvalidCategory, params.Category)
	}
	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}
	now := r.now()
	ctx, cancel := r.operationContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO videos (`+videoColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+videoColumns,
		id, params.Title, params.Description, params.Category,
		models.StatusPending, params.OriginalFile, "", now,
	)
	video, err := scanVideo(row)
	if err != nil {
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.operationContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	video, err := scanVideo(row)
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRepository) ListVideos(status models.VideoStatus) []models.Video {
	ctx, cancel := r.operationContext()
	defer cancel()
	query := `SELECT ` + videoColumns + ` FROM videos ORDER BY created_at DESC, id DESC`
	args := []any{}
	if status != "" {
		query = `SELECT ` + videoColumns + ` FROM videos WHERE status = $1 ORDER BY created_at DESC, id DESC`
		args = append(args, status)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil
		}
		videos = append(videos, video)
	}
	if rows.Err() != nil {
		return nil
	}
	return videos
}

func (r *postgresRepository) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	ctx, cancel := r.operationContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		UPDATE videos SET
			title = COALESCE($2::text, title),
			description = COALESCE($3::text, description),
			updated_at = $4
		WHERE id = $1
		RETURNING `+videoColumns,
		id, update.Title, update.Description, r.now(),
	)
	video, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, ErrNotFound
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("update video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) TransitionVideo(id string, next models.VideoStatus) (models.Video, error) {
	if !next.Valid() {
		return models.Video{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	from := transitionSources(next)
	ctx, cancel := r.operationContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		UPDATE videos SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+videoColumns,
		id, next, r.now(), from,
	)
	video, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, r.transitionFailure(id, next)
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("transition video: %w", err)
	}
	return video, nil
}

// transitionSources returns the statuses from which next is reachable.
func transitionSources(next models.VideoStatus) []string {
	var from []string
	for _, status := range []models.VideoStatus{
		models.StatusPending,
		models.StatusProcessing,
		models.StatusReady,
		models.StatusError,
	} {
		if status.CanTransitionTo(next) {
			from = append(from, string(status))
		}
	}
	return from
}

func (r *postgresRepository) transitionFailure(id string, next models.VideoStatus) error {
	video, ok := r.GetVideo(id)
	if !ok {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, video.Status, next)
}

func (r *postgresRepository) RequeueVideo(id string) (models.Video, error) {
	ctx, cancel := r.operationContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		UPDATE videos SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($2, $4)
		RETURNING `+videoColumns,
		id, models.StatusPending, r.now(), models.StatusProcessing,
	)
	video, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, r.transitionFailure(id, models.StatusPending)
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("requeue video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) SetVideoArtifacts(id, originalFile, thumbnail string) (models.Video, error) {
	ctx, cancel := r.operationContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		UPDATE videos SET original_file = $2, thumbnail = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+videoColumns,
		id, originalFile, thumbnail, r.now(),
	)
	video, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, ErrNotFound
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("set video artifacts: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

var _ Repository = (*postgresRepository)(nil)
