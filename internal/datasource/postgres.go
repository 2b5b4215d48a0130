package datasource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/scout-dashboard/backend/internal/metrics"
	"github.com/scout-dashboard/backend/internal/storage/models"
)

const defaultQueryTimeout = 10 * time.Second

// PostgresSource serves view reads from a pgx connection pool.
type PostgresSource struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	sink    metrics.Sink
	logger  *zap.Logger
}

func NewPostgresSource(ctx context.Context, databaseURL string, sink metrics.Sink, logger *zap.Logger) (*PostgresSource, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	cfg.ConnConfig.RuntimeParams["statement_timeout"] = "15000"
	cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if sink == nil {
		sink = metrics.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Postgres data source initialized", zap.Int32("max_conns", cfg.MaxConns))

	return &PostgresSource{pool: pool, timeout: defaultQueryTimeout, sink: sink, logger: logger}, nil
}

func (s *PostgresSource) Select(ctx context.Context, view, columns string, opts SelectOptions) ([]models.Row, error) {
	query, args, err := BuildSelect(view, columns, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stop := metrics.StartTimer(s.sink, metrics.DBQueryMS)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", view, err)
	}

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	elapsed := stop()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", view, err)
	}

	s.logger.Debug("View selected",
		zap.String("view", view),
		zap.Int("rows", len(maps)),
		zap.Int64("duration_ms", elapsed),
	)

	result := make([]models.Row, len(maps))
	for i, m := range maps {
		result[i] = models.Row(m)
	}
	return result, nil
}

func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresSource) Close() {
	s.pool.Close()
}

// BuildSelect renders the read-only statement for a whitelisted view.
func BuildSelect(view, columns string, opts SelectOptions) (string, []any, error) {
	if !IsAllowedView(view) {
		return "", nil, fmt.Errorf("%w: %s", ErrViewNotAllowed, view)
	}

	cols, err := ParseColumns(columns)
	if err != nil {
		return "", nil, err
	}

	projection := "*"
	if len(cols) > 0 {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = pgx.Identifier{c}.Sanitize()
		}
		projection = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(projection)
	b.WriteString(" FROM ")
	b.WriteString(pgx.Identifier{view}.Sanitize())

	if opts.OrderBy != nil {
		if !identifierPattern.MatchString(opts.OrderBy.Column) {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, opts.OrderBy.Column)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(pgx.Identifier{opts.OrderBy.Column}.Sanitize())
		if opts.OrderBy.Descending {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}

	var args []any
	if opts.Limit > 0 {
		b.WriteString(" LIMIT $1")
		args = append(args, opts.Limit)
	}

	return b.String(), args, nil
}
