package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/scout-dashboard/backend/internal/storage/models"
	"github.com/scout-dashboard/backend/pkg/logger"
)

const DefaultHistoryLimit = 20

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nlq_history (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		user_id TEXT,
		query_text TEXT NOT NULL,
		answer TEXT NOT NULL,
		source TEXT NOT NULL,
		confidence REAL NOT NULL,
		tokens_used INTEGER DEFAULT 0,
		latency_ms INTEGER NOT NULL,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nlq_history_user ON nlq_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_nlq_history_created ON nlq_history(created_at);
	CREATE INDEX IF NOT EXISTS idx_nlq_history_source ON nlq_history(source);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	query := `
		INSERT INTO nlq_history (id, request_id, user_id, query_text, answer, source, confidence,
			tokens_used, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx,
		query,
		record.ID,
		record.RequestID,
		nullable(record.UserID),
		record.QueryText,
		record.Answer,
		string(record.Source),
		record.Confidence,
		record.TokensUsed,
		record.LatencyMS,
		nullable(record.Error),
		record.CreatedAt.UnixMilli(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("source", string(record.Source)),
		zap.Float64("confidence", record.Confidence),
	)

	return nil
}

// GetQueryHistory returns the newest records for a user, newest first.
func (c *Client) GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
		SELECT id, request_id, user_id, query_text, answer, source, confidence,
			tokens_used, latency_ms, error, created_at
		FROM nlq_history
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	records := []models.QueryRecord{}
	for rows.Next() {
		var r models.QueryRecord
		var user, errText sql.NullString
		var source string
		var createdAt int64

		err := rows.Scan(&r.ID, &r.RequestID, &user, &r.QueryText, &r.Answer, &source,
			&r.Confidence, &r.TokensUsed, &r.LatencyMS, &errText, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.UserID = user.String
		r.Error = errText.String
		r.Source = models.Source(source)
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read query history: %w", err)
	}

	return records, nil
}

// SourceCounts tallies recorded answers by the layer that produced them.
func (c *Client) SourceCounts(ctx context.Context, since time.Time) (map[models.Source]int, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM nlq_history WHERE created_at >= ? GROUP BY source`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Source]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[models.Source(source)] = n
	}
	return counts, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
