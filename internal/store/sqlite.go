package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/instaastro/liveconsult/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. modernc expects
	// pragmas in _pragma=name(value) form; they apply to every pool
	// connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS consultations (
		id TEXT PRIMARY KEY,
		seeker_id TEXT NOT NULL,
		astrologer_id TEXT NOT NULL,
		rate_paise_per_min INTEGER NOT NULL,
		status TEXT NOT NULL,
		timer_active INTEGER NOT NULL DEFAULT 0,
		spent_paise INTEGER NOT NULL DEFAULT 0,
		balance_snapshot_paise INTEGER NOT NULL DEFAULT 0,
		last_message_id INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		ended_at INTEGER,
		end_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_consultations_seeker ON consultations(seeker_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_consultations_astrologer ON consultations(astrologer_id, created_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		consultation_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (consultation_id, id)
	);

	CREATE TABLE IF NOT EXISTS astrologer_rates (
		astrologer_id TEXT PRIMARY KEY,
		rate_paise_per_min INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for collaborators sharing the pool.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// CreateConsultation inserts a new consultation record.
func (s *SQLiteStore) CreateConsultation(ctx context.Context, c *domain.Consultation) error {
	query := `
	INSERT INTO consultations (
		id, seeker_id, astrologer_id, rate_paise_per_min, status, timer_active,
		spent_paise, balance_snapshot_paise, last_message_id, created_at, started_at, ended_at, end_reason
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.SeekerID, c.AstrologerID, c.RatePaisePerMin, string(c.Status), boolToInt(c.TimerActive),
		c.SpentPaise, c.BalanceSnapshot, c.LastMessageID, c.CreatedAt.Unix(),
		nullTime(c.StartedAt), nullTime(c.EndedAt), nullString(string(c.EndReason)),
	)
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

const consultationColumns = `
	id, seeker_id, astrologer_id, rate_paise_per_min, status, timer_active,
	spent_paise, balance_snapshot_paise, last_message_id, created_at, started_at, ended_at, end_reason`

// GetConsultation retrieves a consultation by id.
func (s *SQLiteStore) GetConsultation(ctx context.Context, id string) (*domain.Consultation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+consultationColumns+` FROM consultations WHERE id = ?`, id)

	c, err := scanConsultation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consultation row: %w", err)
	}
	return c, nil
}

// ListConsultationsByUser returns the user's consultations, newest first.
func (s *SQLiteStore) ListConsultationsByUser(ctx context.Context, userID string) ([]*domain.Consultation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+consultationColumns+` FROM consultations
		 WHERE seeker_id = ? OR astrologer_id = ? ORDER BY created_at DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query consultations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close consultation rows", "error", closeErr)
		}
	}()

	var out []*domain.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan consultation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consultations: %w", err)
	}
	return out, nil
}

func scanConsultation(scan func(dest ...any) error) (*domain.Consultation, error) {
	var c domain.Consultation
	var status string
	var timerActive int
	var createdAt int64
	var startedAt, endedAt sql.NullInt64
	var endReason sql.NullString

	err := scan(
		&c.ID, &c.SeekerID, &c.AstrologerID, &c.RatePaisePerMin, &status, &timerActive,
		&c.SpentPaise, &c.BalanceSnapshot, &c.LastMessageID, &createdAt, &startedAt, &endedAt, &endReason,
	)
	if err != nil {
		return nil, err
	}

	c.Status = domain.Status(status)
	c.TimerActive = timerActive != 0
	c.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		c.StartedAt = &t
	}
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		c.EndedAt = &t
	}
	c.EndReason = domain.EndReason(endReason.String)
	return &c, nil
}

// UpdateConsultationState persists the mutable session fields.
func (s *SQLiteStore) UpdateConsultationState(ctx context.Context, c *domain.Consultation) error {
	query := `
	UPDATE consultations SET
		status = ?, timer_active = ?, spent_paise = ?, balance_snapshot_paise = ?,
		last_message_id = ?, started_at = ?, ended_at = ?, end_reason = ?
	WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(c.Status), boolToInt(c.TimerActive), c.SpentPaise, c.BalanceSnapshot,
		c.LastMessageID, nullTime(c.StartedAt), nullTime(c.EndedAt), nullString(string(c.EndReason)),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("update consultation state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateBillingProgress persists running billing totals for a live session.
func (s *SQLiteStore) UpdateBillingProgress(ctx context.Context, id string, spentPaise, balancePaise, lastMessageID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE consultations SET spent_paise = ?, balance_snapshot_paise = ?, last_message_id = ? WHERE id = ?`,
		spentPaise, balancePaise, lastMessageID, id)
	if err != nil {
		return fmt.Errorf("update billing progress: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage persists a chat message with its owner-assigned id.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (consultation_id, id, sender_id, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.ConsultationID, m.ID, m.SenderID, m.Content, m.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// ListMessages returns the consultation's messages ordered by id.
func (s *SQLiteStore) ListMessages(ctx context.Context, consultationID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT consultation_id, id, sender_id, content, timestamp
		 FROM chat_messages WHERE consultation_id = ? ORDER BY id ASC`, consultationID)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []*domain.Message
	for rows.Next() {
		var m domain.Message
		var ts int64
		if err := rows.Scan(&m.ConsultationID, &m.ID, &m.SenderID, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// GetAstrologerRate returns the published per-minute rate in paise.
func (s *SQLiteStore) GetAstrologerRate(ctx context.Context, astrologerID string) (int64, error) {
	var rate int64
	err := s.db.QueryRowContext(ctx,
		`SELECT rate_paise_per_min FROM astrologer_rates WHERE astrologer_id = ?`, astrologerID).Scan(&rate)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query astrologer rate: %w", err)
	}
	return rate, nil
}

// SetAstrologerRate publishes the astrologer's per-minute rate.
func (s *SQLiteStore) SetAstrologerRate(ctx context.Context, astrologerID string, ratePaisePerMin int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO astrologer_rates (astrologer_id, rate_paise_per_min, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(astrologer_id) DO UPDATE SET
			rate_paise_per_min = excluded.rate_paise_per_min,
			updated_at = excluded.updated_at`,
		astrologerID, ratePaisePerMin, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set astrologer rate: %w", err)
	}
	return nil
}

// CloseOrphanedSessions force-ends live sessions from a previous process.
func (s *SQLiteStore) CloseOrphanedSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE consultations SET status = ?, timer_active = 0, ended_at = ?, end_reason = ?
		 WHERE status IN (?, ?)`,
		string(domain.StatusEnded), time.Now().Unix(), string(domain.EndReasonInternalError),
		string(domain.StatusActive), string(domain.StatusPaused))
	if err != nil {
		return 0, fmt.Errorf("close orphaned sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
