package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"

	"studyhub/internal/presence"
	"studyhub/internal/stats"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle. It resolves users for presence and keeps the
// statistics record.
type Store struct {
	db *sql.DB
}

// ErrUserExists is returned when attempting to insert a duplicate user id or code.
var ErrUserExists = errors.New("user already exists")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "studyhub.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			user_code TEXT UNIQUE,
			role TEXT NOT NULL DEFAULT 'student',
			avatar TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS statistics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			total INTEGER NOT NULL DEFAULT 0,
			today_total INTEGER NOT NULL DEFAULT 0,
			today_date INTEGER NOT NULL,
			week INTEGER NOT NULL DEFAULT 0,
			month INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateUser inserts a user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, user presence.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user id is required")
	}
	role := user.Role
	if role == "" {
		role = "student"
	}
	var userCode interface{}
	if user.UserCode != "" {
		userCode = user.UserCode
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, name, email, user_code, role, avatar) VALUES(?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, userCode, role, user.Avatar)
	if err != nil {
		if isConstraintError(err) {
			return ErrUserExists
		}
		return err
	}
	return nil
}

// GetUserByID fetches a user by primary key; unknown ids return nil, nil.
func (s *Store) GetUserByID(ctx context.Context, id string) (*presence.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, email, COALESCE(user_code, ''), role, avatar FROM users WHERE id = ?`, id)
	var user presence.User
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.UserCode, &user.Role, &user.Avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// ReadStatistics returns the oldest statistics row, or nil when there is none.
func (s *Store) ReadStatistics(ctx context.Context) (*stats.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, total, today_total, today_date, week, month
		FROM statistics
		ORDER BY id ASC
		LIMIT 1
	`)
	rec, err := scanStatistics(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// CreateStatistics inserts rec and returns it with its assigned id.
func (s *Store) CreateStatistics(ctx context.Context, rec stats.Record) (stats.Record, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO statistics(total, today_total, today_date, week, month) VALUES(?, ?, ?, ?, ?)`,
		rec.Total, rec.Today.Total, rec.Today.Date.UnixMilli(), rec.Week, rec.Month)
	if err != nil {
		return stats.Record{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return stats.Record{}, err
	}
	rec.ID = strconv.FormatInt(id, 10)
	return rec, nil
}

// UpdateStatistics overwrites the row identified by rec.ID.
func (s *Store) UpdateStatistics(ctx context.Context, rec stats.Record) (stats.Record, error) {
	id, err := strconv.ParseInt(rec.ID, 10, 64)
	if err != nil {
		return stats.Record{}, stats.ErrNotFound
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE statistics
		SET total=?, today_total=?, today_date=?, week=?, month=?, updated_at=CURRENT_TIMESTAMP
		WHERE id=?
	`, rec.Total, rec.Today.Total, rec.Today.Date.UnixMilli(), rec.Week, rec.Month, id)
	if err != nil {
		return stats.Record{}, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return stats.Record{}, err
	}
	if rows == 0 {
		return stats.Record{}, stats.ErrNotFound
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStatistics(row rowScanner) (stats.Record, error) {
	var (
		rec    stats.Record
		id     int64
		dateMs int64
	)
	if err := row.Scan(&id, &rec.Total, &rec.Today.Total, &dateMs, &rec.Week, &rec.Month); err != nil {
		return stats.Record{}, err
	}
	rec.ID = strconv.FormatInt(id, 10)
	rec.Today.Date = time.UnixMilli(dateMs)
	return rec, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintCode
	}
	return false
}
