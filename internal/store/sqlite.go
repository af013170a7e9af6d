package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        user_id TEXT PRIMARY KEY,
        username TEXT UNIQUE NOT NULL,
        email TEXT UNIQUE NOT NULL,
        first_name TEXT NOT NULL DEFAULT '',
        last_name TEXT NOT NULL DEFAULT ''
    );

    CREATE TABLE IF NOT EXISTS chats (
        chat_id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        last_updated INTEGER NOT NULL, -- unix nanoseconds
        version INTEGER NOT NULL DEFAULT 0
    );

    CREATE INDEX IF NOT EXISTS idx_chats_user_updated ON chats (user_id, last_updated DESC);

    CREATE TABLE IF NOT EXISTS messages (
        chat_id TEXT NOT NULL,
        seq INTEGER NOT NULL,
        text TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'bot')),
        timestamp INTEGER NOT NULL, -- unix nanoseconds
        PRIMARY KEY (chat_id, seq),
        FOREIGN KEY (chat_id) REFERENCES chats (chat_id)
    );
    `
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// User methods

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, username, email FROM users WHERE user_id = ? OR username = ? OR email = ?",
		user.UserID, user.Username, user.Email)
	if err != nil {
		return fmt.Errorf("failed to query existing users: %w", err)
	}
	var existing []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserID, &u.Username, &u.Email); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan user row: %w", err)
		}
		existing = append(existing, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate users: %w", err)
	}
	if field := collidingField(user, existing); field != "" {
		return &DuplicateFieldError{Field: field}
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (user_id, username, email, first_name, last_name) VALUES (?, ?, ?, ?, ?)",
		user.UserID, user.Username, user.Email, user.FirstName, user.LastName)
	if err != nil {
		if dup := uniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, username, email, first_name, last_name FROM users WHERE user_id = ?", userID).
		Scan(&user.UserID, &user.Username, &user.Email, &user.FirstName, &user.LastName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// UpdateUser rewrites the mutable profile fields of an existing user. Email is never changed.
func (s *SQLiteStore) UpdateUser(ctx context.Context, user *User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin user update: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, "SELECT user_id FROM users WHERE username = ?", user.Username).Scan(&owner)
	switch {
	case err == nil && owner != user.UserID:
		return &DuplicateFieldError{Field: "username"}
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check username: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE users SET username = ?, first_name = ?, last_name = ? WHERE user_id = ?",
		user.Username, user.FirstName, user.LastName, user.UserID)
	if err != nil {
		if dup := uniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to execute user update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user update: %w", err)
	}
	return nil
}

// Chat thread methods

// CreateThread inserts a thread together with its initial messages. An empty ChatID is filled in.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	if thread.ChatID == "" {
		thread.ChatID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chat insert: %w", err)
	}
	defer tx.Rollback()

	if len(thread.Messages) > 0 {
		thread.Version = 1
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO chats (chat_id, user_id, last_updated, version) VALUES (?, ?, ?, ?)",
		thread.ChatID, thread.UserID, thread.LastUpdated.UnixNano(), thread.Version)
	if err != nil {
		return fmt.Errorf("failed to execute chat insert: %w", err)
	}
	if err := insertMessages(ctx, tx, thread.ChatID, 0, thread.Messages); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, chatID string) (*Thread, error) {
	var (
		thread  Thread
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT chat_id, user_id, last_updated, version FROM chats WHERE chat_id = ?", chatID).
		Scan(&thread.ChatID, &thread.UserID, &updated, &thread.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	thread.LastUpdated = fromNanos(updated)

	byChat, err := s.queryMessages(ctx,
		"SELECT chat_id, text, sender, timestamp FROM messages WHERE chat_id = ? ORDER BY seq ASC", chatID)
	if err != nil {
		return nil, err
	}
	thread.Messages = messagesOrEmpty(byChat[chatID])
	return &thread, nil
}

// ListThreads returns every thread owned by userID, most recently updated first.
func (s *SQLiteStore) ListThreads(ctx context.Context, userID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT chat_id, user_id, last_updated, version FROM chats WHERE user_id = ? ORDER BY last_updated DESC, rowid DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}

	threads := []Thread{}
	for rows.Next() {
		var (
			thread  Thread
			updated int64
		)
		if err := rows.Scan(&thread.ChatID, &thread.UserID, &updated, &thread.Version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		thread.LastUpdated = fromNanos(updated)
		threads = append(threads, thread)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}

	byChat, err := s.queryMessages(ctx, `
        SELECT m.chat_id, m.text, m.sender, m.timestamp
        FROM messages m JOIN chats c ON c.chat_id = m.chat_id
        WHERE c.user_id = ?
        ORDER BY m.chat_id, m.seq ASC
    `, userID)
	if err != nil {
		return nil, err
	}
	for i := range threads {
		threads[i].Messages = messagesOrEmpty(byChat[threads[i].ChatID])
	}
	return threads, nil
}

// AppendMessages pushes msgs to the end of a thread and bumps its version in one transaction.
// It returns the new version.
func (s *SQLiteStore) AppendMessages(ctx context.Context, chatID string, lastUpdated time.Time, msgs ...Message) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin message append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE chats SET version = version + 1, last_updated = ? WHERE chat_id = ?",
		lastUpdated.UnixNano(), chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to update chat: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return 0, ErrNotFound
	}

	var (
		lastSeq int64
		version int64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE((SELECT MAX(seq) FROM messages WHERE chat_id = ?), 0), (SELECT version FROM chats WHERE chat_id = ?)",
		chatID, chatID).Scan(&lastSeq, &version)
	if err != nil {
		return 0, fmt.Errorf("failed to read chat position: %w", err)
	}
	if err := insertMessages(ctx, tx, chatID, lastSeq, msgs); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit message append: %w", err)
	}
	return version, nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, chatID string, afterSeq int64, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (chat_id, seq, text, sender, timestamp) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range msgs {
		_, err := stmt.ExecContext(ctx, chatID, afterSeq+int64(i)+1, msg.Text, string(msg.Sender), msg.Timestamp.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to execute message insert: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) (map[string][]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	byChat := make(map[string][]Message)
	for rows.Next() {
		var (
			chatID, sender string
			ts             int64
			msg            Message
		)
		if err := rows.Scan(&chatID, &msg.Text, &sender, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Sender = Sender(sender)
		msg.Timestamp = fromNanos(ts)
		byChat[chatID] = append(byChat[chatID], msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return byChat, nil
}

// collidingField reports the first unique field of user that an existing record already holds,
// checked in the order userId, username, email.
func collidingField(user *User, existing []User) string {
	for _, field := range []string{"userId", "username", "email"} {
		for _, e := range existing {
			switch {
			case field == "userId" && e.UserID == user.UserID,
				field == "username" && e.Username == user.Username,
				field == "email" && e.Email == user.Email:
				return field
			}
		}
	}
	return ""
}

// uniqueViolation maps a SQLite uniqueness failure on the users table to a DuplicateFieldError.
func uniqueViolation(err error) *DuplicateFieldError {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return nil
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return nil
	}
	msg := sqliteErr.Error()
	switch {
	case strings.Contains(msg, "users.user_id"):
		return &DuplicateFieldError{Field: "userId"}
	case strings.Contains(msg, "users.username"):
		return &DuplicateFieldError{Field: "username"}
	case strings.Contains(msg, "users.email"):
		return &DuplicateFieldError{Field: "email"}
	}
	return nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func messagesOrEmpty(msgs []Message) []Message {
	if msgs == nil {
		return []Message{}
	}
	return msgs
}
