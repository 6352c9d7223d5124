package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatline/gateway/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			creator_id INTEGER NOT NULL,
			recipient_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_message_id INTEGER,
			UNIQUE (creator_id, recipient_id),
			FOREIGN KEY (creator_id) REFERENCES users(id),
			FOREIGN KEY (recipient_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			author_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (author_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a user and sets its id.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (first_name, last_name, email) VALUES (?, ?, ?)`,
		user.FirstName, user.LastName, user.Email)
	if err != nil {
		return err
	}
	user.ID, err = res.LastInsertId()
	return err
}

// FindUserByID retrieves a user by id.
func (s *SQLiteStore) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.findUser(ctx, `SELECT id, first_name, last_name, email FROM users WHERE id = ?`, id)
}

// FindUserByEmail retrieves a user by email.
func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, `SELECT id, first_name, last_name, email FROM users WHERE email = ?`, email)
}

func (s *SQLiteStore) findUser(ctx context.Context, query string, arg interface{}) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateConversation inserts a conversation and returns it with both participants loaded.
func (s *SQLiteStore) CreateConversation(ctx context.Context, creatorID, recipientID int64) (*domain.Conversation, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (creator_id, recipient_id, created_at) VALUES (?, ?, ?)`,
		creatorID, recipientID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, id)
}

const conversationColumns = `c.id, c.created_at, c.last_message_id,
	cu.id, cu.first_name, cu.last_name, cu.email,
	ru.id, ru.first_name, ru.last_name, ru.email
	FROM conversations c
	JOIN users cu ON cu.id = c.creator_id
	JOIN users ru ON ru.id = c.recipient_id`

// GetConversation retrieves a conversation with creator and recipient.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` WHERE c.id = ?`, id))
}

// FindConversationBetween retrieves the conversation of two users in either direction.
func (s *SQLiteStore) FindConversationBetween(ctx context.Context, userA, userB int64) (*domain.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+`
		WHERE (c.creator_id = ? AND c.recipient_id = ?) OR (c.creator_id = ? AND c.recipient_id = ?)
		ORDER BY c.id LIMIT 1`,
		userA, userB, userB, userA))
}

// ListConversations returns the conversations userID takes part in, most
// recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+`
		LEFT JOIN messages lm ON lm.id = c.last_message_id
		WHERE c.creator_id = ? OR c.recipient_id = ?
		ORDER BY COALESCE(lm.created_at, c.created_at) DESC, c.id DESC`,
		userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []domain.Conversation{}
	for rows.Next() {
		c, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *c)
	}
	return conversations, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanConversation(row rowScanner) (*domain.Conversation, error) {
	var c domain.Conversation
	var last sql.NullInt64
	err := row.Scan(&c.ID, &c.CreatedAt, &last,
		&c.Creator.ID, &c.Creator.FirstName, &c.Creator.LastName, &c.Creator.Email,
		&c.Recipient.ID, &c.Recipient.FirstName, &c.Recipient.LastName, &c.Recipient.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if last.Valid {
		c.LastMessageSent = &last.Int64
	}
	return &c, nil
}

// AppendMessage inserts a message and makes it the conversation's last
// message in one transaction; on error neither write is kept. A zero
// CreatedAt is set to now.
func (s *SQLiteStore) AppendMessage(ctx context.Context, message *domain.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, author_id, content, created_at) VALUES (?, ?, ?, ?)`,
		message.ConversationID, message.Author.ID, message.Content, message.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_id = ? WHERE id = ?`, id, message.ConversationID)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	message.ID = id
	return nil
}

const messageColumns = `m.id, m.conversation_id, m.content, m.created_at,
	u.id, u.first_name, u.last_name, u.email
	FROM messages m
	JOIN users u ON u.id = m.author_id`

// GetMessage retrieves a message with its author.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*domain.Message, error) {
	var m domain.Message
	err := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` WHERE m.id = ?`, id).
		Scan(&m.ID, &m.ConversationID, &m.Content, &m.CreatedAt,
			&m.Author.ID, &m.Author.FirstName, &m.Author.LastName, &m.Author.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessages retrieves messages of a conversation, newest first. A positive
// before returns only messages with a smaller id.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID int64, limit int, before int64) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` WHERE m.conversation_id = ?`
	args := []interface{}{conversationID}

	if before > 0 {
		query += ` AND m.id < ?`
		args = append(args, before)
	}

	query += ` ORDER BY m.created_at DESC, m.id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.CreatedAt,
			&m.Author.ID, &m.Author.FirstName, &m.Author.LastName, &m.Author.Email); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpdateMessageContent replaces the content of a message.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id int64, content string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
