package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore is the persistence layer of the development backend.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT,
        archived BOOLEAN DEFAULT FALSE,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT, -- server-assigned ordering
        id TEXT UNIQUE NOT NULL, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
        content TEXT NOT NULL,
        files_json TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );

    CREATE TABLE IF NOT EXISTS files (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        content BLOB NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByUsername(username string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, username, password_hash, created_at FROM users WHERE username = ?", username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(username, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (username, password_hash) VALUES (?, ?)", username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(id)
}

func (s *SQLiteStore) getUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, username, password_hash, created_at FROM users WHERE id = ?", id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Conversation methods
func (s *SQLiteStore) CreateConversation(userID int64, title *string) (*Conversation, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.Exec("INSERT INTO conversations (id, user_id, title, archived, created_at) VALUES (?, ?, ?, FALSE, ?)", id, userID, title, now)
	if err != nil {
		return nil, fmt.Errorf("failed to execute conversation insert: %w", err)
	}
	archived := false
	return &Conversation{ID: id, Title: title, Archived: &archived, CreatedAt: now}, nil
}

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var conv Conversation
	var title sql.NullString
	var archived bool
	if err := row.Scan(&conv.ID, &title, &archived, &conv.CreatedAt); err != nil {
		return nil, err
	}
	if title.Valid {
		conv.Title = &title.String
	}
	conv.Archived = &archived
	return &conv, nil
}

func (s *SQLiteStore) GetConversation(id string, userID int64) (*Conversation, error) {
	row := s.db.QueryRow("SELECT id, title, archived, created_at FROM conversations WHERE id = ? AND user_id = ?", id, userID)
	conv, err := scanConversation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) ListConversations(userID int64) ([]Conversation, error) {
	rows, err := s.db.Query("SELECT id, title, archived, created_at FROM conversations WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, *conv)
	}
	return conversations, rows.Err()
}

// UpdateConversation applies the non-nil fields and returns the updated row,
// or nil when the conversation does not belong to the user.
func (s *SQLiteStore) UpdateConversation(id string, userID int64, title *string, archived *bool) (*Conversation, error) {
	if title != nil {
		if _, err := s.db.Exec("UPDATE conversations SET title = ? WHERE id = ? AND user_id = ?", *title, id, userID); err != nil {
			return nil, fmt.Errorf("failed to update conversation title: %w", err)
		}
	}
	if archived != nil {
		if _, err := s.db.Exec("UPDATE conversations SET archived = ? WHERE id = ? AND user_id = ?", *archived, id, userID); err != nil {
			return nil, fmt.Errorf("failed to update conversation archived flag: %w", err)
		}
	}
	return s.GetConversation(id, userID)
}

func (s *SQLiteStore) DeleteConversation(id string, userID int64) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM conversations WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return false, fmt.Errorf("failed to delete conversation messages: %w", err)
	}
	return true, tx.Commit()
}

// Message methods
func (s *SQLiteStore) CreateMessage(msg *Message) error {
	msg.ID = uuid.NewString() // Ensure ID is set
	msg.CreatedAt = time.Now().UTC()

	filesJSON, err := json.Marshal(msg.Files)
	if err != nil {
		return fmt.Errorf("failed to marshal message files: %w", err)
	}

	_, err = s.db.Exec("INSERT INTO messages (id, conversation_id, role, content, files_json, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, msg.Role, msg.Content, string(filesJSON), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var msg Message
	var filesJSON sql.NullString
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &filesJSON, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if filesJSON.Valid && filesJSON.String != "" && filesJSON.String != "null" {
		if err := json.Unmarshal([]byte(filesJSON.String), &msg.Files); err != nil {
			log.Printf("Warning: failed to unmarshal files for message %s: %v", msg.ID, err)
			msg.Files = nil
		}
	}
	return &msg, nil
}

func (s *SQLiteStore) ListMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query("SELECT id, conversation_id, role, content, files_json, created_at FROM messages WHERE conversation_id = ? ORDER BY seq ASC", conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) GetMessage(conversationID, id string) (*Message, error) {
	row := s.db.QueryRow("SELECT id, conversation_id, role, content, files_json, created_at FROM messages WHERE conversation_id = ? AND id = ?", conversationID, id)
	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// EditMessage replaces the content of a message and deletes every later
// message of the conversation, since they answered the old content.
func (s *SQLiteStore) EditMessage(conversationID, id, content string) (*Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow("SELECT seq FROM messages WHERE conversation_id = ? AND id = ?", conversationID, id).Scan(&seq)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to locate message: %w", err)
	}
	if _, err := tx.Exec("UPDATE messages SET content = ? WHERE seq = ?", content, seq); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ? AND seq > ?", conversationID, seq); err != nil {
		return nil, fmt.Errorf("failed to truncate messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message edit: %w", err)
	}
	return s.GetMessage(conversationID, id)
}

func (s *SQLiteStore) DeleteMessage(conversationID, id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM messages WHERE conversation_id = ? AND id = ?", conversationID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// File methods
func (s *SQLiteStore) CreateFile(userID int64, name string, content []byte) (*File, error) {
	id := uuid.NewString()
	_, err := s.db.Exec("INSERT INTO files (id, user_id, name, content) VALUES (?, ?, ?, ?)", id, userID, name, content)
	if err != nil {
		return nil, fmt.Errorf("failed to insert file: %w", err)
	}
	return &File{ID: id, Name: name}, nil
}

// GetFileContent returns the file name and bytes; ok is false when absent.
func (s *SQLiteStore) GetFileContent(id string) (name string, content []byte, ok bool, err error) {
	err = s.db.QueryRow("SELECT name, content FROM files WHERE id = ?", id).Scan(&name, &content)
	if err == sql.ErrNoRows {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to get file: %w", err)
	}
	return name, content, true, nil
}

func (s *SQLiteStore) DeleteFile(id string, userID int64) (bool, error) {
	res, err := s.db.Exec("DELETE FROM files WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete file: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}
