package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &PostgresDB{pool: pool}
	if err := db.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	logger.Info("Connected to database successfully")
	return db, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			avatar_url TEXT,
			intent TEXT NOT NULL DEFAULT 'offline',
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			participants TEXT[] NOT NULL DEFAULT '{}',
			windows_open JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			avatar_url TEXT,
			text_body TEXT NOT NULL DEFAULT '',
			file_url TEXT,
			file_name TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_created_idx
			ON messages (conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS chat_requests (
			id TEXT PRIMARY KEY,
			from_id TEXT NOT NULL,
			from_name TEXT NOT NULL,
			from_avatar TEXT,
			to_id TEXT NOT NULL,
			to_name TEXT NOT NULL,
			to_avatar TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			responded_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			to_id TEXT NOT NULL,
			from_id TEXT NOT NULL,
			from_name TEXT NOT NULL,
			type TEXT NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// User Repository Implementation
func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, avatar_url, intent, last_seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	_, err := db.pool.Exec(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash, user.AvatarURL, user.Intent)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, avatar_url, intent, last_seen, created_at
		FROM users WHERE email = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.AvatarURL, &user.Intent, &user.LastSeen, &user.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, avatar_url, intent, last_seen, created_at
		FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.AvatarURL, &user.Intent, &user.LastSeen, &user.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	return user, nil
}

func (db *PostgresDB) UpdateProfile(ctx context.Context, id, username string, avatarURL *string) error {
	query := `UPDATE users SET username = $2, avatar_url = $3 WHERE id = $1`
	tag, err := db.pool.Exec(ctx, query, id, username, avatarURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) UpdatePresence(ctx context.Context, id string, intent models.Presence, lastSeen time.Time) error {
	query := `UPDATE users SET intent = $2, last_seen = $3 WHERE id = $1`
	tag, err := db.pool.Exec(ctx, query, id, intent, lastSeen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) ListUsers(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, avatar_url, intent, last_seen, created_at
		FROM users ORDER BY username`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(
			&user.ID, &user.Username, &user.Email, &user.PasswordHash,
			&user.AvatarURL, &user.Intent, &user.LastSeen, &user.CreatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// Conversation Repository Implementation
func (db *PostgresDB) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	windows, err := json.Marshal(conv.WindowsOpen)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (id, kind, participants, windows_open, created_at, last_activity)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING`

	_, err = db.pool.Exec(ctx, query, conv.ID, conv.Kind, conv.Participants, windows)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (db *PostgresDB) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
		SELECT id, kind, participants, windows_open, created_at, last_activity
		FROM conversations WHERE id = $1`

	conv := &models.Conversation{}
	var windows []byte
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.Kind, &conv.Participants, &windows, &conv.CreatedAt, &conv.LastActivity,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if err := json.Unmarshal(windows, &conv.WindowsOpen); err != nil {
		return nil, err
	}

	return conv, nil
}

func (db *PostgresDB) SetWindowOpen(ctx context.Context, convID, userID string, open bool) error {
	query := `
		UPDATE conversations
		SET windows_open = jsonb_set(windows_open, ARRAY[$2::text], to_jsonb($3::boolean), true)
		WHERE id = $1`

	tag, err := db.pool.Exec(ctx, query, convID, userID, open)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Message Repository Implementation
func (db *PostgresDB) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock the conversation row so concurrent appends serialize and the
	// assigned timestamps stay strictly increasing.
	var last time.Time
	err = tx.QueryRow(ctx,
		`SELECT last_activity FROM conversations WHERE id = $1 FOR UPDATE`,
		msg.ConversationID,
	).Scan(&last)
	if err != nil {
		return nil, mapNoRows(err)
	}

	createdAt := time.Now().UTC()
	if !createdAt.After(last) {
		createdAt = last.Add(time.Microsecond)
	}

	var fileURL, fileName *string
	if msg.File != nil {
		fileURL, fileName = &msg.File.URL, &msg.File.Filename
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, avatar_url, text_body, file_url, file_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderName, msg.AvatarURL,
		msg.Text, fileURL, fileName, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE conversations SET last_activity = $2 WHERE id = $1`,
		msg.ConversationID, createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	stamped := *msg
	stamped.CreatedAt = createdAt
	return &stamped, nil
}

func (db *PostgresDB) ListMessages(ctx context.Context, convID string) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, avatar_url, text_body, file_url, file_name, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var fileURL, fileName *string
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName,
			&msg.AvatarURL, &msg.Text, &fileURL, &fileName, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		if fileURL != nil && fileName != nil {
			msg.File = &models.FileRef{URL: *fileURL, Filename: *fileName}
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// Request Repository Implementation
func (db *PostgresDB) CreateRequest(ctx context.Context, req *models.ChatRequest) error {
	query := `
		INSERT INTO chat_requests (id, from_id, from_name, from_avatar, to_id, to_name, to_avatar, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`

	_, err := db.pool.Exec(ctx, query,
		req.ID, req.FromID, req.FromName, req.FromAvatar,
		req.ToID, req.ToName, req.ToAvatar, req.Status)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (db *PostgresDB) GetRequest(ctx context.Context, id string) (*models.ChatRequest, error) {
	query := `
		SELECT id, from_id, from_name, from_avatar, to_id, to_name, to_avatar, status, created_at, responded_at
		FROM chat_requests WHERE id = $1`

	req := &models.ChatRequest{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.FromID, &req.FromName, &req.FromAvatar,
		&req.ToID, &req.ToName, &req.ToAvatar, &req.Status, &req.CreatedAt, &req.RespondedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	return req, nil
}

func (db *PostgresDB) ResolveRequest(ctx context.Context, id string, status models.RequestStatus, respondedAt time.Time) (*models.ChatRequest, error) {
	// Compare-and-set on the status column: the loser of a concurrent
	// respond race matches zero rows.
	query := `
		UPDATE chat_requests SET status = $2, responded_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING id, from_id, from_name, from_avatar, to_id, to_name, to_avatar, status, created_at, responded_at`

	req := &models.ChatRequest{}
	err := db.pool.QueryRow(ctx, query, id, status, respondedAt).Scan(
		&req.ID, &req.FromID, &req.FromName, &req.FromAvatar,
		&req.ToID, &req.ToName, &req.ToAvatar, &req.Status, &req.CreatedAt, &req.RespondedAt,
	)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Zero rows: either gone or already out of pending.
	if _, getErr := db.GetRequest(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, models.ErrAlreadyResolved
}

func (db *PostgresDB) DeleteRequest(ctx context.Context, id string) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM chat_requests WHERE id = $1`, id)
	return err
}

func (db *PostgresDB) ListPendingRequests(ctx context.Context, toID string) ([]*models.ChatRequest, error) {
	query := `
		SELECT id, from_id, from_name, from_avatar, to_id, to_name, to_avatar, status, created_at, responded_at
		FROM chat_requests
		WHERE to_id = $1 AND status = 'pending'
		ORDER BY created_at`
	return db.listRequests(ctx, query, toID)
}

func (db *PostgresDB) ListResolvedRequests(ctx context.Context, fromID string) ([]*models.ChatRequest, error) {
	query := `
		SELECT id, from_id, from_name, from_avatar, to_id, to_name, to_avatar, status, created_at, responded_at
		FROM chat_requests
		WHERE from_id = $1 AND status <> 'pending'
		ORDER BY created_at`
	return db.listRequests(ctx, query, fromID)
}

func (db *PostgresDB) listRequests(ctx context.Context, query, userID string) ([]*models.ChatRequest, error) {
	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*models.ChatRequest
	for rows.Next() {
		req := &models.ChatRequest{}
		if err := rows.Scan(
			&req.ID, &req.FromID, &req.FromName, &req.FromAvatar,
			&req.ToID, &req.ToName, &req.ToAvatar, &req.Status, &req.CreatedAt, &req.RespondedAt,
		); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

// Notification Repository Implementation
func (db *PostgresDB) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, to_id, from_id, from_name, type, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err := db.pool.Exec(ctx, query, n.ID, n.ToID, n.FromID, n.FromName, n.Type, n.Read)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (db *PostgresDB) MarkNotificationRead(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) ListUnreadNotifications(ctx context.Context, toID string) ([]*models.Notification, error) {
	query := `
		SELECT id, to_id, from_id, from_name, type, read, created_at
		FROM notifications
		WHERE to_id = $1 AND read = FALSE
		ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query, toID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		if err := rows.Scan(&n.ID, &n.ToID, &n.FromID, &n.FromName, &n.Type, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}
