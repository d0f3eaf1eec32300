package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"chatpresence/internal/authz"
	"chatpresence/internal/msgcache"
	"chatpresence/internal/storage"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables the store needs. It is safe to run on every boot.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type pgStore struct {
	db *sql.DB
}

var _ storage.Storage = (*pgStore)(nil)

func New(db *sql.DB) storage.Storage {
	return &pgStore{db: db}
}

func (s *pgStore) SetUserOnlineStatus(ctx context.Context, userID string, online bool) error {
	const q = `UPDATE users SET is_online = $2, last_seen_at = now() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, userID, online)
	return err
}

// Rooms and guest users exist only in memory until their first write, so
// JoinRoom and room messages create the rows they reference.
const (
	ensureRoom  = `INSERT INTO rooms (id, name) VALUES ($1, $1) ON CONFLICT DO NOTHING`
	ensureGuest = `INSERT INTO users (id, display_name, role) VALUES ($1, $1, 'guest')
	               ON CONFLICT DO NOTHING`
)

func (s *pgStore) JoinRoom(ctx context.Context, userID, roomID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ensureRoom, roomID); err != nil {
		return fmt.Errorf("ensure room %s: %w", roomID, err)
	}
	if _, err := tx.ExecContext(ctx, ensureGuest, userID); err != nil {
		return fmt.Errorf("ensure user %s: %w", userID, err)
	}
	const q = `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)
	           ON CONFLICT DO NOTHING`
	if _, err := tx.ExecContext(ctx, q, roomID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgStore) LeaveRoom(ctx context.Context, userID, roomID string) error {
	const q = `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`
	_, err := s.db.ExecContext(ctx, q, roomID, userID)
	return err
}

func (s *pgStore) PersistMessage(ctx context.Context, m msgcache.Message) error {
	const q = `
	  INSERT INTO messages (id, room_id, sender_id, receiver_id, content, kind, created_at)
	       VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, $6, $7)
	  ON CONFLICT (id) DO NOTHING`
	args := []any{m.ID, m.RoomID, m.SenderID, m.ReceiverID, m.Content, m.Kind, m.CreatedAt.UTC()}
	if m.RoomID == "" {
		_, err := s.db.ExecContext(ctx, q, args...)
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, ensureRoom, m.RoomID); err != nil {
		return fmt.Errorf("ensure room %s: %w", m.RoomID, err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgStore) UpdateMessage(ctx context.Context, id, content string, editedAt time.Time) error {
	const q = `UPDATE messages SET content = $2, edited_at = $3
	            WHERE id = $1 AND deleted_at IS NULL`
	res, err := s.db.ExecContext(ctx, q, id, content, editedAt.UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// DeleteMessage soft-deletes; deleting twice is not an error.
func (s *pgStore) DeleteMessage(ctx context.Context, id string) error {
	const q = `UPDATE messages SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *pgStore) GetUser(ctx context.Context, userID string) (storage.User, error) {
	const q = `SELECT id, display_name, role, muted, is_online, last_seen_at
	             FROM users WHERE id = $1`
	var (
		u        storage.User
		role     string
		lastSeen sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, q, userID).
		Scan(&u.ID, &u.DisplayName, &role, &u.Muted, &u.IsOnline, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
		}
		return storage.User{}, err
	}
	u.Role = authz.ParseRole(role)
	if lastSeen.Valid {
		u.LastSeenAt = lastSeen.Time
	}
	return u, nil
}

func (s *pgStore) GetUserRole(ctx context.Context, userID string) (authz.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.Guest, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
		}
		return authz.Guest, err
	}
	return authz.ParseRole(role), nil
}

func (s *pgStore) GetRoom(ctx context.Context, roomID string) (storage.Room, error) {
	const q = `SELECT id, name, is_broadcast, coalesce(host_id, '')
	             FROM rooms WHERE id = $1`
	var r storage.Room
	err := s.db.QueryRowContext(ctx, q, roomID).Scan(&r.ID, &r.Name, &r.IsBroadcast, &r.HostID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Room{}, fmt.Errorf("room %s: %w", roomID, storage.ErrNotFound)
		}
		return storage.Room{}, err
	}
	return r, nil
}

// TouchLastSeen writes every user's last-seen time in one transaction. Users
// are written in id order and a stored time is never moved backwards.
func (s *pgStore) TouchLastSeen(ctx context.Context, seen map[string]time.Time) error {
	if len(seen) == 0 {
		return nil
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upd = `UPDATE users SET last_seen_at = GREATEST(coalesce(last_seen_at, $2), $2)
	              WHERE id = $1`
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, upd, id, seen[id].UTC()); err != nil {
			return fmt.Errorf("touch %s: %w", id, err)
		}
	}
	return tx.Commit()
}
