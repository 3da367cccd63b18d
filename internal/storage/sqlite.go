package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"site_tracker/internal/model"
	"site_tracker/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// OpenSQLite opens the database file at path like NewSQLite. A file that is not a
// SQLite database, or is corrupt, is moved aside with a ".corrupt" suffix and a
// fresh database is created in its place.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	s, err := NewSQLite(path)
	if err == nil || !isCorrupt(err) {
		return s, err
	}

	logger.Error("open store, starting empty", "path", path, "error", err)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		name := path + suffix
		if err := os.Rename(name, name+".corrupt"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("move corrupt store aside: %w", err)
		}
	}
	return NewSQLite(path)
}

func isCorrupt(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
		return true
	}
	return false
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// Load returns every subscriber with its tracked pages, ordered by insertion.
func (s *SQLite) Load(ctx context.Context) (model.Snapshot, error) {
	snap, err := s.queryPages(ctx, `1 = 1`)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		if _, ok := snap[id]; !ok {
			snap[id] = []model.TrackedPage{}
		}
	}
	return snap, rows.Err()
}

// Save replaces all subscriptions with snap in one transaction.
func (s *SQLite) Save(ctx context.Context, snap model.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("save", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"resources", "pages", "subscribers"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return persistErr("save", fmt.Errorf("clear %s: %w", table, err))
		}
	}

	ts := now()
	for _, sub := range snap.Subscribers() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscribers (id, created_at) VALUES (?, ?)`, sub.ID, ts,
		); err != nil {
			return persistErr("save", fmt.Errorf("insert subscriber: %w", err))
		}
		for _, p := range sub.Pages {
			if err := insertPage(ctx, tx, sub.ID, p, ts); err != nil {
				return persistErr("save", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("save", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// AddPage stores a new tracked page with its initial baseline.
func (s *SQLite) AddPage(ctx context.Context, subscriberID int64, page model.TrackedPage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("add page", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pages WHERE subscriber_id = ? AND url = ?`, subscriberID, page.URL,
	).Scan(&count); err != nil {
		return persistErr("add page", fmt.Errorf("check page: %w", err))
	}
	if count > 0 {
		return ErrAlreadyTracked
	}

	ts := now()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscribers (id, created_at) VALUES (?, ?)`, subscriberID, ts,
	); err != nil {
		return persistErr("add page", fmt.Errorf("insert subscriber: %w", err))
	}
	if err := insertPage(ctx, tx, subscriberID, page, ts); err != nil {
		return persistErr("add page", err)
	}

	if err := tx.Commit(); err != nil {
		return persistErr("add page", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// RemovePage deletes a tracked page and its resources. The subscriber remains.
func (s *SQLite) RemovePage(ctx context.Context, subscriberID int64, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("remove page", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	id, err := pageID(ctx, tx, subscriberID, url)
	if err != nil {
		return persistErr("remove page", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE page_id = ?`, id); err != nil {
		return persistErr("remove page", fmt.Errorf("delete resources: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id); err != nil {
		return persistErr("remove page", fmt.Errorf("delete page: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return persistErr("remove page", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// GetPage returns one tracked page of a subscriber.
func (s *SQLite) GetPage(ctx context.Context, subscriberID int64, url string) (*model.TrackedPage, error) {
	snap, err := s.queryPages(ctx, `p.subscriber_id = ? AND p.url = ?`, subscriberID, url)
	if err != nil {
		return nil, err
	}
	pages := snap[subscriberID]
	if len(pages) == 0 {
		return nil, ErrNotTracked
	}
	return &pages[0], nil
}

// ListPages returns the tracked pages of a subscriber in the order they were added.
func (s *SQLite) ListPages(ctx context.Context, subscriberID int64) ([]model.TrackedPage, error) {
	snap, err := s.queryPages(ctx, `p.subscriber_id = ?`, subscriberID)
	if err != nil {
		return nil, err
	}
	return snap[subscriberID], nil
}

// RecordDelivery replaces the hash and resources of a tracked page.
func (s *SQLite) RecordDelivery(ctx context.Context, subscriberID int64, url, hash string, resources []model.Resource) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("record delivery", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	id, err := pageID(ctx, tx, subscriberID, url)
	if err != nil {
		return persistErr("record delivery", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE pages SET hash = ?, updated_at = ? WHERE id = ?`, hash, now(), id,
	); err != nil {
		return persistErr("record delivery", fmt.Errorf("update page: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE page_id = ?`, id); err != nil {
		return persistErr("record delivery", fmt.Errorf("delete resources: %w", err))
	}
	if err := insertResources(ctx, tx, id, resources); err != nil {
		return persistErr("record delivery", err)
	}

	if err := tx.Commit(); err != nil {
		return persistErr("record delivery", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// AddSudoUser grants a user access. It reports false if the user was already present.
func (s *SQLite) AddSudoUser(ctx context.Context, userID int64) (bool, error) {
	return s.insertID(ctx, `INSERT OR IGNORE INTO sudo_users (user_id, created_at) VALUES (?, ?)`, userID)
}

// RemoveSudoUser revokes a user's access. It reports false if the user was not present.
func (s *SQLite) RemoveSudoUser(ctx context.Context, userID int64) (bool, error) {
	return s.deleteID(ctx, `DELETE FROM sudo_users WHERE user_id = ?`, userID)
}

// IsSudoUser reports whether a user was granted access.
func (s *SQLite) IsSudoUser(ctx context.Context, userID int64) (bool, error) {
	return s.existsID(ctx, `SELECT COUNT(*) FROM sudo_users WHERE user_id = ?`, userID)
}

// AddChannel authorizes a channel. It reports false if the channel was already present.
func (s *SQLite) AddChannel(ctx context.Context, channelID int64) (bool, error) {
	return s.insertID(ctx, `INSERT OR IGNORE INTO channels (channel_id, created_at) VALUES (?, ?)`, channelID)
}

// RemoveChannel revokes a channel. It reports false if the channel was not present.
func (s *SQLite) RemoveChannel(ctx context.Context, channelID int64) (bool, error) {
	return s.deleteID(ctx, `DELETE FROM channels WHERE channel_id = ?`, channelID)
}

// IsChannelAuthorized reports whether a channel was authorized.
func (s *SQLite) IsChannelAuthorized(ctx context.Context, channelID int64) (bool, error) {
	return s.existsID(ctx, `SELECT COUNT(*) FROM channels WHERE channel_id = ?`, channelID)
}

func (s *SQLite) insertID(ctx context.Context, query string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, id, now())
	if err != nil {
		return false, persistErr("insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) deleteID(ctx context.Context, query string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, persistErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) existsID(ctx context.Context, query string, id int64) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return false, fmt.Errorf("query: %w", err)
	}
	return count > 0, nil
}

// queryPages loads pages matching where together with their resources.
func (s *SQLite) queryPages(ctx context.Context, where string, args ...any) (model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.subscriber_id, p.id, p.url, p.hash, r.name, r.url, r.kind
		 FROM pages p
		 LEFT JOIN resources r ON r.page_id = p.id
		 WHERE `+where+`
		 ORDER BY p.subscriber_id, p.id, r.position`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := make(model.Snapshot)
	lastPage := int64(-1)
	for rows.Next() {
		var (
			subID, id         int64
			pageURL, hash     string
			rName, rURL, kind sql.NullString
		)
		if err := rows.Scan(&subID, &id, &pageURL, &hash, &rName, &rURL, &kind); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if id != lastPage {
			snap[subID] = append(snap[subID], model.TrackedPage{
				URL:       pageURL,
				Hash:      hash,
				Resources: []model.Resource{},
			})
			lastPage = id
		}
		if rURL.Valid {
			pages := snap[subID]
			p := &pages[len(pages)-1]
			p.Resources = append(p.Resources, model.Resource{
				Name: rName.String,
				URL:  rURL.String,
				Kind: model.Kind(kind.String),
			})
		}
	}
	return snap, rows.Err()
}

func pageID(ctx context.Context, tx *sql.Tx, subscriberID int64, url string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM pages WHERE subscriber_id = ? AND url = ?`, subscriberID, url,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotTracked
	}
	if err != nil {
		return 0, fmt.Errorf("find page: %w", err)
	}
	return id, nil
}

func insertPage(ctx context.Context, tx *sql.Tx, subscriberID int64, p model.TrackedPage, ts string) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO pages (subscriber_id, url, hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		subscriberID, p.URL, p.Hash, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return insertResources(ctx, tx, id, p.Resources)
}

func insertResources(ctx context.Context, tx *sql.Tx, pageID int64, resources []model.Resource) error {
	for i, r := range resources {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO resources (page_id, position, name, url, kind) VALUES (?, ?, ?, ?, ?)`,
			pageID, i, r.Name, r.URL, string(r.Kind),
		); err != nil {
			return fmt.Errorf("insert resource: %w", err)
		}
	}
	return nil
}
