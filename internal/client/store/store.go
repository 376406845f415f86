// internal/client/store/store.go
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"notifcast/internal/model"
)

// Record is a locally held message: the server-origin fields, immutable
// after insert, plus the client-owned read/favourite overlay.
type Record struct {
	model.Message
	Read      bool
	Favourite bool
}

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  id           INTEGER PRIMARY KEY,
  sender       TEXT NOT NULL,
  title        TEXT NOT NULL,
  content      TEXT NOT NULL DEFAULT '',
  starttime    INTEGER NOT NULL,
  endtime      INTEGER,
  links        TEXT NOT NULL DEFAULT '[]',
  attachment   BLOB,
  logo         BLOB,
  loc_lat      REAL,
  loc_lng      REAL,
  loc_radius   REAL,
  is_read      INTEGER NOT NULL DEFAULT 0,
  is_favourite INTEGER NOT NULL DEFAULT 0,
  received_at  INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_order ON messages (starttime DESC, id DESC);
`,
}

// Store is the durable per-device message set. All mutations are serialized
// through one mutex so the unread count is consistent at every observation
// point, including a concurrent delete and re-insert of the same identity.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	subs []func(unread int)
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open message db: %w", err)
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate message db: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// OnUnreadChange registers a callback invoked with the new unread count
// after every mutation that can change it.
func (s *Store) OnUnreadChange(fn func(unread int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// notifyLocked recomputes the unread count and fans it out. Caller holds mu.
func (s *Store) notifyLocked() {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE is_read = 0`).Scan(&n); err != nil {
		return
	}
	for _, fn := range s.subs {
		fn(n)
	}
}

// UpsertIfAbsent inserts a message unless a record with the same server
// identity already exists. The return value reports whether an insert
// happened; a redelivered duplicate returns false and changes nothing,
// including the read/favourite overlay of the existing record.
func (s *Store) UpsertIfAbsent(m *model.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	links, err := json.Marshal(m.Links)
	if err != nil {
		return false, fmt.Errorf("encode links: %w", err)
	}

	now := time.Now()
	start := now
	if m.Starttime != nil {
		start = *m.Starttime
	}
	var end *int64
	if m.Endtime != nil {
		v := m.Endtime.Unix()
		end = &v
	}
	var lat, lng, radius *float64
	if m.Location != nil {
		lat, lng, radius = &m.Location.Lat, &m.Location.Lng, &m.Location.Radius
	}

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO messages
		 (id, sender, title, content, starttime, endtime, links, attachment, logo,
		  loc_lat, loc_lng, loc_radius, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Sender, m.Title, m.Content, start.Unix(), end, string(links),
		m.Attachment, m.Logo, lat, lng, radius, now.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert message %d: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	s.notifyLocked()
	return true, nil
}

// MarkRead flags exactly one record as read.
func (s *Store) MarkRead(id int64) error {
	return s.setFlag(id, "is_read", true)
}

// SetFavourite sets the favourite flag of exactly one record.
func (s *Store) SetFavourite(id int64, value bool) error {
	return s.setFlag(id, "is_favourite", value)
}

func (s *Store) setFlag(id int64, column string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := 0
	if value {
		v = 1
	}
	res, err := s.db.Exec(`UPDATE messages SET `+column+` = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("update message %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	if column == "is_read" {
		s.notifyLocked()
	}
	return nil
}

// Delete removes one record by identity.
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	s.notifyLocked()
	return nil
}

// UnreadCount returns the number of stored records not yet read.
func (s *Store) UnreadCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE is_read = 0`).Scan(&n)
	return n, err
}

// QueryAll returns every record, newest scheduled start time first, ties
// broken by identity descending. This is the base ordering the search view
// filters.
func (s *Store) QueryAll() ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, title, content, starttime, endtime, links, attachment, logo,
		        loc_lat, loc_lng, loc_radius, is_read, is_favourite
		 FROM messages ORDER BY starttime DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var start int64
		var end sql.NullInt64
		var links string
		var lat, lng, radius sql.NullFloat64
		if err := rows.Scan(
			&r.ID, &r.Sender, &r.Title, &r.Content, &start, &end, &links,
			&r.Attachment, &r.Logo, &lat, &lng, &radius, &r.Read, &r.Favourite,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		t := time.Unix(start, 0)
		r.Starttime = &t
		if end.Valid {
			e := time.Unix(end.Int64, 0)
			r.Endtime = &e
		}
		if err := json.Unmarshal([]byte(links), &r.Links); err != nil {
			return nil, fmt.Errorf("decode links for %d: %w", r.ID, err)
		}
		if radius.Valid {
			r.Location = &model.LocationData{Lat: lat.Float64, Lng: lng.Float64, Radius: radius.Float64}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
