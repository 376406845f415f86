// internal/storage/postgres.go
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"notifcast/internal/model"
)

type Storage struct {
	DB *sql.DB
}

func NewStorage(dsn string) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Storage{DB: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS topics (
	id          BIGSERIAL PRIMARY KEY,
	binding_key TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	tags        TEXT[] NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS properties (
	id          BIGSERIAL PRIMARY KEY,
	binding_key TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id         BIGSERIAL PRIMARY KEY,
	topic_id   BIGINT REFERENCES topics(id),
	sender     TEXT NOT NULL,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	starttime  TIMESTAMPTZ,
	endtime    TIMESTAMPTZ,
	sent       BOOLEAN NOT NULL DEFAULT FALSE,
	attachment BYTEA,
	logo       BYTEA,
	links      TEXT[] NOT NULL DEFAULT '{}',
	loc_lat    DOUBLE PRECISION,
	loc_lng    DOUBLE PRECISION,
	loc_radius DOUBLE PRECISION
);
CREATE TABLE IF NOT EXISTS message_properties (
	message_id  BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	property_id BIGINT NOT NULL REFERENCES properties(id),
	position    INT NOT NULL,
	PRIMARY KEY (message_id, property_id)
);
CREATE TABLE IF NOT EXISTS registrations (
	signup_token UUID PRIMARY KEY,
	queue_id     UUID NOT NULL UNIQUE,
	device_class TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_messages_unsent ON messages (starttime) WHERE NOT sent;
`

// Migrate creates the schema if it does not exist yet.
func (s *Storage) Migrate() error {
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- topics ---

func (s *Storage) CreateTopic(t *model.Topic) error {
	err := s.DB.QueryRow(
		`INSERT INTO topics (binding_key, title, description, tags)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		t.BindingKey, t.Title, t.Description, pq.Array(t.Tags),
	).Scan(&t.ID)
	if isUniqueViolation(err) {
		return model.ErrDuplicate
	}
	return err
}

func (s *Storage) ListTopics() ([]model.Topic, error) {
	rows, err := s.DB.Query(`SELECT id, binding_key, title, description, tags FROM topics ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.BindingKey, &t.Title, &t.Description, pq.Array(&t.Tags)); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// --- properties ---

func (s *Storage) CreateProperty(p *model.Property) error {
	err := s.DB.QueryRow(
		`INSERT INTO properties (binding_key, name) VALUES ($1, $2) RETURNING id`,
		p.BindingKey, p.Name,
	).Scan(&p.ID)
	if isUniqueViolation(err) {
		return model.ErrDuplicate
	}
	return err
}

func (s *Storage) ListProperties() ([]model.Property, error) {
	rows, err := s.DB.Query(`SELECT id, binding_key, name FROM properties ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []model.Property
	for rows.Next() {
		var p model.Property
		if err := rows.Scan(&p.ID, &p.BindingKey, &p.Name); err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

// --- messages ---

// CreateMessage persists a message and its property bindings. The caller
// decides the lifecycle: an immediate-send message arrives here with
// sent=true after a successful publish.
func (s *Storage) CreateMessage(m *model.Message) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lat, lng, radius *float64
	if m.Location != nil {
		lat, lng, radius = &m.Location.Lat, &m.Location.Lng, &m.Location.Radius
	}

	err = tx.QueryRow(
		`INSERT INTO messages (topic_id, sender, title, content, starttime, endtime, sent,
		                       attachment, logo, links, loc_lat, loc_lng, loc_radius)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		m.TopicID, m.Sender, m.Title, m.Content, m.Starttime, m.Endtime, m.Sent,
		m.Attachment, m.Logo, pq.Array(m.Links), lat, lng, radius,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	for i, p := range m.Properties {
		if _, err := tx.Exec(
			`INSERT INTO message_properties (message_id, property_id, position) VALUES ($1, $2, $3)`,
			m.ID, p.ID, i,
		); err != nil {
			return fmt.Errorf("bind property %d: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

const messageColumns = `
	m.id, m.topic_id, m.sender, m.title, m.content, m.starttime, m.endtime, m.sent,
	m.attachment, m.logo, m.links, m.loc_lat, m.loc_lng, m.loc_radius, t.binding_key`

func (s *Storage) messageProperties(messageID int64) ([]model.Property, error) {
	rows, err := s.DB.Query(
		`SELECT p.id, p.binding_key, p.name
		 FROM message_properties mp JOIN properties p ON p.id = mp.property_id
		 WHERE mp.message_id = $1 ORDER BY mp.position`,
		messageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []model.Property
	for rows.Next() {
		var p model.Property
		if err := rows.Scan(&p.ID, &p.BindingKey, &p.Name); err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

func (s *Storage) queryMessages(query string, args ...interface{}) ([]model.Message, error) {
	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	var ids []int64
	for rows.Next() {
		m, err := s.scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, id := range ids {
		props, err := s.messageProperties(id)
		if err != nil {
			return nil, err
		}
		out[i].Properties = props
	}
	return out, nil
}

// scanMessageRow scans the column set of messageColumns without touching
// the connection again; property loading happens after the rows are drained.
func (s *Storage) scanMessageRow(rows *sql.Rows) (*model.Message, error) {
	var m model.Message
	var lat, lng, radius sql.NullFloat64
	if err := rows.Scan(
		&m.ID, &m.TopicID, &m.Sender, &m.Title, &m.Content, &m.Starttime, &m.Endtime, &m.Sent,
		&m.Attachment, &m.Logo, pq.Array(&m.Links), &lat, &lng, &radius, &m.TopicKey,
	); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if radius.Valid {
		m.Location = &model.LocationData{Lat: lat.Float64, Lng: lng.Float64, Radius: radius.Float64}
	}
	return &m, nil
}

func (s *Storage) GetMessage(id int64) (*model.Message, error) {
	msgs, err := s.queryMessages(
		`SELECT `+messageColumns+` FROM messages m LEFT JOIN topics t ON t.id = m.topic_id WHERE m.id = $1`,
		id,
	)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, model.ErrNotFound
	}
	return &msgs[0], nil
}

// ListUnsent returns every unsent message ordered by scheduled start time
// ascending, so the scheduler can stop scanning at the first future one.
// Messages without a start time sort first and are always due.
func (s *Storage) ListUnsent() ([]model.Message, error) {
	return s.queryMessages(
		`SELECT ` + messageColumns + `
		 FROM messages m LEFT JOIN topics t ON t.id = m.topic_id
		 WHERE NOT m.sent
		 ORDER BY m.starttime ASC NULLS FIRST, m.id ASC`,
	)
}

// MarkSent flips the monotonic sent flag. Never unsets it.
func (s *Storage) MarkSent(id int64) error {
	res, err := s.DB.Exec(`UPDATE messages SET sent = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteMessage removes an unsent message. Deleting an already-sent message
// is a policy violation and is rejected, not ignored.
func (s *Storage) DeleteMessage(id int64) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var sent bool
	err = tx.QueryRow(`SELECT sent FROM messages WHERE id = $1 FOR UPDATE`, id).Scan(&sent)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}
	if sent {
		return model.ErrAlreadySent
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SearchMessages filters the authoring-side history: case-insensitive
// substring over title, sender and content, optionally restricted to a start
// time period and a topic binding key. Empty arguments mean "no filter".
func (s *Storage) SearchMessages(search string, from, to *time.Time, topicKey string) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + `
		 FROM messages m LEFT JOIN topics t ON t.id = m.topic_id
		 WHERE ($1 = '' OR m.title ILIKE '%' || $1 || '%' OR m.sender ILIKE '%' || $1 || '%' OR m.content ILIKE '%' || $1 || '%')
		   AND ($2::timestamptz IS NULL OR m.starttime >= $2)
		   AND ($3::timestamptz IS NULL OR m.starttime <= $3)
		   AND ($4 = '' OR t.binding_key = $4)
		 ORDER BY m.starttime DESC NULLS LAST, m.id DESC`
	return s.queryMessages(query, search, from, to, topicKey)
}

// --- registrations ---

// CreateRegistration records the sign-up token to queue identity pairing.
// A repeated token is the same logical device signing up again.
func (s *Storage) CreateRegistration(token, queueID uuid.UUID, deviceClass string) error {
	_, err := s.DB.Exec(
		`INSERT INTO registrations (signup_token, queue_id, device_class) VALUES ($1, $2, $3)`,
		token, queueID, deviceClass,
	)
	if isUniqueViolation(err) {
		return model.ErrDuplicate
	}
	return err
}

func (s *Storage) GetRegistration(token uuid.UUID) (queueID uuid.UUID, deviceClass string, err error) {
	err = s.DB.QueryRow(
		`SELECT queue_id, device_class FROM registrations WHERE signup_token = $1`,
		token,
	).Scan(&queueID, &deviceClass)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, "", model.ErrNotFound
	}
	return queueID, deviceClass, err
}
