package audit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ird0/sftpcert/internal/db"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// SQLStore persists audit events in SQLite.
type SQLStore struct {
	db *db.DB
}

// NewStore creates a store on an open database.
func NewStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database}
}

// Insert writes one event and fills in its assigned ID.
func (s *SQLStore) Insert(e *Event) error {
	query := `
		INSERT INTO audit_events (timestamp, event, username, client_address, certificate_serial, valid_until, reason, old_serial, new_serial)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var validUntil interface{}
	if !e.ValidUntil.IsZero() {
		validUntil = e.ValidUntil
	}

	result, err := s.db.Exec(query,
		e.Timestamp,
		e.Event,
		e.Username,
		e.ClientAddress,
		e.CertificateSerial,
		validUntil,
		e.Reason,
		e.OldSerial,
		e.NewSerial,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id

	return nil
}

// Query lists events newest first with optional filters. A non-positive
// limit takes the default; oversized limits are clamped.
func (s *SQLStore) Query(username, event string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	query := `
		SELECT id, timestamp, event, username, client_address, certificate_serial, valid_until, reason, old_serial, new_serial
		FROM audit_events
		WHERE 1=1
	`
	args := []interface{}{}

	if username != "" {
		query += " AND username = ?"
		args = append(args, username)
	}

	if event != "" {
		query += " AND event = ?"
		args = append(args, event)
	}

	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event

	for rows.Next() {
		e := &Event{}
		var clientAddress, serial, reason, oldSerial, newSerial sql.NullString
		var validUntil sql.NullTime

		err := rows.Scan(
			&e.ID,
			&e.Timestamp,
			&e.Event,
			&e.Username,
			&clientAddress,
			&serial,
			&validUntil,
			&reason,
			&oldSerial,
			&newSerial,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if clientAddress.Valid {
			e.ClientAddress = clientAddress.String
		}
		if serial.Valid {
			e.CertificateSerial = serial.String
		}
		if validUntil.Valid {
			e.ValidUntil = validUntil.Time
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		if oldSerial.Valid {
			e.OldSerial = oldSerial.String
		}
		if newSerial.Valid {
			e.NewSerial = newSerial.String
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// DeleteBefore removes events older than the cutoff and reports how many
// were deleted.
func (s *SQLStore) DeleteBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM audit_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}
	return result.RowsAffected()
}
