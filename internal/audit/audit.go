// Package audit records the security event trail: every authentication
// attempt and every certificate renewal produces exactly one event, written
// to the process log and, when a store is wired in, to the database.
package audit

import (
	"log"
	"time"
)

// Audit event constants
const (
	EventAuthSuccess  = "AUTH_SUCCESS"
	EventAuthRejected = "AUTH_REJECTED"
	EventCertRenewed  = "CERT_RENEWED"
)

// Event represents one recorded security event. Fields that do not apply
// to a given event type stay empty.
type Event struct {
	ID                int64     `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Event             string    `json:"event"`
	Username          string    `json:"username"`
	ClientAddress     string    `json:"client_address,omitempty"`
	CertificateSerial string    `json:"certificate_serial,omitempty"`
	ValidUntil        time.Time `json:"valid_until,omitzero"`
	Reason            string    `json:"reason,omitempty"`
	OldSerial         string    `json:"old_serial,omitempty"`
	NewSerial         string    `json:"new_serial,omitempty"`
}

// Store persists events. *SQLStore satisfies it.
type Store interface {
	Insert(e *Event) error
}

// Logger emits audit events. A nil store means log-only operation.
type Logger struct {
	store Store
	nowFn func() time.Time
}

// NewLogger creates an audit logger backed by the given store.
// Pass nil to log events without persisting them.
func NewLogger(store Store) *Logger {
	return &Logger{store: store, nowFn: time.Now}
}

// Success records an accepted authentication attempt.
func (l *Logger) Success(username, clientAddress, certificateSerial string, validUntil time.Time) {
	log.Printf("[audit] event=%s username=%s clientAddress=%s certificateSerial=%s validUntil=%s",
		EventAuthSuccess, username, clientAddress, certificateSerial, validUntil.Format(time.RFC3339))
	l.persist(&Event{
		Timestamp:         l.nowFn().UTC(),
		Event:             EventAuthSuccess,
		Username:          username,
		ClientAddress:     clientAddress,
		CertificateSerial: certificateSerial,
		ValidUntil:        validUntil.UTC(),
	})
}

// Rejection records a refused authentication attempt with its reason code.
func (l *Logger) Rejection(username, clientAddress, reason string) {
	log.Printf("[audit] event=%s username=%s clientAddress=%s reason=%s",
		EventAuthRejected, username, clientAddress, reason)
	l.persist(&Event{
		Timestamp:     l.nowFn().UTC(),
		Event:         EventAuthRejected,
		Username:      username,
		ClientAddress: clientAddress,
		Reason:        reason,
	})
}

// Renewal records a certificate rotation on the client side.
func (l *Logger) Renewal(username, oldSerial, newSerial string, validUntil time.Time) {
	log.Printf("[audit] event=%s username=%s oldSerial=%s newSerial=%s validUntil=%s",
		EventCertRenewed, username, oldSerial, newSerial, validUntil.Format(time.RFC3339))
	l.persist(&Event{
		Timestamp:  l.nowFn().UTC(),
		Event:      EventCertRenewed,
		Username:   username,
		OldSerial:  oldSerial,
		NewSerial:  newSerial,
		ValidUntil: validUntil.UTC(),
	})
}

// persist writes the event to the store. Storage failures are logged and
// swallowed: a broken audit database must not take authentication down
// with it, and the event already reached the process log above.
func (l *Logger) persist(e *Event) {
	if l.store == nil {
		return
	}
	if err := l.store.Insert(e); err != nil {
		log.Printf("[audit] failed to persist event %s: %v", e.Event, err)
	}
}
