// Package audit implements the invocation audit trail: a local SQLite
// store fed asynchronously, off the request/response path, by the duplex
// session loop after every fragment call. It is diagnostic rather than a
// durability guarantee: a record that never makes it into the store does
// not fail the call it describes.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/poudelpratik/fragmentrt/pkg/contracts"
)

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	fragment_id   TEXT NOT NULL,
	function_name TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	duration_ms   INTEGER NOT NULL,
	status        TEXT NOT NULL,
	error_kind    TEXT
);
CREATE INDEX IF NOT EXISTS idx_invocations_session ON invocations(session_id, started_at DESC);
`

const defaultQueueDepth = 256

// Store is a SQLite-backed, asynchronously-written invocation log. Log
// enqueues a record and returns immediately; a single background writer
// goroutine owns the actual INSERT, so a slow or stalled database never
// blocks the duplex session loop that calls Log. Store has no mutex of its
// own: the queue is a buffered channel.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	queue chan contracts.InvocationRecord
	done  chan struct{}
	wg    sync.WaitGroup
}

var _ contracts.InvocationLogger = (*Store)(nil)

// Open creates (if necessary) and opens the SQLite database at path, and
// starts the background writer. Callers must call Close on shutdown to
// drain the queue and release the database handle.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening audit database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		queue:  make(chan contracts.InvocationRecord, defaultQueueDepth),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case record := <-s.queue:
			s.write(record)
		case <-s.done:
			for {
				select {
				case record := <-s.queue:
					s.write(record)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(record contracts.InvocationRecord) {
	const insert = `
		INSERT OR REPLACE INTO invocations
			(id, session_id, fragment_id, function_name, started_at, duration_ms, status, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(insert,
		record.ID, record.SessionID, record.FragmentID, record.FunctionName,
		record.StartedAt, record.DurationMS, record.Status, nullable(record.ErrorKind),
	)
	if err != nil {
		s.logger.Warn("failed to persist invocation record",
			zap.String("invocation_id", record.ID),
			zap.String("session_id", record.SessionID),
			zap.Error(err),
		)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Log enqueues record for asynchronous persistence. If the queue is full,
// the record is dropped and a warning logged rather than blocking the
// caller: the audit trail is diagnostic, not durability-guaranteed.
func (s *Store) Log(ctx context.Context, record contracts.InvocationRecord) {
	select {
	case s.queue <- record:
	default:
		s.logger.Warn("audit queue full, dropping invocation record",
			zap.String("invocation_id", record.ID),
			zap.String("session_id", record.SessionID),
		)
	}
}

// Recent returns the most recent invocation records for a session, newest
// first, bounded by limit.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]contracts.InvocationRecord, error) {
	const query = `
		SELECT id, session_id, fragment_id, function_name, started_at, duration_ms, status, COALESCE(error_kind, '')
		FROM invocations
		WHERE session_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying invocations for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var records []contracts.InvocationRecord
	for rows.Next() {
		var r contracts.InvocationRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.FragmentID, &r.FunctionName, &r.StartedAt, &r.DurationMS, &r.Status, &r.ErrorKind); err != nil {
			return nil, fmt.Errorf("scanning invocation row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close stops the background writer after draining its queue and closes
// the database handle.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}
