package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"access_grant_service/internal/domain/grant"
)

// stubDB is a database/sql driver that records statements and reports a
// fixed number of affected rows for every UPDATE.
type stubDB struct {
	mu           sync.Mutex
	execs        []string
	commits      int
	rollbacks    int
	rowsAffected int64
	failInsert   bool
}

func (s *stubDB) Connect(context.Context) (driver.Conn, error) { return &stubConn{db: s}, nil }
func (s *stubDB) Driver() driver.Driver                        { return stubDriver{} }

func (s *stubDB) statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...)
}

type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) { return nil, errors.New("use the connector") }

type stubConn struct{ db *stubDB }

func (c *stubConn) Prepare(query string) (driver.Stmt, error) { return &stubStmt{db: c.db, query: query}, nil }
func (c *stubConn) Close() error                              { return nil }
func (c *stubConn) Begin() (driver.Tx, error)                 { return &stubTx{db: c.db}, nil }

type stubTx struct{ db *stubDB }

func (t *stubTx) Commit() error {
	t.db.mu.Lock()
	t.db.commits++
	t.db.mu.Unlock()
	return nil
}

func (t *stubTx) Rollback() error {
	t.db.mu.Lock()
	t.db.rollbacks++
	t.db.mu.Unlock()
	return nil
}

type stubStmt struct {
	db    *stubDB
	query string
}

func (s *stubStmt) Close() error  { return nil }
func (s *stubStmt) NumInput() int { return -1 }

func (s *stubStmt) Exec([]driver.Value) (driver.Result, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.execs = append(s.db.execs, s.query)
	query := strings.TrimSpace(s.query)
	switch {
	case strings.HasPrefix(query, "UPDATE"):
		return driver.RowsAffected(s.db.rowsAffected), nil
	case strings.HasPrefix(query, "INSERT INTO access_events") && s.db.failInsert:
		return nil, errors.New("insert failed")
	default:
		return driver.RowsAffected(1), nil
	}
}

func (s *stubStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("queries are not supported")
}

func newStubRepository(t *testing.T, rowsAffected int64) (*PostgresGrantRepository, *stubDB) {
	t.Helper()
	stub := &stubDB{rowsAffected: rowsAffected}
	db := sql.OpenDB(stub)
	t.Cleanup(func() { db.Close() })
	return NewPostgresGrantRepository(db), stub
}

func testEvent(t grant.EventType) *grant.Event {
	return &grant.Event{ID: "e-1", GrantID: "g-1", Type: t, CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func TestGuardedUpdateAppendsEventOnlyWhenRowChanged(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name          string
		rowsAffected  int64
		wantChanged   bool
		wantStmts     int
		wantCommits   int
		wantEventStmt bool
	}{
		{"row changed", 1, true, 2, 1, true},
		{"guard refused", 0, false, 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, stub := newStubRepository(t, tt.rowsAffected)

			changed, err := repo.Revoke(context.Background(), "g-1", at, testEvent(grant.EventRevokedUser))
			if err != nil {
				t.Fatalf("Revoke() error = %v", err)
			}
			if changed != tt.wantChanged {
				t.Errorf("Revoke() = %v, want %v", changed, tt.wantChanged)
			}
			stmts := stub.statements()
			if len(stmts) != tt.wantStmts {
				t.Fatalf("statements = %q, want %d", stmts, tt.wantStmts)
			}
			if !strings.Contains(stmts[0], "revoked_at IS NULL AND invalidated_at IS NULL") {
				t.Errorf("revoke guard missing in %q", stmts[0])
			}
			if tt.wantEventStmt && !strings.Contains(stmts[1], "INSERT INTO access_events") {
				t.Errorf("second statement = %q, want the event insert", stmts[1])
			}
			if stub.commits != tt.wantCommits {
				t.Errorf("commits = %d, want %d", stub.commits, tt.wantCommits)
			}
		})
	}
}

func TestGuardedUpdateRollsBackWhenEventFails(t *testing.T) {
	repo, stub := newStubRepository(t, 1)
	stub.failInsert = true

	changed, err := repo.Invalidate(context.Background(), "g-1", time.Now(), testEvent(grant.InvalidatedEvent(grant.ReasonExpired)))
	if err == nil || changed {
		t.Fatalf("Invalidate() = %v, %v; want an error", changed, err)
	}
	if stub.commits != 0 || stub.rollbacks != 1 {
		t.Errorf("commits = %d, rollbacks = %d; want the transaction rolled back", stub.commits, stub.rollbacks)
	}
}

func TestSetRecipientSkipsTerminalGrants(t *testing.T) {
	repo, stub := newStubRepository(t, 0)

	changed, err := repo.SetRecipient(context.Background(), "g-1", "u-1", time.Now(), testEvent(grant.EventMatch))
	if err != nil || changed {
		t.Fatalf("SetRecipient() = %v, %v; want no change", changed, err)
	}
	stmt := stub.statements()[0]
	for _, cond := range []string{"recipient_user_id IS DISTINCT FROM $2", "revoked_at IS NULL", "invalidated_at IS NULL"} {
		if !strings.Contains(stmt, cond) {
			t.Errorf("SetRecipient guard %q missing in %q", cond, stmt)
		}
	}
}
