package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/speakscore/speakscore/internal/database"
	"github.com/speakscore/speakscore/internal/event"
	"github.com/speakscore/speakscore/pkg/analyzer"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// execCall records the arguments of one Exec invocation.
type execCall struct {
	sql  string
	args []any
}

// mockDB implements [DB] for testing.
type mockDB struct {
	row      pgx.Row
	execTag  pgconn.CommandTag
	execErr  error
	pingErr  error
	queries  []string
	execs    []execCall
	queryErr error
}

func (m *mockDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	m.queries = append(m.queries, sql)
	if m.queryErr != nil {
		return &mockRow{scanFunc: func(...any) error { return m.queryErr }}
	}
	return m.row
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return m.execTag, m.execErr
}

func (m *mockDB) Ping(context.Context) error { return m.pingErr }

// stringRow builds a row whose single column scans into *string.
func stringRow(v *string) pgx.Row {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(**string)) = v
		return nil
	}}
}

func strPtr(s string) *string { return &s }

func TestTimeLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		db      *mockDB
		want    float64
		wantErr error
	}{
		{
			name: "limit present",
			db:   &mockDB{row: stringRow(strPtr("1.5"))},
			want: 1.5,
		},
		{
			name:    "submission unknown",
			db:      &mockDB{queryErr: pgx.ErrNoRows},
			wantErr: database.ErrNotFound,
		},
		{
			name:    "question has no limit",
			db:      &mockDB{row: stringRow(nil)},
			wantErr: database.ErrNoTimeLimit,
		},
		{
			name:    "limit empty string",
			db:      &mockDB{row: stringRow(strPtr(""))},
			wantErr: database.ErrNoTimeLimit,
		},
		{
			name:    "limit zero",
			db:      &mockDB{row: stringRow(strPtr("0"))},
			wantErr: database.ErrNoTimeLimit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewWithDB(tt.db)

			got, err := s.TimeLimit(context.Background(), "https://portal.example.com/submissions/1", 2)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("TimeLimit: %v", err)
			}
			if got != tt.want {
				t.Errorf("limit = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeLimit_NonNumeric(t *testing.T) {
	t.Parallel()
	s := NewWithDB(&mockDB{row: stringRow(strPtr("soon"))})

	_, err := s.TimeLimit(context.Background(), "key", 1)
	if err == nil || !strings.Contains(err.Error(), "parse time limit") {
		t.Errorf("err = %v, want parse failure", err)
	}
}

func TestTimeLimit_QuestionIndexIsZeroBased(t *testing.T) {
	t.Parallel()
	var gotArgs []any
	db := &mockDB{}
	db.row = &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(**string)) = strPtr("2")
		return nil
	}}
	s := NewWithDB(&recordingDB{mockDB: db, onQuery: func(args []any) { gotArgs = args }})

	if _, err := s.TimeLimit(context.Background(), "key", 3); err != nil {
		t.Fatal(err)
	}
	if len(gotArgs) != 2 || gotArgs[1] != 2 {
		t.Errorf("query args = %v, want JSONB index 2 for question 3", gotArgs)
	}
}

// recordingDB forwards to mockDB while capturing QueryRow arguments.
type recordingDB struct {
	*mockDB
	onQuery func(args []any)
}

func (r *recordingDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	r.onQuery(args)
	return r.mockDB.QueryRow(ctx, sql, args...)
}

func TestPersistFinalResult(t *testing.T) {
	t.Parallel()
	db := &mockDB{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	s := NewWithDB(db)

	res := database.FinalResult{
		SubmissionKey:  "https://portal.example.com/submissions/1",
		TotalQuestions: 2,
		Results: []event.QuestionResult{
			{QuestionNumber: 1, Grammar: analyzer.Result{Grade: 80}},
			{QuestionNumber: 2, Grammar: analyzer.Result{Grade: 75}},
		},
	}
	if err := s.PersistFinalResult(context.Background(), res); err != nil {
		t.Fatalf("PersistFinalResult: %v", err)
	}

	if len(db.execs) != 1 {
		t.Fatalf("execs = %d, want 1", len(db.execs))
	}
	call := db.execs[0]
	if !strings.Contains(call.sql, "ON CONFLICT (submission_url)") {
		t.Errorf("persist must upsert, sql = %s", call.sql)
	}
	if call.args[0] != res.SubmissionKey || call.args[1] != 2 {
		t.Errorf("args = %v", call.args)
	}

	// Empty status defaults to analyzed.
	if call.args[3] != database.StatusAnalyzed {
		t.Errorf("status = %v, want %q", call.args[3], database.StatusAnalyzed)
	}

	var stored []event.QuestionResult
	if err := json.Unmarshal(call.args[2].([]byte), &stored); err != nil {
		t.Fatalf("feedback not JSON: %v", err)
	}
	if len(stored) != 2 || stored[1].Grammar.Grade != 75 {
		t.Errorf("stored feedback = %+v", stored)
	}
}

func TestPersistFinalResult_ExecError(t *testing.T) {
	t.Parallel()
	s := NewWithDB(&mockDB{execErr: errors.New("connection reset")})

	err := s.PersistFinalResult(context.Background(), database.FinalResult{SubmissionKey: "key"})
	if err == nil || !strings.Contains(err.Error(), "persist final result") {
		t.Errorf("err = %v", err)
	}
}

func TestMarkFinalizationFailed(t *testing.T) {
	t.Parallel()
	db := &mockDB{execTag: pgconn.NewCommandTag("UPDATE 1")}
	s := NewWithDB(db)

	if err := s.MarkFinalizationFailed(context.Background(), "key"); err != nil {
		t.Fatalf("MarkFinalizationFailed: %v", err)
	}
	if got := db.execs[0].args[1]; got != database.StatusFinalizationFailed {
		t.Errorf("status arg = %v", got)
	}
}

func TestMarkFinalizationFailed_UnknownSubmission(t *testing.T) {
	t.Parallel()
	s := NewWithDB(&mockDB{execTag: pgconn.NewCommandTag("UPDATE 0")})

	err := s.MarkFinalizationFailed(context.Background(), "missing")
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	if err := NewWithDB(&mockDB{}).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	err := NewWithDB(&mockDB{pingErr: errors.New("refused")}).Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Errorf("err = %v", err)
	}
}
