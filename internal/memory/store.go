package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists conversation threads so a checkpoint token can resume
// earlier context on the server.
type Store struct {
	dbPath string
	db     *sql.DB
	mu     sync.Mutex
	now    func() time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &Store{dbPath: dbPath, db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			created_ts INTEGER,
			last_activity_ts INTEGER,
			turn_count INTEGER DEFAULT 0,
			preview TEXT DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			ts INTEGER,
			role TEXT,
			content TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_thread_id ON turns(thread_id, id);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// CreateThread registers a new thread and returns its id.
func (s *Store) CreateThread(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	ts := s.now().Unix()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO threads(id, created_ts, last_activity_ts, turn_count, preview)
		VALUES(?, ?, ?, 0, '')
	`, id, ts, ts); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return id, nil
}

func (s *Store) Exists(ctx context.Context, threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, threadID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup thread: %w", err)
	}
	return true, nil
}

// AppendExchange records a question and its answer in one transaction. Blank
// turns are skipped.
func (s *Store) AppendExchange(ctx context.Context, threadID, question, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	var turnCount int
	var preview string
	err = tx.QueryRowContext(ctx, `SELECT turn_count, COALESCE(preview, '') FROM threads WHERE id = ?`, threadID).Scan(&turnCount, &preview)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}
	if err != nil {
		return fmt.Errorf("lookup thread: %w", err)
	}

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO turns(thread_id, ts, role, content)
		VALUES(?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare turn insert: %w", err)
	}
	defer insertStmt.Close()

	ts := s.now().Unix()
	for _, turn := range []struct{ role, content string }{
		{RoleUser, question},
		{RoleAssistant, answer},
	} {
		if strings.TrimSpace(turn.content) == "" {
			continue
		}
		if _, err := insertStmt.ExecContext(ctx, threadID, ts, turn.role, turn.content); err != nil {
			return fmt.Errorf("insert %s turn: %w", turn.role, err)
		}
		turnCount++
		if preview == "" && turn.role == RoleUser {
			preview = trimPreview(turn.content)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE threads SET last_activity_ts = ?, turn_count = ?, preview = ?
		WHERE id = ?
	`, ts, turnCount, preview, threadID); err != nil {
		return fmt.Errorf("update thread summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append %s: %w", threadID, err)
	}
	return nil
}

// History returns the most recent limit turns of a thread, oldest first.
func (s *Store) History(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 8
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, COALESCE(ts, 0), role, content FROM (
			SELECT id, thread_id, ts, role, content
			FROM turns
			WHERE thread_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query thread turns: %w", err)
	}
	defer rows.Close()

	out := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ThreadID, &t.TS, &t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

func (s *Store) GetThread(ctx context.Context, threadID string) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t Thread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(created_ts, 0), COALESCE(last_activity_ts, 0), COALESCE(turn_count, 0), COALESCE(preview, '')
		FROM threads WHERE id = ?
	`, threadID).Scan(&t.ID, &t.CreatedTS, &t.LastActivityTS, &t.TurnCount, &t.Preview)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

// ListThreads returns non-empty threads, most recent first. A non-empty
// query ranks threads by how many turns mention any of its terms.
func (s *Store) ListThreads(ctx context.Context, query string, limit int) ([]Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	query = strings.TrimSpace(query)

	var rows *sql.Rows
	var err error
	if query == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, COALESCE(created_ts, 0), COALESCE(last_activity_ts, 0), COALESCE(turn_count, 0), COALESCE(preview, '')
			FROM threads
			WHERE COALESCE(turn_count, 0) > 0
			ORDER BY last_activity_ts DESC, id
			LIMIT ?
		`, limit)
	} else {
		rows, err = s.searchRows(ctx, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	out := make([]Thread, 0, 16)
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.CreatedTS, &t.LastActivityTS, &t.TurnCount, &t.Preview); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread rows: %w", err)
	}
	return out, nil
}

func (s *Store) searchRows(ctx context.Context, query string, limit int) (*sql.Rows, error) {
	terms := tokenizeSearchTerms(query)
	if len(terms) == 0 {
		terms = []string{normalizeContent(query)}
	}

	var b strings.Builder
	b.WriteString(`
		SELECT t.id, COALESCE(t.created_ts, 0), COALESCE(t.last_activity_ts, 0), COALESCE(t.turn_count, 0), COALESCE(t.preview, '')
		FROM threads t
		JOIN (
			SELECT thread_id, COUNT(*) AS score
			FROM turns
			WHERE `)
	args := make([]any, 0, len(terms)+1)
	for idx, term := range terms {
		if idx > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString("LOWER(content) LIKE ?")
		args = append(args, "%"+term+"%")
	}
	b.WriteString(`
			GROUP BY thread_id
		) ranked ON ranked.thread_id = t.id
		ORDER BY ranked.score DESC, t.last_activity_ts DESC
		LIMIT ?
	`)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("like query failed: %w", err)
	}
	return rows, nil
}

func tokenizeSearchTerms(raw string) []string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "`\"'.,:;!?()[]{}<>|")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func normalizeContent(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

func trimPreview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= 120 {
		return s
	}
	return string(r[:117]) + "..."
}

func FormatUnix(ts int64) string {
	if ts <= 0 {
		return "n/a"
	}
	return time.Unix(ts, 0).Local().Format("2006-01-02 15:04")
}
