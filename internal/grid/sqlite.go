package grid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	stateNextPosition = "nextPosition"
	stateCurrentImage = "currentImage"
)

// SQLiteStore persists the grid in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLite creates or opens the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: every write is serialized at the driver as well.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cells (
		position INTEGER PRIMARY KEY,
		word TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_color TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		color TEXT NOT NULL,
		words_contributed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS generation_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_path TEXT,
		prompt_snapshot TEXT NOT NULL,
		word_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS authority_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO authority_state (key, value) VALUES ('nextPosition', '0');
	INSERT OR IGNORE INTO authority_state (key, value) VALUES ('currentImage', '');
	`
	_, err := s.db.Exec(schema)
	return err
}

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) ReadNextPosition() (int, error) {
	var v string
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM authority_state WHERE key = ?`, stateNextPosition).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read next position: %w", err)
	}
	return strconv.Atoi(v)
}

func (t *sqliteTx) WriteCell(c Cell) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT OR IGNORE INTO cells (position, word, user_id, user_color, group_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Position, c.Word, c.UserID, c.UserColor, c.GroupID, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("write cell %d: %w", c.Position, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("write cell %d: %w", c.Position, ErrPositionTaken)
	}
	return nil
}

func (t *sqliteTx) AdvanceNextPosition(next int) error {
	_, err := t.tx.ExecContext(t.ctx, `UPDATE authority_state SET value = ? WHERE key = ?`, strconv.Itoa(next), stateNextPosition)
	if err != nil {
		return fmt.Errorf("advance next position: %w", err)
	}
	return nil
}

func (t *sqliteTx) IncrementUserContribution(userID string, delta int) error {
	if _, err := t.GetOrCreateUser(userID); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `UPDATE users SET words_contributed = words_contributed + ? WHERE id = ?`, delta, userID)
	if err != nil {
		return fmt.Errorf("increment contribution: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetOrCreateUser(userID string) (User, error) {
	u, err := scanUser(t.tx.QueryRowContext(t.ctx,
		`SELECT id, color, words_contributed, created_at FROM users WHERE id = ?`, userID))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("get user: %w", err)
	}

	u = User{ID: userID, Color: ColorForUser(userID), CreatedAt: time.Now().UTC()}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO users (id, color, words_contributed, created_at) VALUES (?, ?, 0, ?)`,
		u.ID, u.Color, u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Color, &u.WordsContributed, &u.CreatedAt)
	return u, err
}

// Update runs fn inside a database transaction.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AllCells returns every committed cell ordered by position.
func (s *SQLiteStore) AllCells(ctx context.Context) ([]Cell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, word, user_id, user_color, group_id, created_at FROM cells ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query cells: %w", err)
	}
	defer rows.Close()

	var cells []Cell
	for rows.Next() {
		var c Cell
		if err := rows.Scan(&c.Position, &c.Word, &c.UserID, &c.UserColor, &c.GroupID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// CellCount returns the number of committed cells.
func (s *SQLiteStore) CellCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cells`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cells: %w", err)
	}
	return n, nil
}

// PromptWindow returns the last maxWords words, oldest first.
func (s *SQLiteStore) PromptWindow(ctx context.Context, maxWords int) (string, error) {
	if maxWords <= 0 {
		return s.FullPrompt(ctx)
	}
	return s.words(ctx,
		`SELECT word FROM (SELECT position, word FROM cells ORDER BY position DESC LIMIT ?) ORDER BY position`,
		maxWords)
}

// FullPrompt returns every word, oldest first.
func (s *SQLiteStore) FullPrompt(ctx context.Context) (string, error) {
	return s.words(ctx, `SELECT word FROM cells ORDER BY position`)
}

func (s *SQLiteStore) words(ctx context.Context, query string, args ...any) (string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("query words: %w", err)
	}
	defer rows.Close()

	var words []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return "", fmt.Errorf("scan word: %w", err)
		}
		words = append(words, w)
	}
	return strings.Join(words, " "), rows.Err()
}

// State returns the authority state.
func (s *SQLiteStore) State(ctx context.Context) (AuthorityState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM authority_state`)
	if err != nil {
		return AuthorityState{}, fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	var st AuthorityState
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return AuthorityState{}, fmt.Errorf("scan state: %w", err)
		}
		switch k {
		case stateNextPosition:
			st.NextPosition, err = strconv.Atoi(v)
			if err != nil {
				return AuthorityState{}, fmt.Errorf("parse next position: %w", err)
			}
		case stateCurrentImage:
			st.CurrentImage = v
		}
	}
	return st, rows.Err()
}

// SetCurrentImage records the most recent delivered image.
func (s *SQLiteStore) SetCurrentImage(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE authority_state SET value = ? WHERE key = ?`, path, stateCurrentImage)
	if err != nil {
		return fmt.Errorf("set current image: %w", err)
	}
	return nil
}

// GetUser returns a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, color, words_contributed, created_at FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateGeneration stores a new record and assigns its id.
func (s *SQLiteStore) CreateGeneration(ctx context.Context, rec GenerationRecord) (GenerationRecord, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_records (image_path, prompt_snapshot, word_count, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ImagePath, rec.PromptSnapshot, rec.WordCount, string(rec.Status), rec.Error, rec.CreatedAt)
	if err != nil {
		return GenerationRecord{}, fmt.Errorf("insert generation: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return GenerationRecord{}, fmt.Errorf("generation id: %w", err)
	}
	return rec, nil
}

// FinishGeneration moves a record out of the generating state. An empty
// imagePath leaves the stored path unchanged.
func (s *SQLiteStore) FinishGeneration(ctx context.Context, id int64, status GenerationStatus, imagePath, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE generation_records SET status = ?, image_path = COALESCE(NULLIF(?, ''), image_path), error = ? WHERE id = ?`,
		string(status), imagePath, errText, id)
	if err != nil {
		return fmt.Errorf("finish generation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("generation %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecentGenerations returns up to n records, most recent first.
func (s *SQLiteStore) RecentGenerations(ctx context.Context, n int) ([]GenerationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(image_path, ''), prompt_snapshot, word_count, status, error, created_at
		 FROM generation_records ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var list []GenerationRecord
	for rows.Next() {
		var rec GenerationRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.ImagePath, &rec.PromptSnapshot, &rec.WordCount, &status, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		rec.Status = GenerationStatus(status)
		list = append(list, rec)
	}
	return list, rows.Err()
}
