package todo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
)

// Dialect captures the SQL differences between the supported databases.
// A dialect without a search query matches in Go over the full list.
type Dialect struct {
	Name   string
	schema string
	list   string
	insert string
	search string
	delete string
}

// SQLite is the dialect for SQLite databases (either driver).
var SQLite = Dialect{
	Name: "sqlite",
	schema: `
		CREATE TABLE IF NOT EXISTS todos (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			todo TEXT NOT NULL
		)`,
	list:   `SELECT id, todo FROM todos ORDER BY id`,
	insert: `INSERT INTO todos (todo) VALUES (?) RETURNING id`,
	// No search: lower() and LIKE in SQLite fold ASCII only.
	delete: `DELETE FROM todos WHERE id = ?`,
}

// Postgres is the dialect for PostgreSQL via pgx.
var Postgres = Dialect{
	Name: "postgres",
	schema: `
		CREATE TABLE IF NOT EXISTS todos (
			id   SERIAL PRIMARY KEY,
			todo TEXT NOT NULL
		)`,
	list:   `SELECT id, todo FROM todos ORDER BY id`,
	insert: `INSERT INTO todos (todo) VALUES ($1) RETURNING id`,
	search: `SELECT id, todo FROM todos WHERE todo ILIKE '%' || $1::text || '%' ESCAPE '\' ORDER BY id`,
	delete: `DELETE FROM todos WHERE id = $1`,
}

// SQLStore implements [Store] on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database, creating the todos table if
// needed. The caller keeps ownership of db unless it uses Close.
func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate todos: %w", err)
	}
	return s, nil
}

// OpenSQLite opens (creating if necessary) a SQLite database file.
func OpenSQLite(path string) (*SQLStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	s, err := NewSQLStore(db, SQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := NewSQLStore(db, Postgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(s.dialect.schema)
	return err
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return storeErr("ping", s.db.PingContext(ctx))
}

// List returns every task in ascending id order.
func (s *SQLStore) List(ctx context.Context) ([]Todo, error) {
	todos, err := s.query(ctx, s.dialect.list)
	return todos, storeErr("list", err)
}

// Create inserts a task and returns its id.
func (s *SQLStore) Create(ctx context.Context, text string) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, s.dialect.insert, text).Scan(&id); err != nil {
		return 0, storeErr("create", err)
	}
	return id, nil
}

// Search returns tasks containing substring, case-insensitively. LIKE
// wildcards in substring match literally.
func (s *SQLStore) Search(ctx context.Context, substring string) ([]Todo, error) {
	if s.dialect.search == "" {
		todos, err := s.query(ctx, s.dialect.list)
		if err != nil {
			return nil, storeErr("search", err)
		}
		return filterFolded(todos, substring), nil
	}
	todos, err := s.query(ctx, s.dialect.search, escapeLike(substring))
	return todos, storeErr("search", err)
}

// filterFolded keeps the todos whose text contains substring under
// Unicode case folding.
func filterFolded(todos []Todo, substring string) []Todo {
	fold := cases.Fold()
	needle := fold.String(substring)
	out := []Todo{}
	for _, t := range todos {
		if strings.Contains(fold.String(t.Text), needle) {
			out = append(out, t)
		}
	}
	return out
}

// Delete removes the task with the given id, if present.
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	_, err := s.remove(ctx, id)
	return err
}

// remove deletes id and reports whether a row went away.
func (s *SQLStore) remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.delete, id)
	if err != nil {
		return false, storeErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Unknown; assume it changed.
		return true, nil
	}
	return n > 0, nil
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	todos := []Todo{}
	for rows.Next() {
		var t Todo
		if err := rows.Scan(&t.ID, &t.Text); err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// DB exposes the underlying handle so other tables can share it.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect reports which database the store talks to.
func (s *SQLStore) Dialect() Dialect { return s.dialect }
