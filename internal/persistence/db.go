// Package persistence archives finished reigns in SQLite or Postgres.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/engine"
	"github.com/talgya/royal-intrigue/internal/kingdom"
)

// Dialect selects the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Meta keys.
const (
	MetaReignsPlayed = "reigns_played"
	MetaLastReign    = "last_reign"
)

// ErrReignNotFound is returned when no archived reign has the given id.
var ErrReignNotFound = errors.New("reign not found")

// DB wraps a connection to the reign archive.
type DB struct {
	conn    *sqlx.DB
	dialect Dialect
}

// Open connects to the archive. For sqlite, dsn is a file path whose
// directory is created if missing; for postgres it is a connection string.
func Open(dialect Dialect, dsn string) (*DB, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
		if dsn == "" {
			return nil, errors.New("sqlite archive requires a path")
		}
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	case DialectPostgres:
		driver = "pgx"
		if dsn == "" {
			return nil, errors.New("postgres archive requires DB_POSTGRES_DSN")
		}
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		conn.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	db := &DB{conn: conn, dialect: dialect}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("reign archive open", "dialect", dialect)
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reigns (
		id TEXT PRIMARY KEY,
		started_at BIGINT NOT NULL,
		ended_at BIGINT NOT NULL,
		turns INTEGER NOT NULL,
		treasury INTEGER NOT NULL,
		stability INTEGER NOT NULL,
		popularity INTEGER NOT NULL,
		army INTEGER NOT NULL,
		reveals_json TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS turns (
		reign_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		crisis TEXT NOT NULL,
		options_json TEXT NOT NULL,
		effects_json TEXT NOT NULL,
		allocation_json TEXT NOT NULL,
		deltas_json TEXT NOT NULL,
		after_json TEXT NOT NULL,
		PRIMARY KEY (reign_id, turn)
	)`,
	`CREATE TABLE IF NOT EXISTS thread (
		reign_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		recipient TEXT NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (reign_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reigns_ended ON reigns(ended_at)`,
}

func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// q rewrites ? placeholders for the active dialect.
func (db *DB) q(query string) string {
	return db.conn.Rebind(query)
}

// SaveReign writes a chronicle to the archive, replacing any earlier copy
// of the same reign.
func (db *DB) SaveReign(c *engine.Chronicle) error {
	reveals, err := json.Marshal(c.Reveals)
	if err != nil {
		return fmt.Errorf("encode reveals: %w", err)
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"thread", "turns"} {
		if _, err := tx.Exec(db.q("DELETE FROM "+table+" WHERE reign_id = ?"), c.ReignID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(db.q("DELETE FROM reigns WHERE id = ?"), c.ReignID); err != nil {
		return fmt.Errorf("clear reign: %w", err)
	}

	_, err = tx.Exec(db.q(`INSERT INTO reigns
		(id, started_at, ended_at, turns, treasury, stability, popularity, army, reveals_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ReignID, c.StartedAt.Unix(), unixOrZero(c.EndedAt), c.Final.Turn,
		c.Final.Treasury, c.Final.Stability, c.Final.Popularity, c.Final.Army,
		string(reveals),
	)
	if err != nil {
		return fmt.Errorf("insert reign %s: %w", c.ReignID, err)
	}

	for _, t := range c.Turns {
		cols, err := encodeTurn(t)
		if err != nil {
			return fmt.Errorf("encode turn %d: %w", t.Turn, err)
		}

		_, err = tx.Exec(db.q(`INSERT INTO turns
			(reign_id, turn, crisis, options_json, effects_json, allocation_json, deltas_json, after_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			c.ReignID, t.Turn, t.Crisis.Description,
			cols[0], cols[1], cols[2], cols[3], cols[4],
		)
		if err != nil {
			return fmt.Errorf("insert turn %d: %w", t.Turn, err)
		}
	}

	for i, e := range c.Thread {
		_, err := tx.Exec(db.q(`INSERT INTO thread
			(reign_id, seq, speaker, recipient, message) VALUES (?, ?, ?, ?, ?)`),
			c.ReignID, i, e.Speaker, e.To, e.Message,
		)
		if err != nil {
			return fmt.Errorf("insert thread entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if err := db.SaveMeta(MetaLastReign, c.ReignID); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	n, err := db.CountReigns()
	if err != nil {
		return err
	}
	if err := db.SaveMeta(MetaReignsPlayed, strconv.Itoa(n)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("reign archived", "reign", c.ReignID, "turns", len(c.Turns), "thread", len(c.Thread))
	return nil
}

// encodeTurn returns the JSON columns of a turn row in schema order.
func encodeTurn(t engine.TurnRecord) ([5]string, error) {
	var cols [5]string
	for i, v := range []any{t.Crisis.Options, t.Effects, t.Allocation, t.Deltas, t.After} {
		raw, err := json.Marshal(v)
		if err != nil {
			return cols, err
		}
		cols[i] = string(raw)
	}
	return cols, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

type reignRow struct {
	ID          string `db:"id"`
	StartedAt   int64  `db:"started_at"`
	EndedAt     int64  `db:"ended_at"`
	Turns       int    `db:"turns"`
	Treasury    int    `db:"treasury"`
	Stability   int    `db:"stability"`
	Popularity  int    `db:"popularity"`
	Army        int    `db:"army"`
	RevealsJSON string `db:"reveals_json"`
}

// Reign is an archived reign summary.
type Reign struct {
	ID        string           `json:"id"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at,omitempty"`
	Turns     int              `json:"turns"`
	Final     kingdom.Stats    `json:"final"`
	Reveals   []council.Reveal `json:"reveals,omitempty"`
}

func (r reignRow) reign() (Reign, error) {
	out := Reign{
		ID:        r.ID,
		StartedAt: time.Unix(r.StartedAt, 0).UTC(),
		Turns:     r.Turns,
		Final: kingdom.Stats{
			Treasury:   r.Treasury,
			Stability:  r.Stability,
			Popularity: r.Popularity,
			Army:       r.Army,
		},
	}
	if r.EndedAt != 0 {
		out.EndedAt = time.Unix(r.EndedAt, 0).UTC()
	}
	if err := json.Unmarshal([]byte(r.RevealsJSON), &out.Reveals); err != nil {
		return Reign{}, fmt.Errorf("decode reveals for %s: %w", r.ID, err)
	}
	return out, nil
}

const reignColumns = `id, started_at, ended_at, turns, treasury, stability, popularity, army, reveals_json`

// ListReigns returns the most recently finished reigns first.
func (db *DB) ListReigns(limit int) ([]Reign, error) {
	var rows []reignRow
	err := db.conn.Select(&rows,
		db.q("SELECT "+reignColumns+" FROM reigns ORDER BY ended_at DESC, started_at DESC LIMIT ?"),
		limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]Reign, 0, len(rows))
	for _, r := range rows {
		reign, err := r.reign()
		if err != nil {
			return nil, err
		}
		out = append(out, reign)
	}
	return out, nil
}

// GetReign returns one archived reign.
func (db *DB) GetReign(id string) (Reign, error) {
	var rows []reignRow
	if err := db.conn.Select(&rows, db.q("SELECT "+reignColumns+" FROM reigns WHERE id = ?"), id); err != nil {
		return Reign{}, err
	}
	if len(rows) == 0 {
		return Reign{}, ErrReignNotFound
	}
	return rows[0].reign()
}

// CountReigns returns the number of archived reigns.
func (db *DB) CountReigns() (int, error) {
	var n int
	err := db.conn.Get(&n, "SELECT COUNT(*) FROM reigns")
	return n, err
}

// LoadThread returns a reign's council thread in order.
func (db *DB) LoadThread(reignID string) ([]council.Entry, error) {
	var rows []struct {
		Speaker   string `db:"speaker"`
		Recipient string `db:"recipient"`
		Message   string `db:"message"`
	}
	err := db.conn.Select(&rows,
		db.q("SELECT speaker, recipient, message FROM thread WHERE reign_id = ? ORDER BY seq"),
		reignID,
	)
	if err != nil {
		return nil, err
	}
	entries := make([]council.Entry, len(rows))
	for i, r := range rows {
		entries[i] = council.Entry{Speaker: r.Speaker, To: r.Recipient, Message: r.Message}
	}
	return entries, nil
}

// TurnSummary is one archived turn.
type TurnSummary struct {
	Turn       int             `json:"turn"`
	Crisis     string          `json:"crisis"`
	Options    []string        `json:"options"`
	Effects    []kingdom.Stats `json:"effects"`
	Allocation []int           `json:"allocation"`
	Deltas     kingdom.Stats   `json:"deltas"`
	After      kingdom.Stats   `json:"after"`
}

// LoadTurns returns a reign's resolved turns in order.
func (db *DB) LoadTurns(reignID string) ([]TurnSummary, error) {
	var rows []struct {
		Turn       int    `db:"turn"`
		Crisis     string `db:"crisis"`
		Options    string `db:"options_json"`
		Effects    string `db:"effects_json"`
		Allocation string `db:"allocation_json"`
		Deltas     string `db:"deltas_json"`
		After      string `db:"after_json"`
	}
	err := db.conn.Select(&rows,
		db.q(`SELECT turn, crisis, options_json, effects_json, allocation_json, deltas_json, after_json
			FROM turns WHERE reign_id = ? ORDER BY turn`),
		reignID,
	)
	if err != nil {
		return nil, err
	}

	out := make([]TurnSummary, len(rows))
	for i, r := range rows {
		t := TurnSummary{Turn: r.Turn, Crisis: r.Crisis}
		for _, f := range []struct {
			raw string
			dst any
		}{
			{r.Options, &t.Options},
			{r.Effects, &t.Effects},
			{r.Allocation, &t.Allocation},
			{r.Deltas, &t.Deltas},
			{r.After, &t.After},
		} {
			if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
				return nil, fmt.Errorf("decode turn %d: %w", r.Turn, err)
			}
		}
		out[i] = t
	}
	return out, nil
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		db.q("INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value"),
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, db.q("SELECT value FROM meta WHERE key = ?"), key)
	return value, err
}
