package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"clickstream/internal/model"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store on a keyed Postgres table with primary key (user_id, sort_key).
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore connects to dsn and creates table when it does not exist.
func NewPostgresStore(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	s := &PostgresStore{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ready pings the database.
func (s *PostgresStore) Ready(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "select 1").Scan(&one)
}

// schemaDDL declares sort_key with the "C" collation so range scans and
// ordering compare bytes, as the Pebble and Badger backends do.
func schemaDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
  user_id       text        NOT NULL,
  sort_key      text        COLLATE "C" NOT NULL,
  txn_timestamp timestamptz NOT NULL,
  event_time    timestamptz NOT NULL,
  event_type    text        NOT NULL,
  product_id    text        NOT NULL,
  category_id   text        NOT NULL,
  category_code text        NOT NULL DEFAULT '',
  brand         text        NOT NULL DEFAULT '',
  price         numeric     NOT NULL DEFAULT 0,
  user_session  text        NOT NULL,
  PRIMARY KEY (user_id, sort_key)
)`
}

// windowSQL repeats the collation so tables created before it was declared
// still compare sort keys bytewise.
func windowSQL(table string) string {
	return `SELECT ` + pgColumns + ` FROM ` + table +
		` WHERE user_id = $1 AND sort_key COLLATE "C" >= $2 ORDER BY sort_key COLLATE "C"`
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL(s.table)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

const pgColumns = "user_id, sort_key, txn_timestamp, event_time, event_type, product_id, category_id, category_code, brand, price::text, user_session"

func (s *PostgresStore) Put(ctx context.Context, ev model.Event) error {
	if err := ValidateKey(ev); err != nil {
		return err
	}
	sql := `INSERT INTO ` + s.table + ` (user_id, sort_key, txn_timestamp, event_time, event_type, product_id, category_id, category_code, brand, price, user_session)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric,$11)`
	_, err := s.pool.Exec(ctx, sql,
		ev.UserID, ev.SortKey, ev.TxnTimestamp, ev.EventTime, string(ev.EventType), ev.ProductID,
		ev.CategoryID, ev.CategoryCode, ev.Brand, ev.Price.String(), ev.UserSession)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, ev.UserID, ev.SortKey)
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, userID string, since time.Time) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, windowSQL(s.table), userID, FormatTimestamp(since))
	if err != nil {
		return nil, fmt.Errorf("query window: %w", err)
	}
	return collectRows(rows, nil)
}

func (s *PostgresStore) Scan(ctx context.Context, pred Predicate) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgColumns+` FROM `+s.table+` ORDER BY user_id, sort_key COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return collectRows(rows, pred)
}

func collectRows(rows pgx.Rows, pred Predicate) ([]model.Event, error) {
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var (
			ev    model.Event
			typ   string
			price string
		)
		if err := rows.Scan(&ev.UserID, &ev.SortKey, &ev.TxnTimestamp, &ev.EventTime, &typ, &ev.ProductID,
			&ev.CategoryID, &ev.CategoryCode, &ev.Brand, &price, &ev.UserSession); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ev.EventType = model.EventType(typ)
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		ev.Price = p
		// timestamptz keeps microseconds; the sort key has the full stamp.
		if t, ok := TimestampFromSortKey(ev.SortKey); ok {
			ev.TxnTimestamp = t
		}
		ev.TxnTimestamp = ev.TxnTimestamp.UTC()
		ev.EventTime = ev.EventTime.UTC()
		if pred == nil || pred(ev) {
			out = append(out, ev)
		}
	}
	return out, rows.Err()
}
