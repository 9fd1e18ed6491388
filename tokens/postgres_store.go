package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createKVTable = `
create table if not exists bridge_kv (
  key        text primary key,
  value      text not null,
  updated_at timestamptz not null default now()
);`

const upsertKV = `
insert into bridge_kv (key, value, updated_at)
values ($1, $2, now())
on conflict (key) do update set value = excluded.value, updated_at = excluded.updated_at;`

type kvQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore хранит кэш токенов в таблице bridge_kv.
// SetPair отправляет оба upsert одним pgx.Batch: вне явной транзакции
// сервер выполняет его как одну неявную транзакцию.
type PostgresStore struct {
	db      kvQuerier
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStore подключается к базе и создаёт таблицу, если её нет.
func NewPostgresStore(ctx context.Context, dsn string, timeout time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}

	dbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := pool.Ping(dbCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if _, err := pool.Exec(dbCtx, createKVTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: create table: %w", err)
	}

	store := newPostgresStore(pool, timeout)
	store.pool = pool
	return store, nil
}

func newPostgresStore(db kvQuerier, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

// Close закрывает пул соединений.
func (store *PostgresStore) Close() {
	if store.pool != nil {
		store.pool.Close()
	}
}

func (store *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	dbCtx, cancel := context.WithTimeout(ctx, store.timeout)
	defer cancel()

	var value string
	err := store.db.QueryRow(dbCtx, `select value from bridge_kv where key = $1;`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres store: get %s: %w", key, err)
	}
	return value, true, nil
}

func (store *PostgresStore) Set(ctx context.Context, key, value string) error {
	dbCtx, cancel := context.WithTimeout(ctx, store.timeout)
	defer cancel()

	if _, err := store.db.Exec(dbCtx, upsertKV, key, value); err != nil {
		return fmt.Errorf("postgres store: set %s: %w", key, err)
	}
	return nil
}

func (store *PostgresStore) SetPair(ctx context.Context, key1, value1, key2, value2 string) error {
	dbCtx, cancel := context.WithTimeout(ctx, store.timeout)
	defer cancel()

	batch := &pgx.Batch{}
	batch.Queue(upsertKV, key1, value1)
	batch.Queue(upsertKV, key2, value2)

	br := store.db.SendBatch(dbCtx, batch)
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres store: set pair %s %s: %w", key1, key2, err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
