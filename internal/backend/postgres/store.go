// Package postgres is the Postgres backend. Rows live in the bookmarks
// table and a trigger publishes every change with pg_notify on a channel
// dedicated to the row's owner.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// orderable lists the columns a Query may sort on.
var orderable = map[string]bool{"created_at": true, "title": true}

// Store implements backend.Backend with a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// Open parses dsn, sizes the pool and checks connectivity.
func Open(ctx context.Context, dsn string, maxConns int, log logger.Logger) (*Store, error) {
	if dsn == "" {
		return nil, ErrNoDatabaseURL
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		// one connection stays hijacked by each live subscription
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info("connected to postgres", logger.Int("max_conns", int(cfg.MaxConns)))
	return &Store{pool: pool, log: log}, nil
}

var _ backend.Backend = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Select(ctx context.Context, q backend.Query) ([]domain.Bookmark, error) {
	sql, err := selectSQL(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, q.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("select bookmarks: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Bookmark, error) {
		var bm domain.Bookmark
		err := row.Scan(&bm.ID, &bm.OwnerID, &bm.Title, &bm.URL, &bm.CreatedAt)
		return bm, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan bookmarks: %w", err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, table string, row domain.NewBookmark) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bookmarks (user_id, title, url) VALUES ($1, $2, $3)`,
		row.OwnerID, row.Title, row.URL)
	if err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, ids []string) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM bookmarks WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return fmt.Errorf("delete bookmarks: %w", err)
	}
	return nil
}

// selectSQL builds the owner-scoped query. Only whitelisted columns reach the SQL text.
func selectSQL(q backend.Query) (string, error) {
	if err := backend.CheckTable(q.Table); err != nil {
		return "", err
	}
	col := q.OrderBy
	if col == "" {
		col = "created_at"
	}
	if !orderable[col] {
		return "", fmt.Errorf("cannot order bookmarks by %q", col)
	}
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	return fmt.Sprintf(
		`SELECT id::text, user_id, title, url, created_at FROM bookmarks WHERE user_id = $1 ORDER BY %s %s, id %s`,
		col, dir, dir), nil
}
