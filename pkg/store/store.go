// Package store は生成履歴の記録と利用枠の判定を database/sql 上に実装します。
//
// DSN が postgres:// または postgresql:// で始まる場合は pgx ドライバ、
// それ以外は SQLite (modernc.org/sqlite) として開きます。
//
//	st, err := store.Open(ctx, "spritegen.db", store.Limits{DailyFrameLimit: 200})
//	defer st.Close()
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) driver() string {
	if d == dialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS generation_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    concept TEXT NOT NULL,
    style TEXT NOT NULL,
    frame_count INTEGER NOT NULL,
    canvas_size INTEGER NOT NULL,
    background TEXT NOT NULL,
    started_at BIGINT NOT NULL,
    completed_at BIGINT,
    success INTEGER,
    duration_ms BIGINT,
    error TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_logs_user_started
    ON generation_logs(user_id, started_at)`,
}

// Limits は利用枠の上限です。0 は無制限を表します。
type Limits struct {
	DailyFrameLimit int
	MaxCanvasSize   int
}

// Store は生成履歴と利用枠を扱います。プロセス起動時に Open し、終了時に Close します。
type Store struct {
	db      *sql.DB
	dialect dialect
	limits  Limits
	now     func() time.Time
}

// Open はデータベースに接続し、スキーマを適用して疎通を確認します。
func Open(ctx context.Context, dsn string, limits Limits) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}

	d := detectDialect(dsn)
	db, err := sql.Open(d.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if d == dialectSQLite && isMemoryDSN(dsn) {
		// :memory: は接続ごとに別のデータベースになる
		db.SetMaxOpenConns(1)
	}

	st, err := newStore(ctx, db, d, limits)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

func newStore(ctx context.Context, db *sql.DB, d dialect, limits Limits) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if d == dialectSQLite {
		for _, p := range []string{"PRAGMA busy_timeout = 10000", "PRAGMA journal_mode = WAL"} {
			if _, err := db.ExecContext(ctx, p); err != nil {
				return nil, fmt.Errorf("store: %s: %w", p, err)
			}
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("store: apply schema: %w", err)
		}
	}
	return &Store{db: db, dialect: d, limits: limits, now: time.Now}, nil
}

// Close は接続を閉じます。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はヘルスチェック用の疎通確認です。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, rebind(s.dialect, query), args...)
}

func detectDialect(dsn string) dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return dialectPostgres
	}
	return dialectSQLite
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// rebind は ? プレースホルダーを PostgreSQL の $n 形式に置き換えます。
func rebind(d dialect, query string) string {
	if d != dialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
