package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/betbot/copytrader/internal/domain"
	"github.com/betbot/copytrader/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_id      TEXT NOT NULL,
	wallet        TEXT NOT NULL,
	tx_hash       TEXT NOT NULL,
	condition_id  TEXT,
	asset         TEXT,
	side          TEXT,
	result        TEXT NOT NULL,
	reason        TEXT,
	requested_usd REAL,
	filled_tokens REAL,
	attempts      INTEGER,
	synthetic     INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_wallet ON executions(wallet);
CREATE INDEX IF NOT EXISTS idx_executions_result ON executions(result);
`

// Store 执行审计日志（SQLite）
// 审计写入失败只记日志，绝不阻塞交易执行。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）审计数据库
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "audit: open db")
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "audit: init schema")
	}
	return &Store{db: db}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordExecution 记录一条执行终态
func (s *Store) RecordExecution(ctx context.Context, t *domain.QueuedTrade, requestedUSD float64) {
	synthetic := 0
	if t.IsSynthetic() {
		synthetic = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(trade_id, wallet, tx_hash, condition_id, asset, side, result, reason,
			 requested_usd, filled_tokens, attempts, synthetic, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Wallet, t.TransactionHash, t.ConditionID, t.Asset, string(t.Side),
		string(t.Result), t.Reason, requestedUSD, t.FilledTokens, t.Attempts,
		synthetic, time.Now().UTC(),
	)
	if err != nil {
		logger.Warnf("审计写入失败 trade=%s: %v", t.ID, err)
	}
}

// CountByResult 按结果统计执行条数（运维排查用）
func (s *Store) CountByResult(ctx context.Context, result domain.Result) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions WHERE result = ?`, string(result)).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "audit: count")
	}
	return n, nil
}
