package queue

import (
	"encoding/json"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/betbot/copytrader/internal/domain"
)

// 队列记录的键空间：trade/<wallet>/<txhash>
// txhash 在钱包分区内唯一，入队天然幂等。
const keyPrefix = "trade/"

var (
	// ErrAlreadyClaimed 记录已被认领（或已终结），本次认领失败
	ErrAlreadyClaimed = errors.New("queue: record already claimed")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("queue: record not found")
)

// Store 基于 Badger 的持久化交易队列
// Listener 写入，执行引擎认领并终结；记录永不删除，终态保留用于审计。
type Store struct {
	db *badger.DB
}

// OpenOptions 打开选项
type OpenOptions struct {
	Path     string
	InMemory bool // 测试用
	ReadOnly bool
}

// Open 打开队列存储
func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("queue: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly).
		WithInMemory(opts.InMemory)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, "queue: open badger")
	}
	return &Store{db: db}, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func recordKey(wallet, txHash string) []byte {
	return []byte(keyPrefix + strings.ToLower(wallet) + "/" + txHash)
}

// Enqueue 幂等入队：同一钱包分区内相同 txhash 只会有一条记录
// 返回 true 表示新插入，false 表示已存在（重复投递被忽略）。
func (s *Store) Enqueue(t *domain.QueuedTrade) (bool, error) {
	key := recordKey(t.Wallet, t.TransactionHash)
	inserted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil // 已存在
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		val, err := json.Marshal(t)
		if err != nil {
			return err
		}
		inserted = true
		return txn.Set(key, val)
	})
	if err != nil {
		// 并发冲突意味着另一个写入者刚插入了同一条记录
		if errors.Is(err, badger.ErrConflict) {
			return false, nil
		}
		return false, errors.Wrap(err, "queue: enqueue")
	}
	return inserted, nil
}

// Exists 检查记录是否存在（去重用）
func (s *Store) Exists(wallet, txHash string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(wallet, txHash))
		if err == nil {
			found = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return found, err
}

// Get 读取单条记录
func (s *Store) Get(wallet, txHash string) (*domain.QueuedTrade, error) {
	var out *domain.QueuedTrade
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(wallet, txHash))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var t domain.QueuedTrade
			if err := json.Unmarshal(val, &t); err != nil {
				return err
			}
			out = &t
			return nil
		})
	})
	return out, err
}

// Claim 认领记录：unclaimed → claimed 的 CAS，attempts 置 1
// 已认领或已终结的记录返回 ErrAlreadyClaimed；Badger 的事务冲突
// 同样映射为 ErrAlreadyClaimed，保证并发轮询下至多一次执行。
func (s *Store) Claim(wallet, txHash string) (*domain.QueuedTrade, error) {
	var claimed *domain.QueuedTrade
	err := s.db.Update(func(txn *badger.Txn) error {
		key := recordKey(wallet, txHash)
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		var t domain.QueuedTrade
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &t)
		}); err != nil {
			return err
		}
		if t.Claimed || t.Processed {
			return ErrAlreadyClaimed
		}
		t.Claimed = true
		t.Attempts = 1
		val, err := json.Marshal(&t)
		if err != nil {
			return err
		}
		if err := txn.Set(key, val); err != nil {
			return err
		}
		claimed = &t
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}
	return claimed, nil
}

// Finalize 终结记录：写入终态与原因，此后不再被处理
func (s *Store) Finalize(t *domain.QueuedTrade, result domain.Result, reason string) error {
	t.Processed = true
	t.Result = result
	t.Reason = reason
	return s.put(t)
}

// BumpAttempt 增加尝试计数（重试路径）
func (s *Store) BumpAttempt(t *domain.QueuedTrade) error {
	t.Attempts++
	return s.put(t)
}

// SaveProgress 写回累计成交进度（部分成交审计）
func (s *Store) SaveProgress(t *domain.QueuedTrade) error {
	return s.put(t)
}

func (s *Store) put(t *domain.QueuedTrade) error {
	val, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(t.Wallet, t.TransactionHash), val)
	})
}

// ListPending 列出所有未认领且未终结的记录，按时间升序
func (s *Store) ListPending() ([]*domain.QueuedTrade, error) {
	var out []*domain.QueuedTrade
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var t domain.QueuedTrade
				if err := json.Unmarshal(val, &t); err != nil {
					return err
				}
				if !t.Claimed && !t.Processed {
					out = append(out, &t)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// MarkAllPendingProcessed 冷启动策略：把所有未认领记录标记为已处理
// 历史积压明确不跟单，返回标记的数量。
func (s *Store) MarkAllPendingProcessed() (int, error) {
	pending, err := s.ListPending()
	if err != nil {
		return 0, err
	}
	for _, t := range pending {
		t.Claimed = true
		if err := s.Finalize(t, domain.ResultColdStart, "startup backlog, not copied"); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}
