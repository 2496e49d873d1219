package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/copytrader/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(OpenOptions{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTrade(wallet, txHash string, ts time.Time) *domain.QueuedTrade {
	return &domain.QueuedTrade{
		ID:              "id-" + txHash,
		Wallet:          wallet,
		Type:            domain.ActivityTrade,
		ConditionID:     "0xcond",
		Asset:           "123456",
		Side:            domain.SideBuy,
		Size:            10,
		Price:           0.5,
		NotionalUSD:     5,
		TransactionHash: txHash,
		Timestamp:       ts,
	}
}

func TestEnqueue_Idempotent(t *testing.T) {
	s := openTestStore(t)

	trade := newTrade("0xabc", "0xtx1", time.Now())
	inserted, err := s.Enqueue(trade)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first enqueue to insert")
	}

	// 同一钱包同一交易哈希重复入队是无操作
	dup := newTrade("0xabc", "0xtx1", time.Now())
	dup.NotionalUSD = 999
	inserted, err = s.Enqueue(dup)
	if err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate enqueue to be a no-op")
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending record, got %d", len(pending))
	}
	if pending[0].NotionalUSD != 5 {
		t.Fatalf("duplicate overwrote original record: %+v", pending[0])
	}
}

func TestEnqueue_WalletCaseInsensitive(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Enqueue(newTrade("0xABC", "0xtx1", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	inserted, err := s.Enqueue(newTrade("0xabc", "0xtx1", time.Now()))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if inserted {
		t.Fatalf("expected wallet casing not to split the dedup keyspace")
	}
}

func TestClaim_AtMostOnce(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Enqueue(newTrade("0xabc", "0xtx1", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Claim("0xabc", "0xtx1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
			continue
		}
		if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", won)
	}
}

func TestClaim_SetsState(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Enqueue(newTrade("0xabc", "0xtx1", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := s.Claim("0xabc", "0xtx1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed.Claimed || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed state: %+v", claimed)
	}

	// 已认领的记录不再出现在待执行列表
	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending records, got %d", len(pending))
	}

	if _, err := s.Claim("0xabc", "0xmissing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFinalize_Terminal(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Enqueue(newTrade("0xabc", "0xtx1", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := s.Claim("0xabc", "0xtx1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Finalize(claimed, domain.ResultSuccess, "filled"); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// 终态保留用于审计，不会从存储删除
	got, err := s.Get("0xabc", "0xtx1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Terminal() || got.Result != domain.ResultSuccess || got.Reason != "filled" {
		t.Fatalf("unexpected finalized record: %+v", got)
	}

	if _, err := s.Claim("0xabc", "0xtx1"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected finalized record to reject claims, got %v", err)
	}
}

func TestListPending_SortedByTimestamp(t *testing.T) {
	s := openTestStore(t)

	base := time.Now()
	// 乱序入队
	for _, offset := range []int{3, 1, 2, 0} {
		trade := newTrade("0xabc", fmt.Sprintf("0xtx%d", offset), base.Add(time.Duration(offset)*time.Minute))
		if _, err := s.Enqueue(trade); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 4 {
		t.Fatalf("expected 4 pending, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].Timestamp.Before(pending[i-1].Timestamp) {
			t.Fatalf("pending records not sorted ascending: %v before %v",
				pending[i].Timestamp, pending[i-1].Timestamp)
		}
	}
}

func TestMarkAllPendingProcessed(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.Enqueue(newTrade("0xabc", fmt.Sprintf("0xtx%d", i), time.Now())); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	// 已终结的记录不受冷启动影响
	claimed, err := s.Claim("0xabc", "0xtx0")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Finalize(claimed, domain.ResultSuccess, "filled"); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	n, err := s.MarkAllPendingProcessed()
	if err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records marked, got %d", n)
	}

	got, err := s.Get("0xabc", "0xtx1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != domain.ResultColdStart {
		t.Fatalf("expected cold_start result, got %q", got.Result)
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue after cold start, got %d", len(pending))
	}
}
