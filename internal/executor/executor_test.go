package executor

import (
	"context"
	"testing"
	"time"

	"github.com/betbot/copytrader/clob/types"
	"github.com/betbot/copytrader/internal/domain"
	"github.com/betbot/copytrader/internal/queue"
	"github.com/betbot/copytrader/internal/strategy"
)

// fakeExchange 固定订单簿和下单响应的交易所替身
type fakeExchange struct {
	book   *types.OrderBookSummary
	resp   *types.OrderResponse
	err    error
	orders []*types.UserMarketOrder
}

func (f *fakeExchange) GetOrderBook(_ context.Context, _ string) (*types.OrderBookSummary, error) {
	return f.book, nil
}

func (f *fakeExchange) PlaceMarketOrder(_ context.Context, order *types.UserMarketOrder) (*types.OrderResponse, error) {
	f.orders = append(f.orders, order)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeBalance struct {
	balance float64
	err     error
}

func (f *fakeBalance) USDCBalance(_ context.Context) (float64, error) { return f.balance, f.err }
func (f *fakeBalance) Invalidate()                                    {}

type fakePositions struct {
	list      []domain.Position
	refreshed int
}

func (f *fakePositions) Snapshot() []domain.Position { return f.list }
func (f *fakePositions) Refresh(_ context.Context)   { f.refreshed++ }

type fakeResolver struct {
	ids []string
}

func (f *fakeResolver) Candidates(_ context.Context, _ *domain.QueuedTrade, _ []domain.Position) []string {
	return f.ids
}

func testStore(t *testing.T) *queue.Store {
	t.Helper()
	s, err := queue.Open(queue.OpenOptions{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func claimedTrade(t *testing.T, s *queue.Store, trade *domain.QueuedTrade) *domain.QueuedTrade {
	t.Helper()
	if _, err := s.Enqueue(trade); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := s.Claim(trade.Wallet, trade.TransactionHash)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return claimed
}

func buyTrade(notional float64) *domain.QueuedTrade {
	return &domain.QueuedTrade{
		ID:              "id-1",
		Wallet:          "0xabc",
		Type:            domain.ActivityTrade,
		ConditionID:     "0xcond",
		Asset:           "123456",
		Side:            domain.SideBuy,
		Price:           0.5,
		NotionalUSD:     notional,
		TransactionHash: "0xtx1",
		Timestamp:       time.Now(),
	}
}

func fixedStrategy(amount float64) *strategy.Config {
	return &strategy.Config{
		Kind:         strategy.KindFixed,
		CopySize:     amount,
		MinOrderSize: 1,
		MaxOrderSize: 1000,
	}
}

func newTestEngine(t *testing.T, exchange *fakeExchange, balance *fakeBalance,
	positions *fakePositions, resolver *fakeResolver, strat *strategy.Config) (*Engine, *queue.Store) {
	t.Helper()
	store := testStore(t)
	return New(Config{}, store, exchange, balance, positions, resolver, strat, nil), store
}

func TestIsInsufficientFunds(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"not enough balance / allowance", true},
		{"Not Enough Balance", true},
		{"order exceeds allowance", true},
		{"market closed", false},
		{"fok order not filled", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsInsufficientFunds(tc.msg); got != tc.want {
			t.Fatalf("msg=%q: got %v want %v", tc.msg, got, tc.want)
		}
	}
}

func TestExecute_NoCandidates_Skipped(t *testing.T) {
	exchange := &fakeExchange{}
	engine, store := newTestEngine(t, exchange, &fakeBalance{balance: 100},
		&fakePositions{}, &fakeResolver{}, fixedStrategy(10))

	trade := claimedTrade(t, store, buyTrade(5))
	engine.execute(context.Background(), trade)

	got, err := store.Get(trade.Wallet, trade.TransactionHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != domain.ResultSkipped {
		t.Fatalf("expected skipped, got %q (%s)", got.Result, got.Reason)
	}
	if len(exchange.orders) != 0 {
		t.Fatalf("expected no orders placed")
	}
}

func TestExecuteBuy_WalksAsks(t *testing.T) {
	// 卖一 $0.50 x 4 份 = 每片 $2，$10 目标需要 5 片
	exchange := &fakeExchange{
		book: &types.OrderBookSummary{
			Asks:     []types.OrderSummary{{Price: "0.50", Size: "4"}},
			TickSize: "0.01",
		},
		resp: &types.OrderResponse{Success: true},
	}
	positions := &fakePositions{}
	engine, store := newTestEngine(t, exchange, &fakeBalance{balance: 100},
		positions, &fakeResolver{ids: []string{"123456"}}, fixedStrategy(10))

	trade := claimedTrade(t, store, buyTrade(100))
	engine.execute(context.Background(), trade)

	got, err := store.Get(trade.Wallet, trade.TransactionHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != domain.ResultSuccess {
		t.Fatalf("expected success, got %q (%s)", got.Result, got.Reason)
	}
	if len(exchange.orders) != 5 {
		t.Fatalf("expected 5 slices, got %d", len(exchange.orders))
	}
	for _, o := range exchange.orders {
		if o.Side != types.SideBuy || o.OrderType != types.OrderTypeFOK {
			t.Fatalf("unexpected order: %+v", o)
		}
		if o.Amount != 2.0 {
			t.Fatalf("expected $2 slices, got %f", o.Amount)
		}
	}
	// $10 @ $0.50 = 20 代币
	if got.FilledTokens != 20 {
		t.Fatalf("expected 20 tokens filled, got %f", got.FilledTokens)
	}
	if positions.refreshed == 0 {
		t.Fatalf("expected position refresh after fill")
	}
}

func TestExecuteBuy_InsufficientFundsAborts(t *testing.T) {
	exchange := &fakeExchange{
		book: &types.OrderBookSummary{
			Asks:     []types.OrderSummary{{Price: "0.50", Size: "4"}},
			TickSize: "0.01",
		},
		resp: &types.OrderResponse{Success: false, ErrorMsg: "not enough balance / allowance"},
	}
	engine, store := newTestEngine(t, exchange, &fakeBalance{balance: 100},
		&fakePositions{}, &fakeResolver{ids: []string{"123456"}}, fixedStrategy(10))

	trade := claimedTrade(t, store, buyTrade(100))
	engine.execute(context.Background(), trade)

	got, err := store.Get(trade.Wallet, trade.TransactionHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != domain.ResultAborted {
		t.Fatalf("expected aborted, got %q (%s)", got.Result, got.Reason)
	}
	// 余额不足不消耗重试：第一次拒单就终结
	if len(exchange.orders) != 1 {
		t.Fatalf("expected single attempt, got %d", len(exchange.orders))
	}
}

func TestExecuteBuy_SliceLimitedToAskDepth(t *testing.T) {
	// 卖一只有 $0.50 深度：每片不抬高到最小金额，按深度吃 3 片
	exchange := &fakeExchange{
		book: &types.OrderBookSummary{
			Asks:     []types.OrderSummary{{Price: "0.50", Size: "1"}},
			TickSize: "0.01",
		},
		resp: &types.OrderResponse{Success: true},
	}
	engine, store := newTestEngine(t, exchange, &fakeBalance{balance: 100},
		&fakePositions{}, &fakeResolver{ids: []string{"123456"}}, fixedStrategy(2))

	trade := claimedTrade(t, store, buyTrade(100))
	engine.execute(context.Background(), trade)

	got, err := store.Get(trade.Wallet, trade.TransactionHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != domain.ResultSuccess {
		t.Fatalf("expected success, got %q (%s)", got.Result, got.Reason)
	}
	if len(exchange.orders) != 3 {
		t.Fatalf("expected 3 slices, got %d", len(exchange.orders))
	}
	for _, o := range exchange.orders {
		if o.Amount != 0.5 {
			t.Fatalf("expected $0.50 slices capped by ask depth, got %f", o.Amount)
		}
	}
	if got.FilledTokens != 3 {
		t.Fatalf("expected 3 tokens filled, got %f", got.FilledTokens)
	}
}

func TestFillBuy_AbortsBeforeOverdraft(t *testing.T) {
	exchange := &fakeExchange{
		book: &types.OrderBookSummary{
			Asks:     []types.OrderSummary{{Price: "0.50", Size: "4"}},
			TickSize: "0.01",
		},
		resp: &types.OrderResponse{Success: true},
	}
	engine, store := newTestEngine(t, exchange, &fakeBalance{balance: 100},
		&fakePositions{}, &fakeResolver{ids: []string{"123456"}}, fixedStrategy(10))

	trade := claimedTrade(t, store, buyTrade(100))
	// 目标金额超出余额：第一片就会透支，必须在下单前中止
	engine.fillBuy(context.Background(), trade, "123456", exchange.book, 10, 1.5)

	got, err := store.Get(trade.Wallet, trade.TransactionHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != domain.ResultAborted {
		t.Fatalf("expected aborted, got %q (%s)", got.Result, got.Reason)
	}
	if len(exchange.orders) != 0 {
		t.Fatalf("expected no orders placed, got %d", len(exchange.orders))
	}
	// 下单前的中止不消耗重试计数
	if got.Attempts != 1 {
		t.Fatalf("expected attempts untouched at 1, got %d", got.Attempts)
	}
}

func TestExecuteBuy_RetryLimitExhausted(t *testing.T) {
	exchange := &fakeExchange{
		book: &types.OrderBookSummary{
			Asks:     []types.OrderSummary{{Price: "0.50", Size: "4"}},
			TickSize: "0.01",
		},
		resp: &types.OrderResponse{Success: false, ErrorMsg: "fok order not filled"},
	}
	engine, store := newTestEngine(t, exchange, &fakeBalance{balance: 100},
		&fakePositions{}, &fakeResolver{ids: []string{"123456"}}, fixedStrategy(10))

	trade := claimedTrade(t, store, buyTrade(100))
	engine.execute(context.Background(), trade)

	got, err := store.Get(trade.Wallet, trade.TransactionHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != domain.ResultExhausted {
		t.Fatalf("expected exhausted, got %q (%s)", got.Result, got.Reason)
	}
	// Claim 置 Attempts=1，重试上限 3：第 1、2、3 次下单后计数到 4 停止
	if len(exchange.orders) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(exchange.orders))
	}
}

func TestExecuteBuy_BalanceLookupFailure(t *testing.T) {
	exchange := &fakeExchange{
		book: &types.OrderBookSummary{
			Asks:     []types.OrderSummary{{Price: "0.50", Size: "4"}},
			TickSize: "0.01",
		},
	}
	engine, store := newTestEngine(t, exchange, &fakeBalance{err: context.DeadlineExceeded},
		&fakePositions{}, &fakeResolver{ids: []string{"123456"}}, fixedStrategy(10))

	trade := claimedTrade(t, store, buyTrade(100))
	engine.execute(context.Background(), trade)

	got, err := store.Get(trade.Wallet, trade.TransactionHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// 余额都查不到就不能下单，记录不能卡在已认领状态
	if got.Result != domain.ResultExhausted {
		t.Fatalf("expected exhausted, got %q (%s)", got.Result, got.Reason)
	}
}

func TestExecuteSell_LiquidatesPosition(t *testing.T) {
	// 买一 $0.40 x 2 份：5 份持仓需要 3 片 (2+2+1)
	exchange := &fakeExchange{
		book: &types.OrderBookSummary{
			Bids:     []types.OrderSummary{{Price: "0.40", Size: "2"}},
			TickSize: "0.01",
		},
		resp: &types.OrderResponse{Success: true},
	}
	positions := &fakePositions{list: []domain.Position{
		{Asset: "123456", ConditionID: "0xcond", Size: 5, CurrentValue: 2},
	}}
	engine, store := newTestEngine(t, exchange, &fakeBalance{balance: 100},
		positions, &fakeResolver{ids: []string{"123456"}}, fixedStrategy(10))

	trade := buyTrade(100)
	trade.Side = domain.SideSell
	claimed := claimedTrade(t, store, trade)
	engine.execute(context.Background(), claimed)

	got, err := store.Get(trade.Wallet, trade.TransactionHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != domain.ResultSuccess {
		t.Fatalf("expected success, got %q (%s)", got.Result, got.Reason)
	}
	if len(exchange.orders) != 3 {
		t.Fatalf("expected 3 slices, got %d", len(exchange.orders))
	}
	for _, o := range exchange.orders {
		if o.Side != types.SideSell {
			t.Fatalf("expected SELL orders, got %+v", o)
		}
	}
	if got.FilledTokens != 5 {
		t.Fatalf("expected full position sold, got %f", got.FilledTokens)
	}
}

func TestExecuteSell_NoPositionSkipped(t *testing.T) {
	exchange := &fakeExchange{
		book: &types.OrderBookSummary{
			Bids:     []types.OrderSummary{{Price: "0.40", Size: "2"}},
			TickSize: "0.01",
		},
	}
	// 持仓低于最小代币数：不发尘埃单
	positions := &fakePositions{list: []domain.Position{
		{Asset: "123456", ConditionID: "0xcond", Size: 0.5},
	}}
	engine, store := newTestEngine(t, exchange, &fakeBalance{balance: 100},
		positions, &fakeResolver{ids: []string{"123456"}}, fixedStrategy(10))

	trade := buyTrade(100)
	trade.Side = domain.SideSell
	claimed := claimedTrade(t, store, trade)
	engine.execute(context.Background(), claimed)

	got, err := store.Get(trade.Wallet, trade.TransactionHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != domain.ResultSkipped {
		t.Fatalf("expected skipped, got %q (%s)", got.Result, got.Reason)
	}
	if len(exchange.orders) != 0 {
		t.Fatalf("expected no orders placed")
	}
}

func TestPoll_AggregatesSmallBuys(t *testing.T) {
	exchange := &fakeExchange{
		book: &types.OrderBookSummary{
			Asks:     []types.OrderSummary{{Price: "0.50", Size: "100"}},
			TickSize: "0.01",
		},
		resp: &types.OrderResponse{Success: true},
	}
	store := testStore(t)
	// 1ns 窗口：第一次轮询入桶，第二次轮询即到期
	engine := New(Config{AggregationWindow: time.Nanosecond}, store, exchange,
		&fakeBalance{balance: 100}, &fakePositions{},
		&fakeResolver{ids: []string{"123456"}}, fixedStrategy(10), nil)

	// 三笔低于交易所最小金额的 BUY：先进聚合桶，不直接执行
	for i, tx := range []string{"0xtx1", "0xtx2", "0xtx3"} {
		trade := buyTrade(0.40)
		trade.ID = trade.ID + tx
		trade.TransactionHash = tx
		trade.Timestamp = time.Now().Add(time.Duration(i) * time.Second)
		if _, err := store.Enqueue(trade); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx := context.Background()
	engine.poll(ctx)
	if len(exchange.orders) != 0 {
		t.Fatalf("expected buffered trades not to execute immediately")
	}
	if engine.buffer.Size() != 1 {
		t.Fatalf("expected one aggregation bucket, got %d", engine.buffer.Size())
	}

	// 窗口到期后的下一个轮询：合成交易执行，成员继承终态
	engine.poll(ctx)

	if len(exchange.orders) == 0 {
		t.Fatalf("expected synthetic trade to execute after window expiry")
	}
	for _, tx := range []string{"0xtx1", "0xtx2", "0xtx3"} {
		got, err := store.Get("0xabc", tx)
		if err != nil {
			t.Fatalf("get %s: %v", tx, err)
		}
		if got.Result != domain.ResultSuccess {
			t.Fatalf("expected member %s to inherit success, got %q (%s)", tx, got.Result, got.Reason)
		}
	}
}

func TestHandleFlush_InterruptedSyntheticLeavesMembersOpen(t *testing.T) {
	exchange := &fakeExchange{
		book: &types.OrderBookSummary{
			Asks:     []types.OrderSummary{{Price: "0.50", Size: "100"}},
			TickSize: "0.01",
		},
		resp: &types.OrderResponse{Success: true},
	}
	store := testStore(t)
	engine := New(Config{AggregationWindow: time.Nanosecond}, store, exchange,
		&fakeBalance{balance: 100}, &fakePositions{},
		&fakeResolver{ids: []string{"123456"}}, fixedStrategy(10), nil)

	for _, tx := range []string{"0xtx1", "0xtx2", "0xtx3"} {
		trade := buyTrade(0.40)
		trade.ID = trade.ID + tx
		trade.TransactionHash = tx
		if _, err := store.Enqueue(trade); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	engine.poll(context.Background())

	// 合成交易执行被取消中断：没有终态，成员不能被写成空结果
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	engine.poll(cancelled)

	if len(exchange.orders) != 0 {
		t.Fatalf("expected no orders under a cancelled context, got %d", len(exchange.orders))
	}
	for _, tx := range []string{"0xtx1", "0xtx2", "0xtx3"} {
		got, err := store.Get("0xabc", tx)
		if err != nil {
			t.Fatalf("get %s: %v", tx, err)
		}
		if got.Processed {
			t.Fatalf("member %s must not be finalized with result %q", tx, got.Result)
		}
		if got.Result != "" {
			t.Fatalf("member %s has premature result %q", tx, got.Result)
		}
	}
}
