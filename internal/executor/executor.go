package executor

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/copytrader/clob/types"
	"github.com/betbot/copytrader/internal/aggregator"
	"github.com/betbot/copytrader/internal/audit"
	"github.com/betbot/copytrader/internal/domain"
	"github.com/betbot/copytrader/internal/queue"
	"github.com/betbot/copytrader/internal/strategy"
	"github.com/betbot/copytrader/pkg/logger"
)

// Exchange 下单所需的交易所能力
type Exchange interface {
	GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBookSummary, error)
	PlaceMarketOrder(ctx context.Context, order *types.UserMarketOrder) (*types.OrderResponse, error)
}

// BalanceSource 余额来源
type BalanceSource interface {
	USDCBalance(ctx context.Context) (float64, error)
	Invalidate()
}

// PositionSource 自有仓位快照来源
type PositionSource interface {
	Snapshot() []domain.Position
	Refresh(ctx context.Context)
}

// CandidateResolver instrument 候选解析
type CandidateResolver interface {
	Candidates(ctx context.Context, t *domain.QueuedTrade, own []domain.Position) []string
}

// Config 执行引擎配置
type Config struct {
	PollInterval      time.Duration // 轮询间隔，默认 300ms
	RetryLimit        int           // 单条记录重试上限，默认 3
	MinOrderNotional  float64       // 交易所最小订单金额（美元），默认 $1
	MinTokenFloor     float64       // 卖出方向的最小代币持仓，默认 1.0
	AggregationWindow time.Duration // 小额 BUY 聚合窗口，默认 300s
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = 300 * time.Millisecond
	}
	if out.RetryLimit <= 0 {
		out.RetryLimit = 3
	}
	if out.MinOrderNotional <= 0 {
		out.MinOrderNotional = 1.0
	}
	if out.MinTokenFloor <= 0 {
		out.MinTokenFloor = 1.0
	}
	if out.AggregationWindow <= 0 {
		out.AggregationWindow = 300 * time.Second
	}
	return out
}

// Engine 订单执行引擎
// 顺序轮询队列：认领 → 解析 instrument → 计算金额 → 走订单簿 → 终结。
// 聚合缓冲只被本引擎的顺序循环持有，无需加锁。
type Engine struct {
	cfg       Config
	store     *queue.Store
	exchange  Exchange
	balances  BalanceSource
	positions PositionSource
	resolver  CandidateResolver
	strat     *strategy.Config
	buffer    *aggregator.Buffer
	audit     *audit.Store
}

// New 创建执行引擎（audit 可为 nil）
func New(cfg Config, store *queue.Store, exchange Exchange, balances BalanceSource,
	positions PositionSource, res CandidateResolver, strat *strategy.Config, auditStore *audit.Store) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		store:     store,
		exchange:  exchange,
		balances:  balances,
		positions: positions,
		resolver:  res,
		strat:     strat,
		buffer:    aggregator.New(cfg.AggregationWindow, cfg.MinOrderNotional),
		audit:     auditStore,
	}
}

// Run 执行轮询循环，直到 ctx 取消
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	logger.Infof("执行引擎启动, 轮询间隔 %s", e.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("执行引擎停止")
			return
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

// poll 一个轮询周期：先处理到期的聚合桶，再处理待执行记录
func (e *Engine) poll(ctx context.Context) {
	now := time.Now()

	for _, flush := range e.buffer.CollectReady(now) {
		e.handleFlush(ctx, flush)
		if ctx.Err() != nil {
			return
		}
	}

	pending, err := e.store.ListPending()
	if err != nil {
		logger.Errorf("读取待执行队列失败: %v", err)
		return
	}

	for _, t := range pending {
		if ctx.Err() != nil {
			return
		}
		// 已在聚合桶里的记录等窗口到期
		if e.buffer.Contains(t.Wallet, t.TransactionHash) {
			continue
		}
		if e.buffer.Qualifies(t) {
			e.buffer.Add(t, now)
			logger.Debugf("小额 BUY 进入聚合桶 wallet=%s tx=%s usd=%.2f", t.Wallet, t.TransactionHash, t.NotionalUSD)
			continue
		}

		claimed, err := e.store.Claim(t.Wallet, t.TransactionHash)
		if err != nil {
			if !errors.Is(err, queue.ErrAlreadyClaimed) {
				logger.Errorf("认领记录失败 tx=%s: %v", t.TransactionHash, err)
			}
			continue
		}
		e.execute(ctx, claimed)
	}
}

// handleFlush 处置一个到期的聚合桶
// 成员记录在合成交易执行之前认领，并发轮询无法再重复提交它们。
func (e *Engine) handleFlush(ctx context.Context, flush aggregator.Flush) {
	var members []*domain.QueuedTrade
	for _, m := range flush.Members {
		claimed, err := e.store.Claim(m.Wallet, m.TransactionHash)
		if err != nil {
			logger.Debugf("聚合成员认领失败 tx=%s: %v", m.TransactionHash, err)
			continue
		}
		members = append(members, claimed)
	}

	if flush.Synthetic == nil {
		// 窗口到期但累计金额不足：丢弃，成员标记为跳过，永不重试
		for _, m := range members {
			e.finalize(ctx, m, domain.ResultSkipped, "aggregation window expired below exchange minimum", 0)
		}
		return
	}

	synthetic := flush.Synthetic
	if _, err := e.store.Enqueue(synthetic); err != nil {
		logger.Errorf("合成交易入队失败: %v", err)
		// 成员已认领，不能卡在已认领状态
		for _, m := range members {
			e.finalize(ctx, m, domain.ResultExhausted, "synthetic enqueue failed", 0)
		}
		return
	}
	claimed, err := e.store.Claim(synthetic.Wallet, synthetic.TransactionHash)
	if err != nil {
		logger.Errorf("合成交易认领失败: %v", err)
		for _, m := range members {
			e.finalize(ctx, m, domain.ResultExhausted, "synthetic claim failed", 0)
		}
		return
	}

	logger.Infof("聚合桶到期, 以合成交易执行: %d 笔成员, 累计 $%.2f", len(members), synthetic.NotionalUSD)
	e.execute(ctx, claimed)

	// 执行被取消中断时合成交易没有终态，成员不能继承空结果
	if claimed.Result == "" {
		return
	}

	// 成员记录继承合成交易的终态
	for _, m := range members {
		e.finalize(ctx, m, claimed.Result, "aggregated into "+synthetic.TransactionHash, 0)
	}
}

// execute 执行一条已认领的记录
func (e *Engine) execute(ctx context.Context, t *domain.QueuedTrade) {
	own := e.positions.Snapshot()

	tokenID, book := e.resolveBook(ctx, t, own)
	if tokenID == "" {
		e.finalize(ctx, t, domain.ResultSkipped, "no tradable instrument for any candidate", 0)
		return
	}

	if t.Side == domain.SideBuy {
		e.executeBuy(ctx, t, tokenID, book, own)
	} else {
		e.executeSell(ctx, t, tokenID, book, own)
	}
}

// resolveBook 逐个候选 instrument 尝试订单簿，第一个在所需方向有深度的胜出
func (e *Engine) resolveBook(ctx context.Context, t *domain.QueuedTrade, own []domain.Position) (string, *types.OrderBookSummary) {
	for _, candidate := range e.resolver.Candidates(ctx, t, own) {
		book, err := e.exchange.GetOrderBook(ctx, candidate)
		if err != nil {
			logger.Debugf("候选 %s 订单簿查询失败: %v", candidate, err)
			continue
		}
		if t.Side == domain.SideBuy {
			if _, ok := book.BestAsk(); ok {
				return candidate, book
			}
		} else {
			if _, ok := book.BestBid(); ok {
				return candidate, book
			}
		}
	}
	return "", nil
}

// executeBuy BUY 方向：查余额、按策略定额，再进入分片吃单
func (e *Engine) executeBuy(ctx context.Context, t *domain.QueuedTrade, tokenID string, book *types.OrderBookSummary, own []domain.Position) {
	balance, err := e.balances.USDCBalance(ctx)
	if err != nil {
		logger.Errorf("余额查询失败 trade=%s: %v", t.ID, err)
		e.finalize(ctx, t, domain.ResultExhausted, "balance lookup failed: "+err.Error(), 0)
		return
	}

	positionValue := 0.0
	if p := domain.FindByCondition(own, t.ConditionID); p != nil {
		positionValue = p.CurrentValue
	}

	calc := strategy.Calculate(e.strat, t.NotionalUSD, balance, positionValue)
	for _, line := range calc.Reasoning {
		logger.WithField("trade", t.ID).Debug(line)
	}
	if calc.FinalAmount <= 0 {
		e.finalize(ctx, t, domain.ResultSkipped, strings.Join(calc.Reasoning, "; "), 0)
		return
	}

	e.fillBuy(ctx, t, tokenID, book, calc.FinalAmount, balance)
}

// fillBuy 按最优卖价分片吃单
// 每片金额 = min(剩余金额, 卖一数量×卖一价)，不超出卖一深度；
// 剩余低于最小金额时以累计成交收尾。
func (e *Engine) fillBuy(ctx context.Context, t *domain.QueuedTrade, tokenID string, book *types.OrderBookSummary, target, balance float64) {
	remaining := target

	for {
		if ctx.Err() != nil {
			return
		}
		if remaining < e.cfg.MinOrderNotional {
			e.finalize(ctx, t, domain.ResultSuccess, "filled", target)
			return
		}
		if t.Attempts > e.cfg.RetryLimit {
			e.finalize(ctx, t, domain.ResultExhausted, "retry limit reached", target)
			return
		}

		ask, ok := book.BestAsk()
		if !ok {
			if err := e.store.BumpAttempt(t); err != nil {
				logger.Errorf("写回尝试计数失败: %v", err)
			}
			book = e.refetchBook(ctx, tokenID, book)
			continue
		}

		askPrice := ask.PriceFloat()
		slice := ask.SizeFloat() * askPrice
		if slice > remaining {
			slice = remaining
		}

		// 下一片就会透支余额：立刻中止，不消耗重试次数
		if slice > balance {
			e.finalize(ctx, t, domain.ResultAborted, "insufficient balance for next slice", target)
			return
		}

		resp, err := e.exchange.PlaceMarketOrder(ctx, &types.UserMarketOrder{
			TokenID:   tokenID,
			Price:     askPrice,
			Amount:    slice,
			Side:      types.SideBuy,
			OrderType: types.OrderTypeFOK,
			NegRisk:   book.NegRisk,
			TickSize:  types.TickSize(book.TickSize),
		})
		if err != nil {
			logger.Warnf("下单失败 trade=%s: %v", t.ID, err)
			if err := e.store.BumpAttempt(t); err != nil {
				logger.Errorf("写回尝试计数失败: %v", err)
			}
			book = e.refetchBook(ctx, tokenID, book)
			continue
		}
		if !resp.Success {
			if IsInsufficientFunds(resp.ErrorMsg) {
				// 余额/授权不足是终态，需要人工充值后重启
				t.Attempts = e.cfg.RetryLimit
				e.finalize(ctx, t, domain.ResultAborted, "exchange rejection: "+resp.ErrorMsg, target)
				return
			}
			logger.Warnf("订单被拒 trade=%s: %s", t.ID, resp.ErrorMsg)
			if err := e.store.BumpAttempt(t); err != nil {
				logger.Errorf("写回尝试计数失败: %v", err)
			}
			book = e.refetchBook(ctx, tokenID, book)
			continue
		}

		tokens := slice / askPrice
		t.FilledTokens += tokens
		t.Attempts = 1 // 成交后重置重试计数
		remaining -= slice
		balance -= slice
		if err := e.store.SaveProgress(t); err != nil {
			logger.Errorf("写回成交进度失败: %v", err)
		}
		e.balances.Invalidate()
		logger.Infof("BUY 成交 trade=%s token=%s $%.2f @ %.4f, 剩余 $%.2f", t.ID, tokenID, slice, askPrice, remaining)

		book = e.refetchBook(ctx, tokenID, book)
	}
}

// executeSell SELL/MERGE 方向：按最优买价分片出货，清空持仓
// 持仓低于最小代币数时直接跳过，不发尘埃单。
func (e *Engine) executeSell(ctx context.Context, t *domain.QueuedTrade, tokenID string, book *types.OrderBookSummary, own []domain.Position) {
	p := domain.FindByAsset(own, tokenID)
	if p == nil || p.Size < e.cfg.MinTokenFloor {
		e.finalize(ctx, t, domain.ResultSkipped, "no position above token floor to sell", 0)
		return
	}

	remaining := p.Size

	for {
		if ctx.Err() != nil {
			return
		}
		if remaining < e.cfg.MinTokenFloor {
			e.finalize(ctx, t, domain.ResultSuccess, "position sold down", 0)
			return
		}
		if t.Attempts > e.cfg.RetryLimit {
			e.finalize(ctx, t, domain.ResultExhausted, "retry limit reached", 0)
			return
		}

		bid, ok := book.BestBid()
		if !ok {
			if err := e.store.BumpAttempt(t); err != nil {
				logger.Errorf("写回尝试计数失败: %v", err)
			}
			book = e.refetchBook(ctx, tokenID, book)
			continue
		}

		bidPrice := bid.PriceFloat()
		slice := bid.SizeFloat()
		if slice > remaining {
			slice = remaining
		}

		resp, err := e.exchange.PlaceMarketOrder(ctx, &types.UserMarketOrder{
			TokenID:   tokenID,
			Price:     bidPrice,
			Amount:    slice, // SELL 的数量以代币计
			Side:      types.SideSell,
			OrderType: types.OrderTypeFOK,
			NegRisk:   book.NegRisk,
			TickSize:  types.TickSize(book.TickSize),
		})
		if err != nil {
			logger.Warnf("下单失败 trade=%s: %v", t.ID, err)
			if err := e.store.BumpAttempt(t); err != nil {
				logger.Errorf("写回尝试计数失败: %v", err)
			}
			book = e.refetchBook(ctx, tokenID, book)
			continue
		}
		if !resp.Success {
			if IsInsufficientFunds(resp.ErrorMsg) {
				t.Attempts = e.cfg.RetryLimit
				e.finalize(ctx, t, domain.ResultAborted, "exchange rejection: "+resp.ErrorMsg, 0)
				return
			}
			logger.Warnf("订单被拒 trade=%s: %s", t.ID, resp.ErrorMsg)
			if err := e.store.BumpAttempt(t); err != nil {
				logger.Errorf("写回尝试计数失败: %v", err)
			}
			book = e.refetchBook(ctx, tokenID, book)
			continue
		}

		t.FilledTokens += slice
		t.Attempts = 1
		remaining -= slice
		if err := e.store.SaveProgress(t); err != nil {
			logger.Errorf("写回成交进度失败: %v", err)
		}
		e.balances.Invalidate()
		logger.Infof("SELL 成交 trade=%s token=%s %.2f 份 @ %.4f, 剩余 %.2f", t.ID, tokenID, slice, bidPrice, remaining)

		book = e.refetchBook(ctx, tokenID, book)
	}
}

// refetchBook 重新拉取订单簿，失败时沿用旧的
func (e *Engine) refetchBook(ctx context.Context, tokenID string, old *types.OrderBookSummary) *types.OrderBookSummary {
	book, err := e.exchange.GetOrderBook(ctx, tokenID)
	if err != nil {
		logger.Debugf("订单簿刷新失败 token=%s: %v", tokenID, err)
		return old
	}
	return book
}

// finalize 终结记录并写入审计
func (e *Engine) finalize(ctx context.Context, t *domain.QueuedTrade, result domain.Result, reason string, requestedUSD float64) {
	if err := e.store.Finalize(t, result, reason); err != nil {
		logger.Errorf("终结记录失败 trade=%s: %v", t.ID, err)
	}
	logger.WithFields(map[string]interface{}{
		"trade":  t.ID,
		"result": string(result),
		"reason": reason,
	}).Info("记录已终结")

	if e.audit != nil {
		e.audit.RecordExecution(ctx, t, requestedUSD)
	}
	if result == domain.ResultSuccess && t.FilledTokens > 0 {
		e.positions.Refresh(ctx)
	}
}

// IsInsufficientFunds 判定交易所拒单是否属于余额/授权不足
// 这类拒绝重试没有意义，必须人工补足资金后重启。
func IsInsufficientFunds(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not enough balance") || strings.Contains(m, "allowance")
}
