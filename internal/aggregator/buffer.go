package aggregator

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/betbot/copytrader/internal/domain"
)

// Key 聚合桶的键：同一钱包、同一市场、同一 instrument、同一方向
type Key struct {
	Wallet      string
	ConditionID string
	Asset       string
	Side        domain.Side
}

// Bucket 时间窗口内的聚合桶
type Bucket struct {
	Members       []*domain.QueuedTrade
	TotalNotional decimal.Decimal // 累计美元名义金额
	weightedSum   decimal.Decimal // Σ(notional × price)，用于加权均价
	FirstSeen     time.Time
	LastSeen      time.Time
}

// AveragePrice 加权均价 = Σ(notional×price) / Σnotional
func (b *Bucket) AveragePrice() float64 {
	if b.TotalNotional.IsZero() {
		return 0
	}
	avg, _ := b.weightedSum.Div(b.TotalNotional).Float64()
	return avg
}

// Flush 窗口到期后的处置结果
// Synthetic 非空时以合成交易执行；否则丢弃，成员记录标记为跳过。
type Flush struct {
	Key       Key
	Synthetic *domain.QueuedTrade
	Members   []*domain.QueuedTrade
}

// Buffer 低于最小金额的同向小额 BUY 的时间窗口聚合器
// 仅由执行引擎的顺序循环持有，无需加锁。
type Buffer struct {
	window      time.Duration
	minNotional float64
	buckets     map[Key]*Bucket
	membership  map[string]struct{} // wallet/txhash → 已入桶
}

// New 创建聚合缓冲
func New(window time.Duration, minNotional float64) *Buffer {
	return &Buffer{
		window:      window,
		minNotional: minNotional,
		buckets:     make(map[Key]*Bucket),
		membership:  make(map[string]struct{}),
	}
}

// Qualifies 是否应该进入聚合缓冲：只缓冲低于交易所最小金额的 BUY
func (b *Buffer) Qualifies(t *domain.QueuedTrade) bool {
	return t.Side == domain.SideBuy && t.NotionalUSD < b.minNotional
}

// Contains 记录是否已在某个桶里（避免重复入桶）
func (b *Buffer) Contains(wallet, txHash string) bool {
	_, ok := b.membership[memberKey(wallet, txHash)]
	return ok
}

// Add 加入聚合桶：累计名义金额、更新加权均价、刷新 last-seen、保留 first-seen
func (b *Buffer) Add(t *domain.QueuedTrade, now time.Time) {
	key := Key{Wallet: t.Wallet, ConditionID: t.ConditionID, Asset: t.Asset, Side: t.Side}
	bucket, ok := b.buckets[key]
	if !ok {
		bucket = &Bucket{FirstSeen: now}
		b.buckets[key] = bucket
	}
	notional := decimal.NewFromFloat(t.NotionalUSD)
	bucket.Members = append(bucket.Members, t)
	bucket.TotalNotional = bucket.TotalNotional.Add(notional)
	bucket.weightedSum = bucket.weightedSum.Add(notional.Mul(decimal.NewFromFloat(t.Price)))
	bucket.LastSeen = now
	b.membership[memberKey(t.Wallet, t.TransactionHash)] = struct{}{}
}

// CollectReady 收集所有窗口已到期的桶并销毁它们
// 累计金额达到最小值的桶产出合成交易；不足的桶丢弃（Synthetic 为 nil），
// 其成员记录由调用方标记为处理过但跳过，永不重试。
func (b *Buffer) CollectReady(now time.Time) []Flush {
	var flushes []Flush
	for key, bucket := range b.buckets {
		if now.Sub(bucket.FirstSeen) < b.window {
			continue
		}
		flush := Flush{Key: key, Members: bucket.Members}
		total, _ := bucket.TotalNotional.Float64()
		if total >= b.minNotional {
			flush.Synthetic = b.synthesize(key, bucket, total)
		}
		flushes = append(flushes, flush)
		delete(b.buckets, key)
		for _, m := range bucket.Members {
			delete(b.membership, memberKey(m.Wallet, m.TransactionHash))
		}
	}
	return flushes
}

// synthesize 从第一个成员继承身份字段，携带累计金额与加权均价
func (b *Buffer) synthesize(key Key, bucket *Bucket, total float64) *domain.QueuedTrade {
	first := bucket.Members[0]
	price := bucket.AveragePrice()
	size := 0.0
	if price > 0 {
		size = total / price
	}
	hashes := make([]string, 0, len(bucket.Members))
	for _, m := range bucket.Members {
		hashes = append(hashes, m.TransactionHash)
	}
	id := uuid.NewString()
	return &domain.QueuedTrade{
		ID:              id,
		Wallet:          key.Wallet,
		Type:            first.Type,
		ConditionID:     key.ConditionID,
		Asset:           key.Asset,
		Side:            key.Side,
		Size:            size,
		Price:           price,
		NotionalUSD:     total,
		Outcome:         first.Outcome,
		OutcomeIndex:    first.OutcomeIndex,
		Title:           first.Title,
		TransactionHash: "agg:" + id,
		Timestamp:       bucket.FirstSeen,
		MemberHashes:    hashes,
	}
}

// Size 当前桶数量
func (b *Buffer) Size() int {
	return len(b.buckets)
}

func memberKey(wallet, txHash string) string {
	return wallet + "/" + txHash
}
