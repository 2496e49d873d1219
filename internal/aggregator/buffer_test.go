package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betbot/copytrader/internal/domain"
)

func smallBuy(txHash string, notional, price float64) *domain.QueuedTrade {
	return &domain.QueuedTrade{
		ID:              "id-" + txHash,
		Wallet:          "0xabc",
		Type:            domain.ActivityTrade,
		ConditionID:     "0xcond",
		Asset:           "123456",
		Side:            domain.SideBuy,
		Price:           price,
		NotionalUSD:     notional,
		TransactionHash: txHash,
		Timestamp:       time.Now(),
	}
}

func TestQualifies(t *testing.T) {
	b := New(300*time.Second, 1.0)

	require.True(t, b.Qualifies(smallBuy("0xtx1", 0.40, 0.5)))
	require.False(t, b.Qualifies(smallBuy("0xtx2", 1.50, 0.5)))

	sell := smallBuy("0xtx3", 0.40, 0.5)
	sell.Side = domain.SideSell
	require.False(t, b.Qualifies(sell))
}

func TestCollectReady_SynthesizesAboveMinimum(t *testing.T) {
	b := New(300*time.Second, 1.0)
	start := time.Now()

	b.Add(smallBuy("0xtx1", 0.40, 0.50), start)
	b.Add(smallBuy("0xtx2", 0.40, 0.60), start.Add(time.Minute))
	b.Add(smallBuy("0xtx3", 0.40, 0.70), start.Add(2*time.Minute))

	require.True(t, b.Contains("0xabc", "0xtx1"))
	require.Equal(t, 1, b.Size())

	// 窗口未到期：不产出
	require.Empty(t, b.CollectReady(start.Add(299*time.Second)))

	flushes := b.CollectReady(start.Add(301 * time.Second))
	require.Len(t, flushes, 1)

	flush := flushes[0]
	require.Len(t, flush.Members, 3)
	require.NotNil(t, flush.Synthetic)

	syn := flush.Synthetic
	require.InDelta(t, 1.20, syn.NotionalUSD, 1e-9)
	// 加权均价 = (0.4*0.5 + 0.4*0.6 + 0.4*0.7) / 1.2 = 0.6
	require.InDelta(t, 0.60, syn.Price, 1e-9)
	require.Equal(t, "0xabc", syn.Wallet)
	require.Equal(t, "0xcond", syn.ConditionID)
	require.Equal(t, domain.SideBuy, syn.Side)
	require.True(t, syn.IsSynthetic())
	require.ElementsMatch(t, []string{"0xtx1", "0xtx2", "0xtx3"}, syn.MemberHashes)
	require.Contains(t, syn.TransactionHash, "agg:")

	// 桶已销毁，成员可重新入桶
	require.Equal(t, 0, b.Size())
	require.False(t, b.Contains("0xabc", "0xtx1"))
}

func TestCollectReady_DiscardsBelowMinimum(t *testing.T) {
	b := New(300*time.Second, 1.0)
	start := time.Now()

	b.Add(smallBuy("0xtx1", 0.60, 0.50), start)

	flushes := b.CollectReady(start.Add(301 * time.Second))
	require.Len(t, flushes, 1)
	require.Nil(t, flushes[0].Synthetic)
	require.Len(t, flushes[0].Members, 1)
	require.Equal(t, 0, b.Size())
}

func TestAdd_SeparateBucketsPerKey(t *testing.T) {
	b := New(300*time.Second, 1.0)
	now := time.Now()

	b.Add(smallBuy("0xtx1", 0.40, 0.5), now)

	other := smallBuy("0xtx2", 0.40, 0.5)
	other.Asset = "654321"
	b.Add(other, now)

	require.Equal(t, 2, b.Size())
}

func TestCollectReady_WindowAnchoredToFirstSeen(t *testing.T) {
	b := New(300*time.Second, 1.0)
	start := time.Now()

	b.Add(smallBuy("0xtx1", 0.60, 0.5), start)
	// 后来的成员不重置窗口
	b.Add(smallBuy("0xtx2", 0.60, 0.5), start.Add(250*time.Second))

	flushes := b.CollectReady(start.Add(301 * time.Second))
	require.Len(t, flushes, 1)
	require.NotNil(t, flushes[0].Synthetic)
	require.InDelta(t, 1.20, flushes[0].Synthetic.NotionalUSD, 1e-9)
}
