package resolver

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/betbot/copytrader/clob/client"
	"github.com/betbot/copytrader/clob/types"
	"github.com/betbot/copytrader/internal/domain"
	"github.com/betbot/copytrader/pkg/logger"
)

// ErrNoInstrument 找不到可交易的 instrument（跳过该记录，不算失败）
var ErrNoInstrument = errors.New("resolver: no tradable instrument")

// Resolver 单个解析器，产出零个或多个候选 instrument
type Resolver interface {
	Name() string
	Candidates(ctx context.Context, t *domain.QueuedTrade, own []domain.Position) []string
}

// CounterpartSource 源交易员的仓位快照来源
type CounterpartSource interface {
	For(wallet string) []domain.Position
}

// Chain 按顺序收集各解析器的候选，去重后保持优先级
// 调用方逐个候选尝试订单簿，第一个有效的胜出。
type Chain struct {
	resolvers []Resolver
}

// NewChain 组装默认解析链
// 顺序：自有仓位（SELL）→ 源交易员仓位（BUY）→ 活动流自带 asset →
// 仓位的对侧 outcome → 市场元数据。
// SELL/MERGE 只能卖出实际持有的 instrument，BUY 优先跟随源交易员的持仓。
func NewChain(clobClient *client.Client, gamma *client.GammaClient, counterparts CounterpartSource) *Chain {
	return &Chain{
		resolvers: []Resolver{
			&positionResolver{},
			&counterpartResolver{src: counterparts},
			&feedResolver{},
			&oppositeResolver{},
			&metadataResolver{clob: clobClient, gamma: gamma},
		},
	}
}

// Candidates 解析交易对应的候选 instrument 列表（按优先级，已去重）
func (c *Chain) Candidates(ctx context.Context, t *domain.QueuedTrade, own []domain.Position) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range c.resolvers {
		for _, id := range r.Candidates(ctx, t, own) {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
			logger.Debugf("解析器 %s 产出候选 instrument=%s trade=%s", r.Name(), id, t.ID)
		}
	}
	return out
}

// positionResolver 从自有仓位解析
// 卖出方向只能操作实际持有的 instrument，即使与源交易的 outcome 相反。
type positionResolver struct{}

func (r *positionResolver) Name() string { return "position" }

func (r *positionResolver) Candidates(_ context.Context, t *domain.QueuedTrade, own []domain.Position) []string {
	if t.Side != domain.SideSell && t.Type != domain.ActivityMerge {
		return nil
	}

	var out []string
	// 先按 asset 精确匹配
	if t.Asset != "" {
		if p := domain.FindByAsset(own, t.Asset); p != nil && p.Size > 0 {
			out = append(out, p.Asset)
		}
	}
	// 再按市场匹配：持有同一市场的任一 outcome 都可以卖出
	if t.ConditionID != "" {
		if p := domain.FindByCondition(own, t.ConditionID); p != nil && p.Size > 0 {
			out = append(out, p.Asset)
		}
	}
	return out
}

// counterpartResolver 从源交易员的仓位快照解析
// 买入方向跟随源交易员刚建立的持仓，源交易员的仓位比活动流字段更可信。
type counterpartResolver struct {
	src CounterpartSource
}

func (r *counterpartResolver) Name() string { return "counterpart" }

func (r *counterpartResolver) Candidates(_ context.Context, t *domain.QueuedTrade, _ []domain.Position) []string {
	if t.Side != domain.SideBuy || r.src == nil || t.ConditionID == "" {
		return nil
	}
	p := domain.FindByCondition(r.src.For(t.Wallet), t.ConditionID)
	if p == nil || p.Asset == "" {
		return nil
	}
	return []string{p.Asset}
}

// feedResolver 直接采用活动流自带的 asset
type feedResolver struct{}

func (r *feedResolver) Name() string { return "feed" }

func (r *feedResolver) Candidates(_ context.Context, t *domain.QueuedTrade, _ []domain.Position) []string {
	if t.Side == domain.SideSell || t.Type == domain.ActivityMerge {
		// 卖出必须持仓，不能用源交易的 asset
		return nil
	}
	if t.Asset == "" {
		return nil
	}
	return []string{t.Asset}
}

// oppositeResolver 从仓位快照取对侧 outcome 的 instrument
type oppositeResolver struct{}

func (r *oppositeResolver) Name() string { return "opposite" }

func (r *oppositeResolver) Candidates(_ context.Context, t *domain.QueuedTrade, own []domain.Position) []string {
	if t.ConditionID == "" {
		return nil
	}
	p := domain.FindByCondition(own, t.ConditionID)
	if p == nil || p.OppositeAsset == "" {
		return nil
	}
	return []string{p.OppositeAsset}
}

// metadataResolver 从市场元数据解析（CLOB 与 Gamma 两个独立来源取并集）
type metadataResolver struct {
	clob  *client.Client
	gamma *client.GammaClient
}

func (r *metadataResolver) Name() string { return "metadata" }

func (r *metadataResolver) Candidates(ctx context.Context, t *domain.QueuedTrade, _ []domain.Position) []string {
	if t.ConditionID == "" {
		return nil
	}

	var out []string

	if r.clob != nil {
		market, err := r.clob.GetMarket(ctx, t.ConditionID)
		if err != nil {
			logger.Debugf("CLOB 市场元数据查询失败 condition=%s: %v", t.ConditionID, err)
		} else if len(market.Tokens) > 0 {
			if token := matchToken(market, t); token != "" {
				out = append(out, token)
			}
		}
	}

	if r.gamma != nil {
		markets, err := r.gamma.MarketsByCondition(ctx, t.ConditionID)
		if err != nil {
			logger.Debugf("Gamma 市场元数据查询失败 condition=%s: %v", t.ConditionID, err)
		} else if len(markets) > 0 {
			if ids, err := client.ParseClobTokenIDs(&markets[0]); err == nil && len(ids) > 0 {
				idx := t.OutcomeIndex
				if idx < 0 || idx >= len(ids) {
					idx = 0
				}
				out = append(out, ids[idx])
			}
		}
	}

	return out
}

// matchToken 按 outcome 名称（忽略大小写）匹配，退而按 outcome 序号匹配
func matchToken(market *types.ClobMarket, t *domain.QueuedTrade) string {
	if t.Outcome != "" {
		for _, token := range market.Tokens {
			if strings.EqualFold(token.Outcome, t.Outcome) {
				return token.TokenID
			}
		}
	}
	if t.OutcomeIndex >= 0 && t.OutcomeIndex < len(market.Tokens) {
		return market.Tokens[t.OutcomeIndex].TokenID
	}
	return market.Tokens[0].TokenID
}
