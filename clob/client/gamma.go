package client

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/betbot/copytrader/clob/types"
	"github.com/betbot/copytrader/pkg/httpx"
)

// GammaHost Gamma API 地址
const GammaHost = "https://gamma-api.polymarket.com"

// GammaClient Gamma API 客户端（市场元数据，无需认证）
type GammaClient struct {
	http *httpx.Client
}

// NewGammaClient 创建 Gamma API 客户端
func NewGammaClient() *GammaClient {
	return &GammaClient{http: httpx.NewClient(GammaHost)}
}

// MarketsByCondition 按 condition id 查询市场
// Gamma 按数组返回，同一 condition id 可能对应多条记录。
func (g *GammaClient) MarketsByCondition(ctx context.Context, conditionID string) ([]types.GammaMarket, error) {
	var markets []types.GammaMarket
	_, err := g.http.DoRequest(ctx, "GET", "/markets", &httpx.RequestOptions{
		Params: map[string]any{"condition_ids": conditionID},
	}, &markets)
	if err != nil {
		return nil, errors.Wrap(err, "gamma: get markets")
	}
	return markets, nil
}

// MarketBySlug 按 slug 查询市场
func (g *GammaClient) MarketBySlug(ctx context.Context, slug string) (*types.GammaMarket, error) {
	var markets []types.GammaMarket
	_, err := g.http.DoRequest(ctx, "GET", "/markets", &httpx.RequestOptions{
		Params: map[string]any{"slug": slug},
	}, &markets)
	if err != nil {
		return nil, errors.Wrap(err, "gamma: get markets")
	}
	if len(markets) == 0 {
		return nil, errors.Errorf("gamma: 未找到市场: %s", slug)
	}
	return &markets[0], nil
}

// ParseClobTokenIDs 解析 clobTokenIds 字段（JSON 数组字符串）
func ParseClobTokenIDs(m *types.GammaMarket) ([]string, error) {
	if m.ClobTokenIDs == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
		return nil, errors.Wrap(err, "gamma: parse clobTokenIds")
	}
	return ids, nil
}
