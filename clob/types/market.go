package types

import (
	"strconv"
)

// OrderSummary 订单簿中的一个价位
type OrderSummary struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceFloat 解析价格
func (o OrderSummary) PriceFloat() float64 {
	v, _ := strconv.ParseFloat(o.Price, 64)
	return v
}

// SizeFloat 解析数量
func (o OrderSummary) SizeFloat() float64 {
	v, _ := strconv.ParseFloat(o.Size, 64)
	return v
}

// OrderBookSummary 订单簿摘要
type OrderBookSummary struct {
	Market       string         `json:"market"`
	AssetID      string         `json:"asset_id"`
	Timestamp    string         `json:"timestamp"`
	Bids         []OrderSummary `json:"bids"`
	Asks         []OrderSummary `json:"asks"`
	MinOrderSize string         `json:"min_order_size"`
	TickSize     string         `json:"tick_size"`
	NegRisk      bool           `json:"neg_risk"`
	Hash         string         `json:"hash"`
}

// BestAsk 最优卖价（asks 按价格升序排列时为第一个；CLOB 返回降序，取最后一个）
// 为了稳妥这里显式扫描最小值。
func (b *OrderBookSummary) BestAsk() (OrderSummary, bool) {
	if len(b.Asks) == 0 {
		return OrderSummary{}, false
	}
	best := b.Asks[0]
	for _, a := range b.Asks[1:] {
		if a.PriceFloat() < best.PriceFloat() {
			best = a
		}
	}
	return best, true
}

// BestBid 最优买价（显式扫描最大值）
func (b *OrderBookSummary) BestBid() (OrderSummary, bool) {
	if len(b.Bids) == 0 {
		return OrderSummary{}, false
	}
	best := b.Bids[0]
	for _, bid := range b.Bids[1:] {
		if bid.PriceFloat() > best.PriceFloat() {
			best = bid
		}
	}
	return best, true
}

// MarketToken CLOB 市场元数据中的 outcome 代币
type MarketToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool   `json:"winner"`
}

// ClobMarket CLOB /markets/{conditionId} 返回的市场元数据
type ClobMarket struct {
	ConditionID   string        `json:"condition_id"`
	QuestionID    string        `json:"question_id"`
	Question      string        `json:"question"`
	Active        bool          `json:"active"`
	Closed        bool          `json:"closed"`
	MinimumOrderSize string     `json:"minimum_order_size"`
	MinimumTickSize  string     `json:"minimum_tick_size"`
	NegRisk       bool          `json:"neg_risk"`
	Tokens        []MarketToken `json:"tokens"`
}

// GammaMarket Gamma API 市场元数据
type GammaMarket struct {
	ID           string `json:"id"`
	Question     string `json:"question"`
	ConditionID  string `json:"conditionId"`
	Slug         string `json:"slug"`
	ClobTokenIDs string `json:"clobTokenIds"` // JSON 数组字符串
	EndDate      string `json:"endDate"`
	StartDate    string `json:"startDate"`
	Category     string `json:"category"`
	Closed       bool   `json:"closed"`
}

// BalanceAllowanceParams 余额和授权查询参数
type BalanceAllowanceParams struct {
	AssetType     AssetType
	TokenID       string
	SignatureType *SignatureType
}

// BalanceAllowanceResponse 余额和授权响应
type BalanceAllowanceResponse struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}
