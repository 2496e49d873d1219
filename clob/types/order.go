package types

// UserMarketOrder 用户市价订单
type UserMarketOrder struct {
	// TokenID 条件代币资产 ID
	TokenID string

	// Price 订单价格（为 0 时使用订单簿最优价）
	Price float64

	// Amount 数量
	// BUY 订单: 美元金额
	// SELL 订单: 份额数量
	Amount float64

	// Side 订单方向
	Side Side

	// OrderType 订单执行类型（跟单引擎只用 FOK）
	OrderType OrderType

	// NegRisk 市场是否在负风险交易所
	NegRisk bool

	// TickSize 市场价格精度
	TickSize TickSize
}

// SignedOrder 已签名订单的线缆形态
type SignedOrder struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// NewOrder 订单提交载荷
type NewOrder struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType OrderType   `json:"orderType"`
}

// OrderResponse 订单提交响应
type OrderResponse struct {
	Success           bool     `json:"success"`
	ErrorMsg          string   `json:"errorMsg"`
	OrderID           string   `json:"orderID"`
	TransactionHashes []string `json:"transactionsHashes"`
	Status            string   `json:"status"`
	TakingAmount      string   `json:"takingAmount"`
	MakingAmount      string   `json:"makingAmount"`
}
