package client

import (
	"context"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"

	"github.com/betbot/copytrader/clob/signing"
	"github.com/betbot/copytrader/clob/types"
	"github.com/betbot/copytrader/pkg/httpx"
)

// zeroAddress 公开订单的 taker
const zeroAddress = "0x0000000000000000000000000000000000000000"

// RoundConfig 舍入配置
type RoundConfig struct {
	Price  int // 价格小数位数
	Size   int // 数量小数位数
	Amount int // 金额小数位数
}

// RoundingConfig 根据 tick size 返回舍入配置
var RoundingConfig = map[types.TickSize]RoundConfig{
	types.TickSize01:    {Price: 1, Size: 2, Amount: 3},
	types.TickSize001:   {Price: 2, Size: 2, Amount: 4},
	types.TickSize0001:  {Price: 3, Size: 2, Amount: 5},
	types.TickSize00001: {Price: 4, Size: 2, Amount: 6},
}

// orderBuilder 延迟初始化官方订单构建器
func (c *Client) orderBuilder() *builder.ExchangeOrderBuilderImpl {
	return builder.NewExchangeOrderBuilderImpl(big.NewInt(int64(c.chainID)), nil)
}

// BuildMarketOrder 构建并签名市价订单
// BUY 订单 Amount 为美元金额，SELL 订单 Amount 为份额数量。
func (c *Client) BuildMarketOrder(order *types.UserMarketOrder) (*types.SignedOrder, error) {
	if c.privateKey == nil {
		return nil, errors.New("clob: 私钥未配置, 无法签名订单")
	}
	if order.Price <= 0 {
		return nil, errors.Errorf("clob: 无效的订单价格 %f", order.Price)
	}

	tickSize := order.TickSize
	if tickSize == "" {
		tickSize = types.TickSize001
	}
	roundConfig, ok := RoundingConfig[tickSize]
	if !ok {
		return nil, errors.Errorf("clob: 不支持的 tick size: %s", tickSize)
	}

	// 市价买入以美元计量，先换算成份额
	size := order.Amount
	if order.Side == types.SideBuy {
		size = order.Amount / order.Price
	}

	rawMakerAmt, rawTakerAmt := orderRawAmounts(order.Side, size, order.Price, roundConfig)
	makerAmount := parseUnits(rawMakerAmt, CollateralTokenDecimals)
	takerAmount := parseUnits(rawTakerAmt, CollateralTokenDecimals)

	signerAddress := signing.AddressFromPrivateKey(c.privateKey).Hex()
	maker := signerAddress
	if c.funderAddress != "" {
		maker = c.funderAddress
	}

	side := model.BUY
	if order.Side == types.SideSell {
		side = model.SELL
	}

	orderData := &model.OrderData{
		Maker:         maker,
		Signer:        signerAddress,
		Taker:         zeroAddress,
		TokenId:       order.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Side:          side,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: model.SignatureType(c.signatureType),
	}

	contract := model.CTFExchange
	if order.NegRisk {
		contract = model.NegRiskCTFExchange
	}

	signed, err := c.orderBuilder().BuildSignedOrder(c.privateKey, orderData, contract)
	if err != nil {
		return nil, errors.Wrap(err, "clob: build signed order")
	}

	return &types.SignedOrder{
		Salt:          signed.Order.Salt.String(),
		Maker:         signed.Order.Maker.Hex(),
		Signer:        signed.Order.Signer.Hex(),
		Taker:         signed.Order.Taker.Hex(),
		TokenID:       signed.Order.TokenId.String(),
		MakerAmount:   signed.Order.MakerAmount.String(),
		TakerAmount:   signed.Order.TakerAmount.String(),
		Expiration:    signed.Order.Expiration.String(),
		Nonce:         signed.Order.Nonce.String(),
		FeeRateBps:    signed.Order.FeeRateBps.String(),
		Side:          order.Side,
		SignatureType: int(signed.Order.SignatureType.Int64()),
		Signature:     hexutil.Encode(signed.Signature),
	}, nil
}

// PostOrder 提交已签名订单
func (c *Client) PostOrder(ctx context.Context, signedOrder *types.SignedOrder, orderType types.OrderType) (*types.OrderResponse, error) {
	if err := c.canL2Auth(); err != nil {
		return nil, err
	}

	payload := &types.NewOrder{
		Order:     *signedOrder,
		Owner:     c.creds.Key,
		OrderType: orderType,
	}

	headers, err := c.l2Headers("POST", EndpointPostOrder, nil)
	if err != nil {
		return nil, errors.Wrap(err, "clob: l2 headers")
	}

	var resp types.OrderResponse
	_, err = c.http.DoRequest(ctx, "POST", EndpointPostOrder, &httpx.RequestOptions{
		Headers: headers,
		Data:    payload,
	}, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "clob: post order")
	}
	return &resp, nil
}

// PlaceMarketOrder 构建、签名并以 FOK 方式提交市价订单
func (c *Client) PlaceMarketOrder(ctx context.Context, order *types.UserMarketOrder) (*types.OrderResponse, error) {
	signed, err := c.BuildMarketOrder(order)
	if err != nil {
		return nil, err
	}
	orderType := order.OrderType
	if orderType == "" {
		orderType = types.OrderTypeFOK
	}
	return c.PostOrder(ctx, signed, orderType)
}

// decimalPlaces 返回数字的小数位数
func decimalPlaces(num float64) int {
	if num == math.Trunc(num) {
		return 0
	}
	str := strconv.FormatFloat(num, 'f', -1, 64)
	parts := strings.Split(str, ".")
	if len(parts) < 2 {
		return 0
	}
	return len(parts[1])
}

// roundNormal 四舍五入到指定小数位数
func roundNormal(num float64, decimals int) float64 {
	if decimalPlaces(num) <= decimals {
		return num
	}
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(num*multiplier) / multiplier
}

// roundDown 向下舍入到指定小数位数
func roundDown(num float64, decimals int) float64 {
	if decimalPlaces(num) <= decimals {
		return num
	}
	multiplier := math.Pow(10, float64(decimals))
	return math.Floor(num*multiplier) / multiplier
}

// roundUp 向上舍入到指定小数位数
func roundUp(num float64, decimals int) float64 {
	if decimalPlaces(num) <= decimals {
		return num
	}
	multiplier := math.Pow(10, float64(decimals))
	return math.Ceil(num*multiplier) / multiplier
}

// orderRawAmounts 计算订单的 maker/taker 金额
func orderRawAmounts(side types.Side, size, price float64, roundConfig RoundConfig) (rawMakerAmt, rawTakerAmt float64) {
	rawPrice := roundNormal(price, roundConfig.Price)

	if side == types.SideBuy {
		// 买入：taker 获得 tokens，maker 支付 USDC
		rawTakerAmt = roundDown(size, roundConfig.Size)

		rawMakerAmt = rawTakerAmt * rawPrice
		if decimalPlaces(rawMakerAmt) > roundConfig.Amount {
			rawMakerAmt = roundUp(rawMakerAmt, roundConfig.Amount+4)
			if decimalPlaces(rawMakerAmt) > roundConfig.Amount {
				rawMakerAmt = roundDown(rawMakerAmt, roundConfig.Amount)
			}
		}
	} else {
		// 卖出：maker 付出 tokens（最多2位小数），taker 支付 USDC（最多4位小数）
		rawMakerAmt = roundDown(size, roundConfig.Size)

		rawTakerAmt = rawMakerAmt * rawPrice
		if decimalPlaces(rawTakerAmt) > 4 {
			rawTakerAmt = roundDown(rawTakerAmt, 4)
		}
		if decimalPlaces(rawMakerAmt) > 2 {
			rawMakerAmt = roundDown(rawMakerAmt, 2)
			rawTakerAmt = rawMakerAmt * rawPrice
			if decimalPlaces(rawTakerAmt) > 4 {
				rawTakerAmt = roundDown(rawTakerAmt, 4)
			}
		}
	}

	return rawMakerAmt, rawTakerAmt
}

// parseUnits 将金额转换为最小单位（USDC 精度为 6）
func parseUnits(value float64, decimals int) *big.Int {
	multiplier := new(big.Float).SetFloat64(math.Pow(10, float64(decimals)))
	valueBig := new(big.Float).SetFloat64(value)
	result := new(big.Float).Mul(valueBig, multiplier)

	resultInt, _ := result.Int(nil)
	return resultInt
}
