package client

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/pkg/errors"

	"github.com/betbot/copytrader/clob/signing"
	"github.com/betbot/copytrader/clob/types"
	"github.com/betbot/copytrader/pkg/httpx"
)

// API 端点常量
const (
	EndpointCreateAPIKey = "/auth/api-key"
	EndpointDeriveAPIKey = "/auth/derive-api-key"

	EndpointGetMarket    = "/markets/"
	EndpointGetOrderBook = "/book"

	EndpointPostOrder = "/order"

	EndpointGetBalanceAllowance = "/balance-allowance"
)

// Client CLOB 客户端
// 订单签名委托给 go-order-utils，私有接口使用 L2 HMAC 认证。
type Client struct {
	host          string
	chainID       types.Chain
	privateKey    *ecdsa.PrivateKey
	creds         *types.ApiKeyCreds
	funderAddress string
	signatureType types.SignatureType
	http          *httpx.Client
}

// NewClient 创建新的 CLOB 客户端
// funderAddress 为空时 maker 使用签名者地址。
func NewClient(host string, chainID types.Chain, privateKey *ecdsa.PrivateKey, funderAddress string, signatureType types.SignatureType) *Client {
	return &Client{
		host:          strings.TrimSuffix(host, "/"),
		chainID:       chainID,
		privateKey:    privateKey,
		funderAddress: funderAddress,
		signatureType: signatureType,
		http:          httpx.NewClient(host),
	}
}

// SetCreds 设置 API 凭证
func (c *Client) SetCreds(creds *types.ApiKeyCreds) {
	c.creds = creds
}

// canL2Auth 检查是否可以进行 L2 认证
func (c *Client) canL2Auth() error {
	if c.creds == nil {
		return errors.New("clob: L2 认证不可用, API 凭证未配置")
	}
	return nil
}

// CreateOrDeriveAPIKey 创建或推导 API 密钥（L1 方法）
// 先尝试推导已有密钥，400 表示账户还没有密钥，转为创建。
func (c *Client) CreateOrDeriveAPIKey(ctx context.Context, nonce int64) (*types.ApiKeyCreds, error) {
	if c.privateKey == nil {
		return nil, errors.New("clob: L1 认证不可用, 私钥未配置")
	}

	header, err := signing.CreateL1Header(c.privateKey, c.chainID, nonce)
	if err != nil {
		return nil, errors.Wrap(err, "clob: create L1 header")
	}
	headers := map[string]string{
		"POLY_ADDRESS":   header.PolyAddress,
		"POLY_SIGNATURE": header.PolySignature,
		"POLY_TIMESTAMP": header.PolyTimestamp,
		"POLY_NONCE":     header.PolyNonce,
	}

	var raw types.ApiKeyRaw
	_, err = c.http.DoRequest(ctx, "GET", EndpointDeriveAPIKey, &httpx.RequestOptions{Headers: headers}, &raw)
	if err != nil || raw.ApiKey == "" {
		// 推导失败（通常是还没有 API 密钥），创建新的
		raw = types.ApiKeyRaw{}
		if _, err := c.http.DoRequest(ctx, "POST", EndpointCreateAPIKey, &httpx.RequestOptions{Headers: headers, Data: map[string]any{}}, &raw); err != nil {
			return nil, errors.Wrap(err, "clob: create api key")
		}
	}

	creds := &types.ApiKeyCreds{
		Key:        raw.ApiKey,
		Secret:     raw.Secret,
		Passphrase: raw.Passphrase,
	}
	c.creds = creds
	return creds, nil
}

// l2Headers 为私有请求构建 L2 认证头
func (c *Client) l2Headers(method, requestPath string, body *string) (map[string]string, error) {
	header, err := signing.CreateL2Header(c.privateKey, c.creds, method, requestPath, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":    header.PolyAddress,
		"POLY_SIGNATURE":  header.PolySignature,
		"POLY_TIMESTAMP":  header.PolyTimestamp,
		"POLY_API_KEY":    header.PolyAPIKey,
		"POLY_PASSPHRASE": header.PolyPassphrase,
	}, nil
}

// GetOrderBook 获取订单簿
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBookSummary, error) {
	var book types.OrderBookSummary
	_, err := c.http.DoRequest(ctx, "GET", EndpointGetOrderBook, &httpx.RequestOptions{
		Params: map[string]any{"token_id": tokenID},
	}, &book)
	if err != nil {
		return nil, errors.Wrap(err, "clob: get order book")
	}
	return &book, nil
}

// GetMarket 按 condition id 获取 CLOB 市场元数据
func (c *Client) GetMarket(ctx context.Context, conditionID string) (*types.ClobMarket, error) {
	var market types.ClobMarket
	_, err := c.http.DoRequest(ctx, "GET", EndpointGetMarket+conditionID, nil, &market)
	if err != nil {
		return nil, errors.Wrap(err, "clob: get market")
	}
	return &market, nil
}

// GetBalanceAllowance 获取余额和授权
func (c *Client) GetBalanceAllowance(ctx context.Context, params *types.BalanceAllowanceParams) (*types.BalanceAllowanceResponse, error) {
	if err := c.canL2Auth(); err != nil {
		return nil, err
	}

	queryParams := map[string]any{
		"asset_type": string(params.AssetType),
	}
	if params.TokenID != "" {
		queryParams["token_id"] = params.TokenID
	}
	if params.SignatureType != nil {
		queryParams["signature_type"] = int(*params.SignatureType)
	}

	headers, err := c.l2Headers("GET", EndpointGetBalanceAllowance, nil)
	if err != nil {
		return nil, errors.Wrap(err, "clob: l2 headers")
	}

	var balance types.BalanceAllowanceResponse
	_, err = c.http.DoRequest(ctx, "GET", EndpointGetBalanceAllowance, &httpx.RequestOptions{
		Headers: headers,
		Params:  queryParams,
	}, &balance)
	if err != nil {
		return nil, errors.Wrap(err, "clob: get balance allowance")
	}
	return &balance, nil
}
