package balance

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/betbot/copytrader/clob/client"
	"github.com/betbot/copytrader/pkg/cache"
)

// DefaultPolygonRPC Polygon 主网公共 RPC
const DefaultPolygonRPC = "https://polygon-rpc.com"

// balanceOfSelector ERC20 balanceOf(address) 函数选择器
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// usdcDivisor USDC 精度为 6
var usdcDivisor = new(big.Float).SetFloat64(1e6)

// Oracle 链上 USDC 余额查询器
// 每次下单前读取，结果缓存 10 秒以避免打爆 RPC。
type Oracle struct {
	eth    *ethclient.Client
	usdc   common.Address
	wallet common.Address
	cache  *cache.BalanceCache
}

// NewOracle 创建余额查询器
func NewOracle(rpcURL, wallet string) (*Oracle, error) {
	if rpcURL == "" {
		rpcURL = DefaultPolygonRPC
	}
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "balance: dial rpc")
	}
	return &Oracle{
		eth:    eth,
		usdc:   common.HexToAddress(client.PolygonMainnetContracts.Collateral),
		wallet: common.HexToAddress(wallet),
		cache:  cache.NewBalanceCache(),
	}, nil
}

// Close 关闭 RPC 连接
func (o *Oracle) Close() {
	o.eth.Close()
}

// USDCBalance 返回钱包的 USDC 余额（美元）
func (o *Oracle) USDCBalance(ctx context.Context) (float64, error) {
	key := o.wallet.Hex()
	if v, ok := o.cache.Get(key); ok {
		return v, nil
	}

	// balanceOf(address) 调用数据：4 字节选择器 + 32 字节地址
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(o.wallet.Bytes(), 32)...)

	result, err := o.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &o.usdc,
		Data: data,
	}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "balance: balanceOf call")
	}
	if len(result) == 0 {
		return 0, errors.New("balance: empty balanceOf result")
	}

	raw := new(big.Int).SetBytes(result)
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), usdcDivisor).Float64()

	o.cache.Set(key, value)
	return value, nil
}

// Invalidate 作废缓存（下单成功后调用）
func (o *Oracle) Invalidate() {
	o.cache.Invalidate(o.wallet.Hex())
}
