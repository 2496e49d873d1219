package listener

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/copytrader/internal/domain"
)

// 活动流消息的字段名在不同链路形态下并不一致，按候选顺序探测。
var (
	walletKeys    = []string{"proxyWallet", "walletAddress", "user", "maker", "trader", "address"}
	assetKeys     = []string{"asset", "assetId", "tokenId", "token_id"}
	conditionKeys = []string{"conditionId", "condition_id", "market"}
	txHashKeys    = []string{"transactionHash", "transaction_hash", "txHash", "hash"}
)

// Normalize 把活动流原始消息归一化为规范交易
// 兼容三种线缆形态：单对象、payload 包裹、对象列表。
// 无法归一化的元素作为 MalformedMessage 返回，调用方记日志后丢弃。
func Normalize(data []byte) ([]domain.NormalizedActivity, []domain.MalformedMessage) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, []domain.MalformedMessage{{Reason: "invalid json", Raw: preview(data)}}
	}
	return normalizeValue(root, data)
}

func normalizeValue(root any, raw []byte) ([]domain.NormalizedActivity, []domain.MalformedMessage) {
	switch v := root.(type) {
	case []any:
		var out []domain.NormalizedActivity
		var bad []domain.MalformedMessage
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				bad = append(bad, domain.MalformedMessage{Reason: "list element is not an object", Raw: preview(raw)})
				continue
			}
			a, m := normalizeObject(obj)
			if m != nil {
				bad = append(bad, *m)
				continue
			}
			out = append(out, *a)
		}
		return out, bad
	case map[string]any:
		// payload 包裹形态：{"payload": {...}} 或 {"payload": [...]}
		if payload, ok := v["payload"]; ok {
			if _, isObj := payload.(map[string]any); isObj {
				return normalizeValue(payload, raw)
			}
			if _, isList := payload.([]any); isList {
				return normalizeValue(payload, raw)
			}
		}
		a, m := normalizeObject(v)
		if m != nil {
			return nil, []domain.MalformedMessage{*m}
		}
		return []domain.NormalizedActivity{*a}, nil
	default:
		return nil, []domain.MalformedMessage{{Reason: "unexpected message shape", Raw: preview(raw)}}
	}
}

// normalizeObject 归一化单个活动对象
func normalizeObject(m map[string]any) (*domain.NormalizedActivity, *domain.MalformedMessage) {
	wallet := probeString(m, walletKeys)
	if wallet == "" {
		return nil, &domain.MalformedMessage{Reason: "missing wallet address", Raw: previewMap(m)}
	}

	txHash := probeString(m, txHashKeys)
	if txHash == "" {
		return nil, &domain.MalformedMessage{Reason: "missing transaction hash", Raw: previewMap(m)}
	}

	activityType := domain.ActivityTrade
	switch strings.ToUpper(probeString(m, []string{"type", "eventType"})) {
	case "MERGE":
		activityType = domain.ActivityMerge
	case "", "TRADE", "TRADES":
		activityType = domain.ActivityTrade
	default:
		return nil, &domain.MalformedMessage{Reason: "unsupported activity type", Raw: previewMap(m)}
	}

	side := domain.SideBuy
	switch strings.ToUpper(probeString(m, []string{"side"})) {
	case "SELL":
		side = domain.SideSell
	case "BUY", "":
		side = domain.SideBuy
	default:
		return nil, &domain.MalformedMessage{Reason: "unsupported side", Raw: previewMap(m)}
	}
	// MERGE 语义上等价于卖出全部仓位
	if activityType == domain.ActivityMerge {
		side = domain.SideSell
	}

	size := probeFloat(m, []string{"size", "amount"})
	price := probeFloat(m, []string{"price", "avgPrice"})
	notional := probeFloat(m, []string{"usdcSize", "usdc_size", "value"})
	if notional == 0 && size > 0 && price > 0 {
		notional = size * price
	}

	return &domain.NormalizedActivity{
		Wallet:          strings.ToLower(wallet),
		Type:            activityType,
		ConditionID:     probeString(m, conditionKeys),
		Asset:           probeString(m, assetKeys),
		Side:            side,
		Size:            size,
		Price:           price,
		NotionalUSD:     notional,
		Outcome:         probeString(m, []string{"outcome"}),
		OutcomeIndex:    int(probeFloat(m, []string{"outcomeIndex", "outcome_index"})),
		Title:           probeString(m, []string{"title", "question"}),
		TransactionHash: txHash,
		Timestamp:       parseTimestamp(probeFloat(m, []string{"timestamp", "ts"})),
	}, nil
}

// parseTimestamp 兼容秒和毫秒两种单位
func parseTimestamp(ts float64) time.Time {
	if ts <= 0 {
		return time.Now()
	}
	// 1e12 之前按秒解释，之后按毫秒
	if ts <= 1e12 {
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * 1e9)
		return time.Unix(sec, nsec)
	}
	return time.UnixMilli(int64(ts))
}

// probeString 按候选顺序探测字符串字段
func probeString(m map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// probeFloat 按候选顺序探测数值字段（兼容数字和数字字符串）
func probeFloat(m map[string]any, keys []string) float64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f
			}
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f
			}
		}
	}
	return 0
}

const previewLimit = 240

func preview(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > previewLimit {
		return s[:previewLimit] + "...(truncated)"
	}
	return s
}

func previewMap(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return preview(b)
}
