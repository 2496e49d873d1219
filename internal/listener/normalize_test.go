package listener

import (
	"testing"
	"time"

	"github.com/betbot/copytrader/internal/domain"
)

func TestNormalize_SingleObject(t *testing.T) {
	data := []byte(`{
		"proxyWallet": "0xAbCd",
		"type": "TRADE",
		"side": "BUY",
		"asset": "123456",
		"conditionId": "0xcond",
		"size": 10,
		"price": 0.5,
		"usdcSize": 5,
		"outcome": "Yes",
		"outcomeIndex": 0,
		"transactionHash": "0xtx1",
		"timestamp": 1756600000
	}`)

	activities, malformed := Normalize(data)
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed: %+v", malformed)
	}
	if len(activities) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(activities))
	}

	a := activities[0]
	if a.Wallet != "0xabcd" {
		t.Fatalf("expected lowercased wallet, got %q", a.Wallet)
	}
	if a.Side != domain.SideBuy || a.Type != domain.ActivityTrade {
		t.Fatalf("unexpected side/type: %+v", a)
	}
	if a.NotionalUSD != 5 || a.Size != 10 || a.Price != 0.5 {
		t.Fatalf("unexpected amounts: %+v", a)
	}
	if a.Timestamp.Unix() != 1756600000 {
		t.Fatalf("unexpected timestamp: %v", a.Timestamp)
	}
}

func TestNormalize_PayloadWrappedList(t *testing.T) {
	data := []byte(`{"payload": [
		{"user": "0xaaa", "side": "SELL", "tokenId": "111", "market": "0xcond", "txHash": "0xtx1", "size": "3", "price": "0.4"},
		{"user": "0xbbb", "side": "BUY", "tokenId": "222", "market": "0xcond", "txHash": "0xtx2", "size": 2, "price": 0.3}
	]}`)

	activities, malformed := Normalize(data)
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed: %+v", malformed)
	}
	if len(activities) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(activities))
	}

	// 字段名候选探测：user/tokenId/market/txHash，数字字符串也能解析
	a := activities[0]
	if a.Wallet != "0xaaa" || a.Asset != "111" || a.ConditionID != "0xcond" || a.TransactionHash != "0xtx1" {
		t.Fatalf("probing failed: %+v", a)
	}
	if a.Side != domain.SideSell {
		t.Fatalf("expected SELL, got %s", a.Side)
	}
	// 缺 usdcSize 时退回 size*price
	if a.NotionalUSD != 3*0.4 {
		t.Fatalf("expected notional fallback, got %f", a.NotionalUSD)
	}
}

func TestNormalize_MergeImpliesSell(t *testing.T) {
	data := []byte(`{"maker": "0xaaa", "type": "MERGE", "conditionId": "0xcond", "hash": "0xtx1"}`)

	activities, malformed := Normalize(data)
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed: %+v", malformed)
	}
	a := activities[0]
	if a.Type != domain.ActivityMerge || a.Side != domain.SideSell {
		t.Fatalf("expected MERGE to normalize as SELL, got %+v", a)
	}
}

func TestNormalize_MillisecondTimestamp(t *testing.T) {
	data := []byte(`{"user": "0xaaa", "transactionHash": "0xtx1", "timestamp": 1756600000000}`)

	activities, _ := Normalize(data)
	if len(activities) != 1 {
		t.Fatalf("expected 1 activity")
	}
	if activities[0].Timestamp.UnixMilli() != 1756600000000 {
		t.Fatalf("unexpected timestamp: %v", activities[0].Timestamp)
	}
}

func TestNormalize_MissingTimestampDefaultsToNow(t *testing.T) {
	data := []byte(`{"user": "0xaaa", "transactionHash": "0xtx1"}`)

	activities, _ := Normalize(data)
	if len(activities) != 1 {
		t.Fatalf("expected 1 activity")
	}
	if time.Since(activities[0].Timestamp) > time.Minute {
		t.Fatalf("expected current timestamp, got %v", activities[0].Timestamp)
	}
}

func TestNormalize_Malformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"invalid json", `{not json`},
		{"missing wallet", `{"transactionHash": "0xtx1"}`},
		{"missing tx hash", `{"user": "0xaaa"}`},
		{"unsupported type", `{"user": "0xaaa", "transactionHash": "0xtx1", "type": "SPLIT"}`},
		{"unsupported side", `{"user": "0xaaa", "transactionHash": "0xtx1", "side": "SHORT"}`},
		{"scalar message", `42`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			activities, malformed := Normalize([]byte(tc.data))
			if len(activities) != 0 {
				t.Fatalf("expected no activities, got %+v", activities)
			}
			if len(malformed) == 0 {
				t.Fatalf("expected malformed report")
			}
			if malformed[0].Reason == "" {
				t.Fatalf("expected a reason")
			}
		})
	}
}

func TestNormalize_MixedList(t *testing.T) {
	// 列表里一条好一条坏：好的照常归一化，坏的单独上报
	data := []byte(`[
		{"user": "0xaaa", "transactionHash": "0xtx1", "side": "BUY"},
		{"side": "BUY"}
	]`)

	activities, malformed := Normalize(data)
	if len(activities) != 1 || len(malformed) != 1 {
		t.Fatalf("expected 1 good + 1 bad, got %d/%d", len(activities), len(malformed))
	}
}
