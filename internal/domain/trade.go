package domain

import (
	"time"
)

// Side 交易方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ActivityType 活动流事件类型
type ActivityType string

const (
	ActivityTrade ActivityType = "TRADE"
	ActivityMerge ActivityType = "MERGE"
)

// Result 队列记录的终态
type Result string

const (
	ResultNone      Result = ""          // 尚未终结
	ResultSuccess   Result = "success"   // 执行成功（含部分成交后余额耗尽前的累计）
	ResultSkipped   Result = "skipped"   // 无可交易 instrument 或聚合丢弃，跳过
	ResultAborted   Result = "aborted"   // 余额/授权不足，需要人工处理
	ResultExhausted Result = "exhausted" // 重试次数耗尽
	ResultColdStart Result = "cold_start" // 冷启动时标记的历史积压
)

// QueuedTrade 持久化的规范交易记录
// 由 Listener 创建，之后只由执行引擎修改（claim → finalize），不删除。
type QueuedTrade struct {
	ID              string       `json:"id"`
	Wallet          string       `json:"wallet"`
	Type            ActivityType `json:"type"`
	ConditionID     string       `json:"conditionId"`
	Asset           string       `json:"asset"`
	Side            Side         `json:"side"`
	Size            float64      `json:"size"`     // 代币数量
	Price           float64      `json:"price"`    // 成交均价
	NotionalUSD     float64      `json:"usdcSize"` // 美元名义金额
	Outcome         string       `json:"outcome"`
	OutcomeIndex    int          `json:"outcomeIndex"`
	Title           string       `json:"title"`
	TransactionHash string       `json:"transactionHash"`
	Timestamp       time.Time    `json:"timestamp"`

	// 队列状态：Claimed 在任何网络副作用之前置位，保证至多执行一次
	Claimed      bool    `json:"claimed"`
	Processed    bool    `json:"processed"`
	Attempts     int     `json:"attempts"`
	Result       Result  `json:"result,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	FilledTokens float64 `json:"filledTokens"` // 累计成交的代币数量（审计用）

	// 聚合合成交易的成员记录哈希（非聚合记录为空）
	MemberHashes []string `json:"memberHashes,omitempty"`
}

// IsSynthetic 是否为聚合缓冲产生的合成交易
func (t *QueuedTrade) IsSynthetic() bool {
	return len(t.MemberHashes) > 0
}

// Terminal 记录是否已终结（不再被执行引擎处理）
func (t *QueuedTrade) Terminal() bool {
	return t.Processed
}
