package domain

import (
	"time"
)

// NormalizedActivity 活动流消息归一化后的规范形态
// Listener 把三种线缆形态（单对象 / payload 包裹 / 列表）统一成这个结构。
type NormalizedActivity struct {
	Wallet          string
	Type            ActivityType
	ConditionID     string
	Asset           string
	Side            Side
	Size            float64
	Price           float64
	NotionalUSD     float64
	Outcome         string
	OutcomeIndex    int
	Title           string
	TransactionHash string
	Timestamp       time.Time
}

// MalformedMessage 无法归一化的消息，保留原因用于结构化日志
type MalformedMessage struct {
	Reason string
	Raw    string
}

// ToQueuedTrade 转换为队列记录（id 由调用方分配）
func (a *NormalizedActivity) ToQueuedTrade(id string) *QueuedTrade {
	return &QueuedTrade{
		ID:              id,
		Wallet:          a.Wallet,
		Type:            a.Type,
		ConditionID:     a.ConditionID,
		Asset:           a.Asset,
		Side:            a.Side,
		Size:            a.Size,
		Price:           a.Price,
		NotionalUSD:     a.NotionalUSD,
		Outcome:         a.Outcome,
		OutcomeIndex:    a.OutcomeIndex,
		Title:           a.Title,
		TransactionHash: a.TransactionHash,
		Timestamp:       a.Timestamp,
	}
}
