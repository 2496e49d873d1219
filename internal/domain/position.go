package domain

// Position 数据服务返回的仓位快照（只读投影，不由本引擎拥有）
type Position struct {
	Wallet        string  `json:"-"`
	Asset         string  `json:"asset"`
	ConditionID   string  `json:"conditionId"`
	Size          float64 `json:"size"`         // 持有的代币数量
	AvgPrice      float64 `json:"avgPrice"`
	CurrentValue  float64 `json:"currentValue"` // 美元现值
	Outcome       string  `json:"outcome"`
	OutcomeIndex  int     `json:"outcomeIndex"`
	OppositeAsset string  `json:"oppositeAsset"`
	Redeemable    bool    `json:"redeemable"`
	Title         string  `json:"title"`
}

// FindByCondition 在快照列表中查找指定市场的仓位
func FindByCondition(positions []Position, conditionID string) *Position {
	for i := range positions {
		if positions[i].ConditionID == conditionID {
			return &positions[i]
		}
	}
	return nil
}

// FindByAsset 在快照列表中查找指定 instrument 的仓位
func FindByAsset(positions []Position, asset string) *Position {
	for i := range positions {
		if positions[i].Asset == asset {
			return &positions[i]
		}
	}
	return nil
}
