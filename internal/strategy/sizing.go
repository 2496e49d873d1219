package strategy

import (
	"fmt"
)

// balanceBuffer 余额缓冲系数：最多使用可用余额的 99%，给滑点和手续费留余量
const balanceBuffer = 0.99

// Calculation 订单金额计算结果及审计轨迹
type Calculation struct {
	TraderOrderSize float64
	BaseAmount      float64
	FinalAmount     float64
	Strategy        Kind

	CappedByMax      bool
	ReducedByBalance bool
	BelowMinimum     bool

	Reasoning []string
}

func (c *Calculation) note(format string, args ...interface{}) {
	c.Reasoning = append(c.Reasoning, fmt.Sprintf(format, args...))
}

// Calculate 计算跟单订单金额（纯函数）
// 固定的步骤顺序：基础金额 → 乘数 → 单笔上限 → 仓位余量 → 余额上限 → 最小金额。
// 每一步都可能把金额压到零；返回完整的推理轨迹供下游日志使用。
func Calculate(cfg *Config, sourceSize, balance, positionValue float64) Calculation {
	calc := Calculation{
		TraderOrderSize: sourceSize,
		Strategy:        cfg.Kind,
	}

	// 1. 基础金额
	var amount float64
	switch cfg.Kind {
	case KindFixed:
		amount = cfg.CopySize
		calc.note("fixed strategy: base=$%.2f", amount)
	case KindAdaptive:
		percent := adaptivePercent(cfg, sourceSize)
		amount = sourceSize * percent / 100
		calc.note("adaptive strategy: percent=%.2f%% base=$%.2f", percent, amount)
	default: // PERCENTAGE
		amount = sourceSize * cfg.CopySize / 100
		calc.note("percentage strategy: %.2f%% of $%.2f = $%.2f", cfg.CopySize, sourceSize, amount)
	}
	calc.BaseAmount = amount

	// 2. 分层/单一乘数
	mult := cfg.TradeMultiplier(sourceSize)
	if mult != 1.0 {
		amount *= mult
		calc.note("multiplier x%.2f -> $%.2f", mult, amount)
	}

	// 3. 单笔订单上限
	if amount > cfg.MaxOrderSize {
		amount = cfg.MaxOrderSize
		calc.CappedByMax = true
		calc.note("capped by max_order_size to $%.2f", amount)
	}

	// 4. 仓位上限余量；余量本身低于最小金额时直接归零，不发尘埃单
	if cfg.MaxPositionSize > 0 {
		headroom := cfg.MaxPositionSize - positionValue
		if headroom < cfg.MinOrderSize {
			amount = 0
			calc.note("position limit reached: headroom $%.2f below min order $%.2f", headroom, cfg.MinOrderSize)
		} else if amount > headroom {
			amount = headroom
			calc.note("reduced to position headroom $%.2f", amount)
		}
	}

	// 5. 余额上限（99% 缓冲）
	maxAffordable := balance * balanceBuffer
	if amount > maxAffordable {
		amount = maxAffordable
		calc.ReducedByBalance = true
		calc.note("reduced to %.0f%% of balance: $%.2f", balanceBuffer*100, amount)
	}

	// 6. 最小金额：低于下限时抬高到恰好 min_order_size
	// 抬高后超出余额缓冲的话仍归零，维持 final ≤ 0.99*balance 的不变量。
	if amount > 0 && amount < cfg.MinOrderSize {
		if cfg.MinOrderSize <= maxAffordable {
			amount = cfg.MinOrderSize
			calc.BelowMinimum = true
			calc.note("raised to min_order_size $%.2f", amount)
		} else {
			amount = 0
			calc.note("below min_order_size and balance cannot cover the minimum, skipping")
		}
	}

	if amount < 0 {
		amount = 0
	}
	calc.FinalAmount = amount
	calc.note("final amount: $%.2f", amount)
	return calc
}

// adaptivePercent 自适应百分比插值
// 源交易越大，跟单比例越低：
//   - size >= threshold: 从 copy_size 线性下降到 min_percent，
//     size 到达 2*threshold 时触底（factor 截断在 [0,1]）
//   - size < threshold:  从 max_percent（size=0）线性过渡到 copy_size（size=threshold）
func adaptivePercent(cfg *Config, size float64) float64 {
	if cfg.Threshold <= 0 {
		return cfg.CopySize
	}
	if size >= cfg.Threshold {
		factor := size/cfg.Threshold - 1
		if factor > 1 {
			factor = 1
		}
		return lerp(cfg.CopySize, cfg.MinPercent, factor)
	}
	factor := size / cfg.Threshold
	return lerp(cfg.MaxPercent, cfg.CopySize, factor)
}

// lerp 线性插值
func lerp(from, to, factor float64) float64 {
	return from + (to-from)*factor
}
