package strategy

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind 跟单策略类型
type Kind string

const (
	KindPercentage Kind = "PERCENTAGE" // 按源交易金额的百分比
	KindFixed      Kind = "FIXED"      // 固定金额
	KindAdaptive   Kind = "ADAPTIVE"   // 自适应百分比（小单放大、大单缩小）
)

// Tier 交易规模分层 [Min, Max) → 乘数
// 最后一层 Max 为 +Inf（无上界）。
type Tier struct {
	Min        float64
	Max        float64
	Multiplier float64
}

// Contains 判断 size 是否落在本层
func (t Tier) Contains(size float64) bool {
	return size >= t.Min && size < t.Max
}

// Config 跟单策略配置
type Config struct {
	Kind     Kind    `yaml:"kind"`
	CopySize float64 `yaml:"copy_size"`

	// 自适应策略参数（Kind == ADAPTIVE 时必填）
	MinPercent float64 `yaml:"min_percent"`
	MaxPercent float64 `yaml:"max_percent"`
	Threshold  float64 `yaml:"threshold"`

	// 分层乘数（与 Multiplier 二选一；都未配置时乘数为 1.0）
	Tiers      []Tier  `yaml:"-"`
	TiersRaw   string  `yaml:"tiers"`
	Multiplier float64 `yaml:"multiplier"`

	MaxOrderSize    float64 `yaml:"max_order_size"`
	MinOrderSize    float64 `yaml:"min_order_size"`
	MaxPositionSize float64 `yaml:"max_position_size"` // 0 表示不限制
	MaxDailyVolume  float64 `yaml:"max_daily_volume"`  // 0 表示不限制
}

// Validate 校验策略配置，非法配置在启动时致命
func Validate(cfg *Config) error {
	switch cfg.Kind {
	case KindPercentage, KindFixed, KindAdaptive:
	default:
		return errors.Errorf("strategy: unknown kind %q", cfg.Kind)
	}
	if cfg.CopySize <= 0 {
		return errors.New("strategy: copy_size must be positive")
	}
	if cfg.Kind == KindPercentage && cfg.CopySize > 100 {
		return errors.Errorf("strategy: PERCENTAGE copy_size %.2f exceeds 100", cfg.CopySize)
	}
	if cfg.Kind == KindAdaptive {
		if cfg.MinPercent <= 0 || cfg.MaxPercent <= 0 {
			return errors.New("strategy: ADAPTIVE requires min_percent and max_percent")
		}
		if cfg.Threshold <= 0 {
			return errors.New("strategy: ADAPTIVE requires a positive threshold")
		}
		if cfg.MinPercent > cfg.MaxPercent {
			return errors.Errorf("strategy: min_percent %.2f exceeds max_percent %.2f", cfg.MinPercent, cfg.MaxPercent)
		}
	}
	if cfg.MinOrderSize <= 0 {
		return errors.New("strategy: min_order_size must be positive")
	}
	if cfg.MaxOrderSize <= 0 {
		return errors.New("strategy: max_order_size must be positive")
	}
	if cfg.MinOrderSize > cfg.MaxOrderSize {
		return errors.Errorf("strategy: min_order_size %.2f exceeds max_order_size %.2f", cfg.MinOrderSize, cfg.MaxOrderSize)
	}
	if cfg.MaxPositionSize < 0 || cfg.MaxDailyVolume < 0 {
		return errors.New("strategy: position/volume limits must not be negative")
	}
	if cfg.TiersRaw != "" {
		tiers, err := ParseTiers(cfg.TiersRaw)
		if err != nil {
			return err
		}
		cfg.Tiers = tiers
	}
	return nil
}

// ParseTiers 解析分层乘数字符串
// 接受逗号分隔的 "min-max:multiplier" 与 "min+:multiplier" 子句，
// 按 Min 排序；重叠、断档或格式错误视为配置错误。
func ParseTiers(s string) ([]Tier, error) {
	clauses := strings.Split(s, ",")
	tiers := make([]Tier, 0, len(clauses))
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		parts := strings.SplitN(clause, ":", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("strategy: malformed tier clause %q", clause)
		}
		mult, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || mult < 0 {
			return nil, errors.Errorf("strategy: invalid multiplier in tier %q", clause)
		}

		rangePart := strings.TrimSpace(parts[0])
		var tier Tier
		tier.Multiplier = mult
		if strings.HasSuffix(rangePart, "+") {
			// "min+" 无上界
			min, err := strconv.ParseFloat(strings.TrimSuffix(rangePart, "+"), 64)
			if err != nil || min < 0 {
				return nil, errors.Errorf("strategy: invalid tier range %q", clause)
			}
			tier.Min = min
			tier.Max = math.Inf(1)
		} else {
			bounds := strings.SplitN(rangePart, "-", 2)
			if len(bounds) != 2 {
				return nil, errors.Errorf("strategy: invalid tier range %q", clause)
			}
			min, err1 := strconv.ParseFloat(strings.TrimSpace(bounds[0]), 64)
			max, err2 := strconv.ParseFloat(strings.TrimSpace(bounds[1]), 64)
			if err1 != nil || err2 != nil || min < 0 || max <= min {
				return nil, errors.Errorf("strategy: invalid tier range %q", clause)
			}
			tier.Min = min
			tier.Max = max
		}
		tiers = append(tiers, tier)
	}
	if len(tiers) == 0 {
		return nil, errors.New("strategy: empty tier string")
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Min < tiers[j].Min })

	// 相邻层必须首尾相接：重叠和断档都拒绝
	for i := 0; i < len(tiers)-1; i++ {
		if tiers[i].Max > tiers[i+1].Min {
			return nil, errors.Errorf("strategy: overlapping tiers [%.2f,%.2f) and [%.2f,%.2f)",
				tiers[i].Min, tiers[i].Max, tiers[i+1].Min, tiers[i+1].Max)
		}
		if tiers[i].Max < tiers[i+1].Min {
			return nil, errors.Errorf("strategy: gap between tiers at %.2f", tiers[i].Max)
		}
	}
	// 只有最后一层允许无上界
	for i := 0; i < len(tiers)-1; i++ {
		if math.IsInf(tiers[i].Max, 1) {
			return nil, errors.New("strategy: only the last tier may be unbounded")
		}
	}
	return tiers, nil
}

// TradeMultiplier 解析 size 对应的乘数
// 无分层配置时退回单一乘数，单一乘数也未配置时为 1.0；
// size 不落在任何层时沿用最后一层的乘数（与历史行为保持一致）。
func (cfg *Config) TradeMultiplier(size float64) float64 {
	if len(cfg.Tiers) == 0 {
		if cfg.Multiplier > 0 {
			return cfg.Multiplier
		}
		return 1.0
	}
	for _, tier := range cfg.Tiers {
		if tier.Contains(size) {
			return tier.Multiplier
		}
	}
	return cfg.Tiers[len(cfg.Tiers)-1].Multiplier
}
