package strategy

import (
	"math"
	"testing"
)

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers("1-10:2.0,10-100:1.0,100+:0.1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(tiers) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(tiers))
	}
	if tiers[0].Min != 1 || tiers[0].Max != 10 || tiers[0].Multiplier != 2.0 {
		t.Fatalf("unexpected first tier: %+v", tiers[0])
	}
	if !math.IsInf(tiers[2].Max, 1) {
		t.Fatalf("expected last tier unbounded, got %+v", tiers[2])
	}
}

func TestParseTiers_Unsorted(t *testing.T) {
	tiers, err := ParseTiers("100+:0.1,1-10:2.0,10-100:1.0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if tiers[0].Min != 1 {
		t.Fatalf("expected tiers sorted by min, got %+v", tiers)
	}
}

func TestParseTiers_Rejected(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"overlap", "1-10:2.0,5-20:1.0"},
		{"gap", "1-10:2.0,20-100:1.0"},
		{"empty", ""},
		{"missing multiplier", "1-10"},
		{"negative multiplier", "1-10:-1"},
		{"inverted range", "10-1:2.0"},
		{"garbage", "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseTiers(tc.in); err == nil {
				t.Fatalf("expected error for %q", tc.in)
			}
		})
	}
}

func TestTradeMultiplier(t *testing.T) {
	tiers, err := ParseTiers("1-10:2.0,10-100:1.0,100+:0.1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	cfg := &Config{Tiers: tiers}

	cases := []struct {
		size float64
		want float64
	}{
		{5, 2.0},
		{10, 1.0}, // 边界属于上一层的 Max，落入下一层
		{50, 1.0},
		{100, 0.1},
		{1e9, 0.1},
		{0.5, 0.1}, // 不落在任何层：沿用最后一层
	}
	for _, tc := range cases {
		if got := cfg.TradeMultiplier(tc.size); got != tc.want {
			t.Fatalf("size=%f: got %f want %f", tc.size, got, tc.want)
		}
	}
}

func TestTradeMultiplier_NoTiers(t *testing.T) {
	cfg := &Config{}
	if got := cfg.TradeMultiplier(100); got != 1.0 {
		t.Fatalf("expected default multiplier 1.0, got %f", got)
	}
	cfg.Multiplier = 0.5
	if got := cfg.TradeMultiplier(100); got != 0.5 {
		t.Fatalf("expected single multiplier 0.5, got %f", got)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Kind:         KindPercentage,
		CopySize:     10,
		MinOrderSize: 1,
		MaxOrderSize: 100,
	}
	if err := Validate(&valid); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown kind", func(c *Config) { c.Kind = "MARTINGALE" }},
		{"zero copy size", func(c *Config) { c.CopySize = 0 }},
		{"percentage over 100", func(c *Config) { c.CopySize = 150 }},
		{"min over max", func(c *Config) { c.MinOrderSize = 200 }},
		{"zero min order", func(c *Config) { c.MinOrderSize = 0 }},
		{"adaptive missing percents", func(c *Config) { c.Kind = KindAdaptive }},
		{"bad tiers", func(c *Config) { c.TiersRaw = "1-10:2.0,5-20:1.0" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := Validate(&cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidate_ParsesTiers(t *testing.T) {
	cfg := Config{
		Kind:         KindPercentage,
		CopySize:     10,
		MinOrderSize: 1,
		MaxOrderSize: 100,
		TiersRaw:     "1-10:2.0,10+:1.0",
	}
	if err := Validate(&cfg); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(cfg.Tiers) != 2 {
		t.Fatalf("expected tiers parsed during validation, got %+v", cfg.Tiers)
	}
}
