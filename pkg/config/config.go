package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/betbot/copytrader/internal/strategy"
)

// DefaultClobHost CLOB API 地址
const DefaultClobHost = "https://clob.polymarket.com"

// WalletConfig 钱包配置
// PrivateKey 和 Mnemonic 二选一，Mnemonic 走 BIP44 派生第 0 个账户。
type WalletConfig struct {
	PrivateKey    string `yaml:"private_key"`
	Mnemonic      string `yaml:"mnemonic"`
	FunderAddress string `yaml:"funder_address"`
	SignatureType int    `yaml:"signature_type"` // 0=EOA 1=Magic 2=GnosisSafe
}

// ListenerConfig 活动流监听配置
type ListenerConfig struct {
	WSURL                 string `yaml:"ws_url"`
	StalenessHours        int    `yaml:"staleness_hours"`
	ReconnectDelaySeconds int    `yaml:"reconnect_delay_seconds"`
	MaxReconnect          int    `yaml:"max_reconnect"`
	ColdStart             bool   `yaml:"cold_start"`
}

// ExecutionConfig 执行引擎配置
type ExecutionConfig struct {
	PollIntervalMs           int     `yaml:"poll_interval_ms"`
	RetryLimit               int     `yaml:"retry_limit"`
	MinOrderNotional         float64 `yaml:"min_order_notional"`
	AggregationWindowSeconds int     `yaml:"aggregation_window_seconds"`
	PositionRefreshSeconds   int     `yaml:"position_refresh_seconds"`
}

// EndpointConfig 外部服务地址
type EndpointConfig struct {
	ClobHost string `yaml:"clob_host"`
	RPCURL   string `yaml:"rpc_url"`
}

// StorageConfig 本地存储路径
type StorageConfig struct {
	QueueDir string `yaml:"queue_dir"`
	AuditDB  string `yaml:"audit_db"`
}

// Config 应用配置
type Config struct {
	Wallet         WalletConfig    `yaml:"wallet"`
	TrackedWallets []string        `yaml:"tracked_wallets"`
	Strategy       strategy.Config `yaml:"strategy"`
	Listener       ListenerConfig  `yaml:"listener"`
	Execution      ExecutionConfig `yaml:"execution"`
	Endpoints      EndpointConfig  `yaml:"endpoints"`
	Storage        StorageConfig   `yaml:"storage"`
	LogLevel       string          `yaml:"log_level"`
	LogFile        string          `yaml:"log_file"`
}

// Load 从 YAML 文件加载配置并叠加环境变量
// 优先级：环境变量 > 配置文件 > 默认值。
func Load(filePath string) (*Config, error) {
	cfg := defaults()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Strategy: strategy.Config{
			Kind:         strategy.KindPercentage,
			CopySize:     10,
			MinOrderSize: 1,
			MaxOrderSize: 100,
		},
		Listener: ListenerConfig{
			StalenessHours:        24,
			ReconnectDelaySeconds: 5,
			MaxReconnect:          10,
		},
		Execution: ExecutionConfig{
			PollIntervalMs:           300,
			RetryLimit:               3,
			MinOrderNotional:         1.0,
			AggregationWindowSeconds: 300,
			PositionRefreshSeconds:   30,
		},
		Endpoints: EndpointConfig{
			ClobHost: DefaultClobHost,
		},
		Storage: StorageConfig{
			QueueDir: "data/queue",
			AuditDB:  "data/audit.db",
		},
		LogLevel: "info",
		LogFile:  "logs/copytrader.log",
	}
}

// applyEnv 环境变量覆盖（部署时无需改配置文件）
func applyEnv(cfg *Config) {
	cfg.Wallet.PrivateKey = getEnv("WALLET_PRIVATE_KEY", cfg.Wallet.PrivateKey)
	cfg.Wallet.Mnemonic = getEnv("WALLET_MNEMONIC", cfg.Wallet.Mnemonic)
	cfg.Wallet.FunderAddress = getEnv("WALLET_FUNDER_ADDRESS", cfg.Wallet.FunderAddress)

	if v := getEnv("TRACKED_WALLETS", ""); v != "" {
		cfg.TrackedWallets = splitList(v)
	}

	cfg.Endpoints.ClobHost = getEnv("CLOB_HOST", cfg.Endpoints.ClobHost)
	cfg.Endpoints.RPCURL = getEnv("POLYGON_RPC_URL", cfg.Endpoints.RPCURL)
	cfg.Storage.QueueDir = getEnv("QUEUE_DIR", cfg.Storage.QueueDir)
	cfg.Storage.AuditDB = getEnv("AUDIT_DB", cfg.Storage.AuditDB)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	cfg.Strategy.CopySize = parseFloatEnv("STRATEGY_COPY_SIZE", cfg.Strategy.CopySize)
	cfg.Strategy.MaxOrderSize = parseFloatEnv("STRATEGY_MAX_ORDER_SIZE", cfg.Strategy.MaxOrderSize)
	cfg.Strategy.MinOrderSize = parseFloatEnv("STRATEGY_MIN_ORDER_SIZE", cfg.Strategy.MinOrderSize)
	if v := getEnv("STRATEGY_KIND", ""); v != "" {
		cfg.Strategy.Kind = strategy.Kind(strings.ToUpper(v))
	}
	if v := getEnv("STRATEGY_TIERS", ""); v != "" {
		cfg.Strategy.TiersRaw = v
	}

	cfg.Listener.ColdStart = parseBoolEnv("COLD_START", cfg.Listener.ColdStart)
}

// Validate 验证配置（启动时失败即退出，不做部分启动）
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" && c.Wallet.Mnemonic == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY 或 WALLET_MNEMONIC 必须配置其一")
	}
	if len(c.TrackedWallets) == 0 {
		return fmt.Errorf("tracked_wallets 不能为空")
	}
	if c.Wallet.SignatureType < 0 || c.Wallet.SignatureType > 2 {
		return fmt.Errorf("signature_type 必须在 0 到 2 之间")
	}
	if err := strategy.Validate(&c.Strategy); err != nil {
		return err
	}
	if c.Execution.RetryLimit <= 0 {
		return fmt.Errorf("retry_limit 必须大于 0")
	}
	if c.Execution.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms 必须大于 0")
	}
	if c.Listener.MaxReconnect <= 0 {
		return fmt.Errorf("max_reconnect 必须大于 0")
	}
	return nil
}

// splitList 解析逗号分隔列表
func splitList(str string) []string {
	parts := strings.Split(str, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
