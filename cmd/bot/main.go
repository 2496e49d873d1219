package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/betbot/copytrader/clob/client"
	"github.com/betbot/copytrader/clob/signing"
	"github.com/betbot/copytrader/clob/types"
	"github.com/betbot/copytrader/internal/audit"
	"github.com/betbot/copytrader/internal/balance"
	"github.com/betbot/copytrader/internal/executor"
	"github.com/betbot/copytrader/internal/listener"
	"github.com/betbot/copytrader/internal/positions"
	"github.com/betbot/copytrader/internal/queue"
	"github.com/betbot/copytrader/internal/resolver"
	"github.com/betbot/copytrader/pkg/config"
	"github.com/betbot/copytrader/pkg/logger"
	"github.com/betbot/copytrader/pkg/shutdown"
)

// defaultDerivationPath 助记词派生路径（第 0 个账户）
const defaultDerivationPath = "m/44'/60'/0'/0/0"

func main() {
	configPath := flag.String("config", "", "配置文件路径 (YAML)")
	flag.Parse()

	// .env 不存在不算错误，环境变量可以由部署环境直接注入
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Errorf("启动失败: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	privateKey, err := loadPrivateKey(cfg)
	if err != nil {
		return err
	}

	ownAddress := signing.AddressFromPrivateKey(privateKey).Hex()
	funder := cfg.Wallet.FunderAddress
	if funder == "" {
		funder = ownAddress
	}
	logger.Infof("钱包地址 %s, funder %s, 签名类型 %d", ownAddress, funder, cfg.Wallet.SignatureType)

	// CLOB 客户端与 API 凭证
	clobClient := client.NewClient(cfg.Endpoints.ClobHost, types.ChainPolygon, privateKey,
		funder, types.SignatureType(cfg.Wallet.SignatureType))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creds, err := clobClient.CreateOrDeriveAPIKey(ctx, 0)
	if err != nil {
		return fmt.Errorf("获取 CLOB API 凭证失败: %w", err)
	}
	clobClient.SetCreds(creds)
	logger.Infof("CLOB API 凭证就绪 key=%s", creds.Key)

	// 持久队列
	store, err := queue.Open(queue.OpenOptions{Path: cfg.Storage.QueueDir})
	if err != nil {
		return err
	}
	defer store.Close()

	// 审计库（打不开不阻止启动，只丢失审计记录）
	var auditStore *audit.Store
	if cfg.Storage.AuditDB != "" {
		auditStore, err = audit.Open(cfg.Storage.AuditDB)
		if err != nil {
			logger.Warnf("审计库打开失败, 审计记录不可用: %v", err)
			auditStore = nil
		} else {
			defer auditStore.Close()
		}
	}

	// 链上 USDC 余额
	oracle, err := balance.NewOracle(cfg.Endpoints.RPCURL, funder)
	if err != nil {
		return fmt.Errorf("连接 Polygon RPC 失败: %w", err)
	}
	defer oracle.Close()

	// 仓位快照：自有钱包 + 被跟踪的交易员钱包
	tracker := positions.NewTracker(positions.NewClient(), funder,
		time.Duration(cfg.Execution.PositionRefreshSeconds)*time.Second,
		cfg.TrackedWallets...)

	// instrument 解析链
	chain := resolver.NewChain(clobClient, client.NewGammaClient(), tracker)

	engine := executor.New(executor.Config{
		PollInterval:      time.Duration(cfg.Execution.PollIntervalMs) * time.Millisecond,
		RetryLimit:        cfg.Execution.RetryLimit,
		MinOrderNotional:  cfg.Execution.MinOrderNotional,
		AggregationWindow: time.Duration(cfg.Execution.AggregationWindowSeconds) * time.Second,
	}, store, clobClient, oracle, tracker, chain, &cfg.Strategy, auditStore)

	lst := listener.New(listener.Config{
		Wallets:        cfg.TrackedWallets,
		RTDSURL:        cfg.Listener.WSURL,
		Staleness:      time.Duration(cfg.Listener.StalenessHours) * time.Hour,
		ReconnectDelay: time.Duration(cfg.Listener.ReconnectDelaySeconds) * time.Second,
		MaxReconnect:   cfg.Listener.MaxReconnect,
		ColdStart:      cfg.Listener.ColdStart,
	}, store)

	go tracker.Run(ctx)
	go engine.Run(ctx)

	if err := lst.Start(); err != nil {
		return err
	}
	logger.Infof("跟单机器人已启动, 跟踪 %d 个钱包", len(cfg.TrackedWallets))

	// 关闭回调注册
	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		if err := lst.Stop(); err != nil {
			logger.Warnf("断开活动流失败: %v", err)
		}
	})
	mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		cancel()
	})

	// 等待退出信号或 Listener 停机，然后在宽限时间内执行关闭回调
	mgr.WaitAndShutdown(lst.Halted(), shutdown.DefaultGrace)

	logger.Info("跟单机器人已退出")
	return nil
}

// loadPrivateKey 从私钥或助记词加载签名密钥
func loadPrivateKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	if cfg.Wallet.PrivateKey != "" {
		pk, err := signing.PrivateKeyFromHex(cfg.Wallet.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		return pk, nil
	}

	w, err := hdwallet.NewFromMnemonic(cfg.Wallet.Mnemonic)
	if err != nil {
		return nil, fmt.Errorf("无效的助记词: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(defaultDerivationPath)
	if err != nil {
		return nil, err
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("助记词派生失败: %w", err)
	}
	pk, err := w.PrivateKey(acct)
	if err != nil {
		return nil, err
	}
	return pk, nil
}
