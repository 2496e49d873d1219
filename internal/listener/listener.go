package listener

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/betbot/copytrader/clob/rtds"
	"github.com/betbot/copytrader/internal/domain"
	"github.com/betbot/copytrader/internal/queue"
	"github.com/betbot/copytrader/pkg/logger"
)

// defaultStaleCutoff 超过该时长的历史交易不跟单（重连补发的旧消息）
const defaultStaleCutoff = 24 * time.Hour

// Config Listener 配置
type Config struct {
	// Wallets 被跟踪的交易员钱包地址
	Wallets []string
	// RTDSURL 为空时使用默认的 RTDS 地址
	RTDSURL string
	// Staleness 过期阈值，0 表示默认 24 小时
	Staleness time.Duration
	// ReconnectDelay 重连基础延迟
	ReconnectDelay time.Duration
	// MaxReconnect 重连次数上限，耗尽后 Listener 永久停机
	MaxReconnect int
	// ColdStart 启动时把队列中全部待处理记录标记为已处理（不跟历史单）
	ColdStart bool
}

// Listener 订阅活动流，归一化、去重后写入持久队列
type Listener struct {
	cfg     Config
	store   *queue.Store
	client  *rtds.Client
	wallets map[string]bool
	halted  chan struct{}
}

// New 创建 Listener
func New(cfg Config, store *queue.Store) *Listener {
	if cfg.Staleness <= 0 {
		cfg.Staleness = defaultStaleCutoff
	}

	wallets := make(map[string]bool, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		wallets[strings.ToLower(w)] = true
	}

	l := &Listener{
		cfg:     cfg,
		store:   store,
		wallets: wallets,
		halted:  make(chan struct{}),
	}

	rtdsCfg := rtds.DefaultClientConfig()
	if cfg.RTDSURL != "" {
		rtdsCfg.URL = cfg.RTDSURL
	}
	if cfg.ReconnectDelay > 0 {
		rtdsCfg.ReconnectDelay = cfg.ReconnectDelay
	}
	if cfg.MaxReconnect > 0 {
		rtdsCfg.MaxReconnect = cfg.MaxReconnect
	}
	rtdsCfg.Logger = &rtdsLogger{}
	rtdsCfg.OnHalt = func() {
		logger.Errorf("活动流重连次数耗尽, Listener 停机, 需要人工介入")
		close(l.halted)
	}
	l.client = rtds.NewClientWithConfig(rtdsCfg)

	return l
}

// Halted 返回停机信号通道（重连耗尽时关闭）
func (l *Listener) Halted() <-chan struct{} {
	return l.halted
}

// Start 连接活动流并开始写入队列
func (l *Listener) Start() error {
	if len(l.wallets) == 0 {
		return errors.New("listener: 未配置跟踪钱包")
	}

	if l.cfg.ColdStart {
		n, err := l.store.MarkAllPendingProcessed()
		if err != nil {
			return errors.Wrap(err, "listener: cold start")
		}
		if n > 0 {
			logger.Infof("冷启动: 跳过 %d 条历史积压记录", n)
		}
	}

	l.client.RegisterHandler(rtds.TopicActivity, l.handleActivity)

	if err := l.client.Connect(); err != nil {
		return errors.Wrap(err, "listener: connect")
	}

	if err := l.client.SubscribeToTrades(l.cfg.Wallets...); err != nil {
		return errors.Wrap(err, "listener: subscribe")
	}

	logger.Infof("活动流已订阅, 跟踪 %d 个钱包", len(l.wallets))
	return nil
}

// Stop 断开活动流
func (l *Listener) Stop() error {
	return l.client.Disconnect()
}

// handleActivity 处理一条活动流消息
func (l *Listener) handleActivity(msg *rtds.Message) error {
	if msg.Type != rtds.TypeTrades || len(msg.Payload) == 0 {
		return nil
	}

	activities, malformed := Normalize(msg.Payload)
	for _, m := range malformed {
		logger.WithField("reason", m.Reason).Warnf("丢弃无法归一化的活动消息: %s", m.Raw)
	}

	for i := range activities {
		l.ingest(&activities[i])
	}
	return nil
}

// ingest 过滤并入队单条活动
func (l *Listener) ingest(a *domain.NormalizedActivity) {
	// 服务端过滤不可完全信任，本地再按钱包过滤一次
	if !l.wallets[a.Wallet] {
		return
	}

	if time.Since(a.Timestamp) > l.cfg.Staleness {
		logger.Debugf("跳过过期交易 wallet=%s tx=%s age=%s", a.Wallet, a.TransactionHash, time.Since(a.Timestamp))
		return
	}

	trade := a.ToQueuedTrade(uuid.NewString())
	inserted, err := l.store.Enqueue(trade)
	if err != nil {
		logger.Errorf("入队失败 wallet=%s tx=%s: %v", a.Wallet, a.TransactionHash, err)
		return
	}
	if !inserted {
		// 同一钱包同一交易哈希只入队一次
		return
	}

	logger.WithFields(map[string]interface{}{
		"wallet": a.Wallet,
		"tx":     a.TransactionHash,
		"side":   string(a.Side),
		"usd":    a.NotionalUSD,
	}).Info("新交易入队")
}

// rtdsLogger 把 RTDS 客户端日志接入结构化日志
type rtdsLogger struct{}

func (r *rtdsLogger) Printf(format string, v ...interface{}) {
	logger.Debugf(strings.TrimSuffix(format, "\n"), v...)
}
