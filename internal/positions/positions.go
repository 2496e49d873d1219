package positions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/copytrader/internal/domain"
	"github.com/betbot/copytrader/pkg/httpx"
	"github.com/betbot/copytrader/pkg/logger"
)

// DataAPIHost Polymarket 数据服务地址
const DataAPIHost = "https://data-api.polymarket.com"

// defaultRefreshInterval 仓位快照默认刷新间隔
const defaultRefreshInterval = 30 * time.Second

// Client 仓位数据客户端（只读，无需认证）
type Client struct {
	http *httpx.Client
}

// NewClient 创建仓位数据客户端
func NewClient() *Client {
	return &Client{http: httpx.NewClient(DataAPIHost)}
}

// Fetch 获取指定钱包的全部仓位
func (c *Client) Fetch(ctx context.Context, wallet string) ([]domain.Position, error) {
	var positions []domain.Position
	_, err := c.http.DoRequest(ctx, "GET", "/positions", &httpx.RequestOptions{
		Params: map[string]any{
			"user":          wallet,
			"sizeThreshold": "0.1",
			"limit":         500,
		},
	}, &positions)
	if err != nil {
		return nil, errors.Wrap(err, "positions: fetch")
	}
	for i := range positions {
		positions[i].Wallet = strings.ToLower(wallet)
	}
	return positions, nil
}

// Tracker 周期性刷新自有钱包和被跟踪钱包的仓位快照
// 执行引擎通过 Snapshot 读自有仓位，解析链通过 For 读源交易员仓位。
type Tracker struct {
	client   *Client
	own      string
	wallets  []string
	interval time.Duration

	mu        sync.RWMutex
	snapshots map[string][]domain.Position
	updatedAt time.Time
}

// NewTracker 创建仓位跟踪器
// own 为自有钱包；extra 为被跟踪的交易员钱包（去重、小写归一）。
func NewTracker(client *Client, own string, interval time.Duration, extra ...string) *Tracker {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	own = strings.ToLower(own)
	wallets := []string{own}
	seen := map[string]bool{own: true}
	for _, w := range extra {
		w = strings.ToLower(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		wallets = append(wallets, w)
	}

	return &Tracker{
		client:    client,
		own:       own,
		wallets:   wallets,
		interval:  interval,
		snapshots: make(map[string][]domain.Position),
	}
}

// Run 周期刷新仓位，直到 ctx 取消
// 单个钱包刷新失败保留旧快照，下一个周期重试。
func (t *Tracker) Run(ctx context.Context) {
	t.refresh(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refresh(ctx)
		}
	}
}

// Refresh 立即刷新一次（下单成功后调用，减少窗口期的过期快照）
func (t *Tracker) Refresh(ctx context.Context) {
	t.refresh(ctx)
}

func (t *Tracker) refresh(ctx context.Context) {
	for _, wallet := range t.wallets {
		if ctx.Err() != nil {
			return
		}
		positions, err := t.client.Fetch(ctx, wallet)
		if err != nil {
			logger.Warnf("刷新仓位快照失败 wallet=%s: %v", wallet, err)
			continue
		}
		t.mu.Lock()
		t.snapshots[wallet] = positions
		t.updatedAt = time.Now()
		t.mu.Unlock()
	}
}

// Snapshot 返回自有钱包最近一次成功的仓位快照
func (t *Tracker) Snapshot() []domain.Position {
	return t.For(t.own)
}

// For 返回指定钱包最近一次成功的仓位快照
func (t *Tracker) For(wallet string) []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshot := t.snapshots[strings.ToLower(wallet)]
	out := make([]domain.Position, len(snapshot))
	copy(out, snapshot)
	return out
}

// UpdatedAt 返回快照时间（零值表示尚无成功快照）
func (t *Tracker) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}
