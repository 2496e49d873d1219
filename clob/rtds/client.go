package rtds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a RTDS WebSocket client
type Client struct {
	conn                *websocket.Conn
	url                 string
	pingInterval        time.Duration
	writeTimeout        time.Duration
	readTimeout         time.Duration
	messageHandlers     map[string]MessageHandler
	handlersMutex       sync.RWMutex
	ctx                 context.Context
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
	connected           bool
	connectedMutex      sync.RWMutex
	reconnect           bool
	reconnectDelay      time.Duration
	maxReconnect        int
	reconnectCount      int
	reconnectMutex      sync.Mutex
	isReconnecting      bool // 防止并发重连
	halted              bool
	onHalt              func()
	activeSubscriptions []Subscription
	subscriptionsMutex  sync.RWMutex
	logger              Logger
}

// ClientConfig represents configuration for the RTDS client
type ClientConfig struct {
	URL            string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	Reconnect      bool
	ReconnectDelay time.Duration
	MaxReconnect   int
	// OnHalt is invoked once when the reconnect budget is exhausted.
	// After that the client stays down until Connect is called again.
	OnHalt func()
	Logger Logger
}

// DefaultClientConfig returns a default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		URL:            RTDSWebSocketURL,
		PingInterval:   5 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		Reconnect:      true,
		ReconnectDelay: 5 * time.Second,
		MaxReconnect:   10,
	}
}

// NewClient creates a new RTDS client with default configuration
func NewClient() *Client {
	return NewClientWithConfig(DefaultClientConfig())
}

// NewClientWithConfig creates a new RTDS client with custom configuration
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.URL == "" {
		config.URL = RTDSWebSocketURL
	}
	if config.PingInterval == 0 {
		config.PingInterval = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.MaxReconnect == 0 {
		config.MaxReconnect = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger := config.Logger
	if logger == nil {
		logger = &DefaultLogger{}
	}

	return &Client{
		url:                 config.URL,
		pingInterval:        config.PingInterval,
		writeTimeout:        config.WriteTimeout,
		readTimeout:         config.ReadTimeout,
		messageHandlers:     make(map[string]MessageHandler),
		ctx:                 ctx,
		cancel:              cancel,
		reconnect:           config.Reconnect,
		reconnectDelay:      config.ReconnectDelay,
		maxReconnect:        config.MaxReconnect,
		onHalt:              config.OnHalt,
		activeSubscriptions: make([]Subscription, 0),
		logger:              logger,
	}
}

// ReconnectDelay returns the backoff before the given reconnect attempt.
// The delay grows linearly with the attempt number and caps at five times
// the base delay.
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		attempt = 5
	}
	return base * time.Duration(attempt)
}

// Connect establishes a WebSocket connection to the RTDS server
func (c *Client) Connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
	}

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to RTDS: %w", err)
	}

	c.conn = conn
	c.setConnected(true)
	c.reconnectMutex.Lock()
	c.reconnectCount = 0
	c.halted = false
	c.reconnectMutex.Unlock()

	// Start message reader
	c.wg.Add(1)
	go c.readMessages()

	// Start ping sender
	c.wg.Add(1)
	go c.sendPings()

	// Re-subscribe to active subscriptions after reconnection
	c.resubscribe()

	return nil
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	// Disable reconnection when explicitly disconnecting
	c.reconnectMutex.Lock()
	c.reconnect = false
	c.reconnectMutex.Unlock()

	c.setConnected(false)
	c.cancel()

	c.subscriptionsMutex.Lock()
	c.activeSubscriptions = make([]Subscription, 0)
	c.subscriptionsMutex.Unlock()

	var closeErr error
	if c.conn != nil {
		closeErr = c.conn.Close()
		c.conn = nil
	}

	// Wait for goroutines to exit, with a bounded wait
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		if c.logger != nil {
			c.logger.Printf("Timed out waiting for reader goroutines, continuing disconnect\n")
		}
	}

	return closeErr
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	c.connectedMutex.RLock()
	defer c.connectedMutex.RUnlock()
	return c.connected
}

// IsHalted reports whether the client gave up reconnecting.
func (c *Client) IsHalted() bool {
	c.reconnectMutex.Lock()
	defer c.reconnectMutex.Unlock()
	return c.halted
}

func (c *Client) setConnected(connected bool) {
	c.connectedMutex.Lock()
	defer c.connectedMutex.Unlock()
	c.connected = connected
}

// RegisterHandler registers a message handler for a specific topic
func (c *Client) RegisterHandler(topic string, handler MessageHandler) {
	c.handlersMutex.Lock()
	defer c.handlersMutex.Unlock()
	c.messageHandlers[topic] = handler
}

// UnregisterHandler removes a message handler for a specific topic
func (c *Client) UnregisterHandler(topic string) {
	c.handlersMutex.Lock()
	defer c.handlersMutex.Unlock()
	delete(c.messageHandlers, topic)
}

// SendMessage sends a JSON message to the WebSocket server
func (c *Client) SendMessage(message interface{}) error {
	if !c.IsConnected() {
		return errors.New("client is not connected")
	}
	if c.conn == nil {
		return errors.New("connection is nil")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteJSON(message); err != nil {
		c.setConnected(false)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// readMessages reads messages from the WebSocket connection
func (c *Client) readMessages() {
	defer c.wg.Done()

	// recover against "repeated read on failed websocket connection"
	defer func() {
		if r := recover(); r != nil {
			if c.logger != nil {
				c.logger.Printf("readMessages panic recovered: %v\n", r)
			}
			c.setConnected(false)
			go c.handleDisconnect()
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if !c.IsConnected() || c.conn == nil {
			return
		}

		// 超时主要用于定期检查 context，而不是真正的读取超时
		readTimeout := 30 * time.Second
		if c.readTimeout > 0 && c.readTimeout < readTimeout {
			readTimeout = c.readTimeout
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				select {
				case <-c.ctx.Done():
					return
				default:
				}
				if !c.IsConnected() || c.conn == nil {
					return
				}
				continue
			}

			select {
			case <-c.ctx.Done():
				return
			default:
			}

			c.setConnected(false)

			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if c.logger != nil {
					c.logger.Printf("WebSocket read error: %v\n", err)
				}
			}

			c.handleDisconnect()
			return
		}

		// The payload is documented as JSON, but proxies and gateways can
		// inject empty frames and text heartbeats (PING/PONG).
		trimmed := strings.TrimSpace(string(data))
		if trimmed == "" {
			continue
		}
		if trimmed == "PING" {
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			_ = c.conn.WriteMessage(websocket.TextMessage, []byte("PONG"))
			continue
		}
		if trimmed == "PONG" {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			if c.logger != nil {
				c.logger.Printf("Failed to parse message: %v (len=%d)\n", err, len(trimmed))
			}
			continue
		}

		c.handleMessage(&msg)
	}
}

// sendPings sends periodic PING messages to keep the connection alive
func (c *Client) sendPings() {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			if c.logger != nil {
				c.logger.Printf("sendPings panic recovered: %v\n", r)
			}
			c.setConnected(false)
		}
	}()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() || c.conn == nil {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if c.logger != nil {
					c.logger.Printf("Failed to send ping: %v\n", err)
				}
				c.setConnected(false)
				c.handleDisconnect()
				return
			}
		}
	}
}

// handleMessage processes an incoming message
func (c *Client) handleMessage(msg *Message) {
	// 订阅确认/管理消息：不需要业务 handler
	if msg.Type == "subscribe" || msg.Type == "unsubscribe" {
		c.logger.Printf("RTDS subscription ack: topic=%s, type=%s\n", msg.Topic, msg.Type)
		return
	}

	c.handlersMutex.RLock()
	handler, exists := c.messageHandlers[msg.Topic]
	wildcardHandler, wildcardExists := c.messageHandlers["*"]
	c.handlersMutex.RUnlock()

	if exists && handler != nil {
		if err := handler(msg); err != nil {
			c.logger.Printf("Error handling message for topic %s: %v\n", msg.Topic, err)
		}
	}

	if wildcardExists && wildcardHandler != nil {
		if err := wildcardHandler(msg); err != nil {
			c.logger.Printf("Error handling message with wildcard handler: %v\n", err)
		}
	}
}

// handleDisconnect handles disconnection and optionally reconnects
func (c *Client) handleDisconnect() {
	c.setConnected(false)

	c.reconnectMutex.Lock()
	if !c.reconnect || c.isReconnecting || c.halted {
		c.reconnectMutex.Unlock()
		return
	}

	if c.reconnectCount >= c.maxReconnect {
		c.halted = true
		onHalt := c.onHalt
		c.reconnectMutex.Unlock()
		if c.logger != nil {
			c.logger.Printf("Max reconnection attempts reached, giving up\n")
		}
		if onHalt != nil {
			onHalt()
		}
		return
	}

	c.reconnectCount++
	c.isReconnecting = true
	attemptNum := c.reconnectCount
	delay := ReconnectDelay(c.reconnectDelay, attemptNum)
	c.reconnectMutex.Unlock()

	if c.logger != nil {
		c.logger.Printf("Attempting to reconnect (%d/%d) in %s...\n", attemptNum, c.maxReconnect, delay)
	}

	// Sleep in small slices so an explicit Disconnect cancels the retry.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	slept := time.Duration(0)
	for slept < delay {
		<-ticker.C
		slept += 100 * time.Millisecond
		c.reconnectMutex.Lock()
		shouldReconnect := c.reconnect
		c.reconnectMutex.Unlock()
		if !shouldReconnect {
			c.reconnectMutex.Lock()
			c.isReconnecting = false
			c.reconnectMutex.Unlock()
			return
		}
	}

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	// New context for the reconnected session
	c.ctx, c.cancel = context.WithCancel(context.Background())

	err := c.Connect()

	c.reconnectMutex.Lock()
	c.isReconnecting = false
	exhausted := err != nil && c.reconnectCount >= c.maxReconnect
	if exhausted {
		c.halted = true
	}
	onHalt := c.onHalt
	c.reconnectMutex.Unlock()

	if err != nil {
		if c.logger != nil {
			c.logger.Printf("Reconnection failed: %v (attempt %d/%d)\n", err, attemptNum, c.maxReconnect)
		}
		if exhausted {
			if c.logger != nil {
				c.logger.Printf("Max reconnection attempts reached, giving up\n")
			}
			if onHalt != nil {
				onHalt()
			}
			return
		}
		go c.handleDisconnect()
		return
	}

	if c.logger != nil {
		c.logger.Printf("Reconnected successfully\n")
	}
}

// resubscribe re-subscribes to all active subscriptions
func (c *Client) resubscribe() {
	c.subscriptionsMutex.RLock()
	subscriptions := make([]Subscription, len(c.activeSubscriptions))
	copy(subscriptions, c.activeSubscriptions)
	c.subscriptionsMutex.RUnlock()

	if len(subscriptions) == 0 {
		return
	}

	// Wait a bit for the connection to stabilize
	time.Sleep(100 * time.Millisecond)

	req := SubscriptionRequest{
		Action:        ActionSubscribe,
		Subscriptions: subscriptions,
	}

	if err := c.SendMessage(req); err != nil {
		c.logger.Printf("Failed to resubscribe after reconnection: %v\n", err)
	}
}
