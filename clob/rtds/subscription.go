package rtds

import (
	"encoding/json"
	"fmt"
)

// Subscribe subscribes to one or more topics
func (c *Client) Subscribe(subscriptions []Subscription) error {
	if !c.IsConnected() {
		return fmt.Errorf("client is not connected")
	}

	req := SubscriptionRequest{
		Action:        ActionSubscribe,
		Subscriptions: subscriptions,
	}

	if err := c.SendMessage(req); err != nil {
		return err
	}

	// Track active subscriptions for reconnection
	c.subscriptionsMutex.Lock()
	for _, sub := range subscriptions {
		exists := false
		for i, existing := range c.activeSubscriptions {
			if existing.Topic == sub.Topic && existing.Type == sub.Type && existing.Filters == sub.Filters {
				c.activeSubscriptions[i] = sub
				exists = true
				break
			}
		}
		if !exists {
			c.activeSubscriptions = append(c.activeSubscriptions, sub)
		}
	}
	c.subscriptionsMutex.Unlock()

	return nil
}

// Unsubscribe unsubscribes from one or more topics
func (c *Client) Unsubscribe(subscriptions []Subscription) error {
	if !c.IsConnected() {
		return fmt.Errorf("client is not connected")
	}

	req := SubscriptionRequest{
		Action:        ActionUnsubscribe,
		Subscriptions: subscriptions,
	}

	if err := c.SendMessage(req); err != nil {
		return err
	}

	c.subscriptionsMutex.Lock()
	for _, sub := range subscriptions {
		for i := len(c.activeSubscriptions) - 1; i >= 0; i-- {
			existing := c.activeSubscriptions[i]
			if existing.Topic == sub.Topic && existing.Type == sub.Type && existing.Filters == sub.Filters {
				c.activeSubscriptions = append(c.activeSubscriptions[:i], c.activeSubscriptions[i+1:]...)
				break
			}
		}
	}
	c.subscriptionsMutex.Unlock()

	return nil
}

// SubscribeToTrades subscribes to trade events on the public activity feed.
// Wallet addresses, when given, are sent as a user filter so the server only
// delivers trades made by those wallets.
func (c *Client) SubscribeToTrades(wallets ...string) error {
	filters := ""
	if len(wallets) == 1 {
		filterMap := map[string]string{"user": wallets[0]}
		filterBytes, _ := json.Marshal(filterMap)
		filters = string(filterBytes)
	} else if len(wallets) > 1 {
		filterMap := map[string][]string{"user": wallets}
		filterBytes, _ := json.Marshal(filterMap)
		filters = string(filterBytes)
	}

	return c.Subscribe([]Subscription{{
		Topic:   TopicActivity,
		Type:    TypeTrades,
		Filters: filters,
	}})
}
