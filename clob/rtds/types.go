package rtds

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RTDSWebSocketURL is the WebSocket URL for the Polymarket Real-Time Data Socket
const RTDSWebSocketURL = "wss://ws-live-data.polymarket.com"

// Logger defines an interface for logging
type Logger interface {
	Printf(format string, v ...interface{})
}

// DefaultLogger is a simple logger implementation using fmt.Printf
type DefaultLogger struct{}

func (l *DefaultLogger) Printf(format string, v ...interface{}) {
	fmt.Printf(format, v...)
}

// RTDSNumber is a custom type that can parse numbers or strings from RTDS
type RTDSNumber string

// UnmarshalJSON implements the json.Unmarshaler interface
func (rn *RTDSNumber) UnmarshalJSON(b []byte) error {
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		*rn = RTDSNumber(num.String())
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*rn = RTDSNumber(s)
		return nil
	}

	return fmt.Errorf("cannot unmarshal %s into RTDSNumber", string(b))
}

// MarshalJSON implements the json.Marshaler interface
func (rn RTDSNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(rn))
}

// String returns the string representation
func (rn RTDSNumber) String() string {
	return string(rn)
}

// Float64 parses the value as float64.
func (rn RTDSNumber) Float64() (float64, error) {
	s := strings.TrimSpace(string(rn))
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	return strconv.ParseFloat(s, 64)
}

// RTDSFloat64 parses JSON numbers or numeric strings into float64.
type RTDSFloat64 float64

func (rf *RTDSFloat64) UnmarshalJSON(b []byte) error {
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		f, err := num.Float64()
		if err != nil {
			return err
		}
		*rf = RTDSFloat64(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			*rf = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*rf = RTDSFloat64(f)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into RTDSFloat64", string(b))
}

func (rf RTDSFloat64) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(rf))
}

func (rf RTDSFloat64) Float64() float64 { return float64(rf) }

// Message represents a message received from the RTDS WebSocket
type Message struct {
	Topic        string          `json:"topic"`
	Type         string          `json:"type"`
	Timestamp    int64           `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
	ConnectionID string          `json:"connection_id,omitempty"`
}

// SubscriptionAction represents the action for subscription management
type SubscriptionAction string

const (
	ActionSubscribe   SubscriptionAction = "subscribe"
	ActionUnsubscribe SubscriptionAction = "unsubscribe"
)

// Subscription represents a subscription configuration
type Subscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

// SubscriptionRequest represents a subscription/unsubscription request
type SubscriptionRequest struct {
	Action        SubscriptionAction `json:"action"`
	Subscriptions []Subscription     `json:"subscriptions"`
}

// TopicActivity is the public activity feed topic.
const TopicActivity = "activity"

// TypeTrades is the trade event type on the activity topic.
const TypeTrades = "trades"

// MessageHandler is a function type for handling messages
type MessageHandler func(message *Message) error
