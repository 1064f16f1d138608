package feed

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClientNotFound = errors.New("stream client not found")
	ErrChannelFull    = errors.New("stream client channel full")
)

// StreamClient represents one live event subscriber.
type StreamClient struct {
	ClientID    string
	ConnectedAt time.Time
	MessageChan chan *StreamMessage
}

// NewStreamClient creates a subscriber with a buffered channel; slow
// consumers drop messages rather than block the engine.
func NewStreamClient(clientID string) *StreamClient {
	return &StreamClient{
		ClientID:    clientID,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *StreamMessage, 100),
	}
}

// Close closes the client's message channel.
func (c *StreamClient) Close() {
	close(c.MessageChan)
}

// StreamMessage is one serialized event pushed to subscribers.
type StreamMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewStreamMessage wraps event data for delivery.
func NewStreamMessage(event string, data json.RawMessage) *StreamMessage {
	return &StreamMessage{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Hub is the broadcast surface the ballot service publishes to.
type Hub interface {
	Broadcast(message *StreamMessage)
}
