package signaling

import (
	"sync"

	"github.com/nkiryanov/caroauth/internal/models"
)

// Client is one websocket connection of an authenticated principal.
// send is never closed: hub may deliver to it concurrently with shutdown
type Client struct {
	Principal models.Principal

	send      chan Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(principal models.Principal, queueSize int) *Client {
	return &Client{
		Principal: principal,
		send:      make(chan Envelope, queueSize),
		done:      make(chan struct{}),
	}
}

// Queue envelope without blocking. False if queue is full or client is closed
func (c *Client) enqueue(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Idempotent
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
