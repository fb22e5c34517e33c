package session

import "sync"

// client is one participant socket attached to a session. The owner
// goroutine is the only sender on send; the transport's writer goroutine
// drains send until closed and then closes the underlying socket with
// closeReason.
type client struct {
	participantID string
	send          chan []byte

	closeOnce sync.Once
	// closeReason is written before send is closed; the channel close
	// orders the write for the reader.
	closeReason string
}

const defaultSendQueue = 64

func newClient(participantID string) *client {
	return &client{
		participantID: participantID,
		send:          make(chan []byte, defaultSendQueue),
	}
}

// enqueue offers a frame without blocking. A full queue means the consumer
// stopped draining; the owner treats that client as dead.
func (c *client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close shuts the queue down exactly once. Both the owner and the transport
// handler may race to close a client during session teardown.
func (c *client) close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.send)
	})
}
