package wsbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/carelinkhealth/go-session-client/broadcast"
)

var ClientClosedErr = errors.New("wsbus client closed")

var _ broadcast.Bus = (*Client)(nil)

// Client is a broadcast.Bus backed by a websocket connection to a Hub.
type Client struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
	logger    zerolog.Logger

	lock      sync.RWMutex
	handlers  map[int]broadcast.Handler
	handlerID int

	closed atomic.Bool
	done   chan struct{}
}

type ClientOption func(*Client)

func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Dial connects to a hub at the given ws:// or wss:// URL and starts the
// read loop.
func Dial(ctx context.Context, url string, options ...ClientOption) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[wsbus.Dial]")
	}

	c := &Client{
		conn:     conn,
		logger:   zerolog.Nop(),
		handlers: make(map[int]broadcast.Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn().Err(err).Msg("wsbus client read error")
			}
			return
		}

		var msg broadcast.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("wsbus client decode error")
			continue
		}

		c.lock.RLock()
		handlers := make([]broadcast.Handler, 0, len(c.handlers))
		for _, h := range c.handlers {
			handlers = append(handlers, h)
		}
		c.lock.RUnlock()

		for _, h := range handlers {
			h(msg)
		}
	}
}

func (c *Client) Publish(_ context.Context, msg broadcast.Message) error {
	if c.closed.Load() {
		return errors.Wrap(ClientClosedErr, "[Client.Publish]")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "[Client.Publish] marshal")
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "[Client.Publish] write")
	}
	return nil
}

func (c *Client) Subscribe(handler broadcast.Handler) (func(), error) {
	if c.closed.Load() {
		return nil, errors.Wrap(ClientClosedErr, "[Client.Subscribe]")
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	id := c.handlerID
	c.handlerID++
	c.handlers[id] = handler
	return func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		delete(c.handlers, id)
	}, nil
}

// Close shuts the connection down and waits for the read loop to exit.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()
	<-c.done
	return err
}
