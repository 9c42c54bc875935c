package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SubHandler receives notification payloads for one subscription.
type SubHandler func(data json.RawMessage)

// Client is a Solana websocket JSON-RPC client. It multiplexes account and
// log subscriptions over one connection and reconnects with resubscribe on
// failure.
type Client struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	nextID atomic.Uint64

	// request id -> response channel for in-flight subscribe calls
	pending   map[uint64]chan *wsResponse
	pendingMu sync.Mutex

	// subscription id -> handler
	handlers   map[uint64]SubHandler
	handlersMu sync.RWMutex

	// method+params recorded for resubscribe after reconnect
	subs   map[uint64]subRequest
	subsMu sync.Mutex

	closed atomic.Bool
	done   chan struct{}
}

type subRequest struct {
	method  string
	params  []interface{}
	handler SubHandler
}

type wsResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params *struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// NewClient dials the websocket endpoint.
func NewClient(url string) (*Client, error) {
	c := &Client{
		url:      url,
		pending:  make(map[uint64]chan *wsResponse),
		handlers: make(map[uint64]SubHandler),
		subs:     make(map[uint64]subRequest),
		done:     make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

func (c *Client) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	log.Info().Str("url", c.url).Msg("websocket connected")
	return nil
}

// Close shuts the connection down permanently.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

// Ping verifies the connection is alive. Used by readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("websocket closed")
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// AccountSubscribe subscribes to account change notifications.
func (c *Client) AccountSubscribe(pubkey string, handler SubHandler) (uint64, error) {
	return c.subscribe("accountSubscribe", []interface{}{
		pubkey,
		map[string]string{"encoding": "base64", "commitment": "confirmed"},
	}, handler)
}

// LogsSubscribe subscribes to transaction logs mentioning an address.
func (c *Client) LogsSubscribe(mention string, handler SubHandler) (uint64, error) {
	return c.subscribe("logsSubscribe", []interface{}{
		map[string][]string{"mentions": {mention}},
		map[string]string{"commitment": "confirmed"},
	}, handler)
}

// Unsubscribe cancels a subscription. method is the paired unsubscribe RPC
// (accountUnsubscribe, logsUnsubscribe, signatureUnsubscribe).
func (c *Client) Unsubscribe(method string, subID uint64) error {
	c.handlersMu.Lock()
	delete(c.handlers, subID)
	c.handlersMu.Unlock()
	c.subsMu.Lock()
	delete(c.subs, subID)
	c.subsMu.Unlock()

	// Best effort; a dead connection drops the subscription anyway.
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  []interface{}{subID},
	}
	return c.write(req)
}

// SignatureSubscribe subscribes to confirmation of one signature.
func (c *Client) SignatureSubscribe(signature string, handler SubHandler) (uint64, error) {
	return c.subscribe("signatureSubscribe", []interface{}{
		signature,
		map[string]string{"commitment": "confirmed"},
	}, handler)
}

func (c *Client) subscribe(method string, params []interface{}, handler SubHandler) (uint64, error) {
	id := c.nextID.Add(1)
	respCh := make(chan *wsResponse, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	if err := c.write(req); err != nil {
		return 0, err
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return 0, fmt.Errorf("%s: %d %s", method, resp.Error.Code, resp.Error.Message)
		}
		var subID uint64
		if err := json.Unmarshal(resp.Result, &subID); err != nil {
			return 0, fmt.Errorf("%s: parse subscription id: %w", method, err)
		}
		c.handlersMu.Lock()
		c.handlers[subID] = handler
		c.handlersMu.Unlock()
		c.subsMu.Lock()
		c.subs[subID] = subRequest{method: method, params: params, handler: handler}
		c.subsMu.Unlock()
		return subID, nil
	case <-time.After(10 * time.Second):
		return 0, fmt.Errorf("%s: subscribe timed out", method)
	case <-c.done:
		return 0, fmt.Errorf("websocket closed")
	}
}

func (c *Client) write(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			log.Warn().Err(err).Msg("websocket read failed, reconnecting")
			c.reconnect()
			continue
		}

		var resp wsResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Warn().Err(err).Msg("websocket: bad frame")
			continue
		}

		// Notification for an active subscription.
		if resp.Params != nil {
			c.handlersMu.RLock()
			handler := c.handlers[resp.Params.Subscription]
			c.handlersMu.RUnlock()
			if handler != nil {
				handler(resp.Params.Result)
			}
			continue
		}

		// Response to an in-flight request.
		if resp.ID != 0 {
			c.pendingMu.Lock()
			ch := c.pending[resp.ID]
			c.pendingMu.Unlock()
			if ch != nil {
				ch <- &resp
			}
		}
	}
}

func (c *Client) reconnect() {
	backoff := time.Second
	for {
		if c.closed.Load() {
			return
		}
		if err := c.connect(); err != nil {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("websocket reconnect failed")
			select {
			case <-c.done:
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		c.resubscribeAll()
		return
	}
}

// resubscribeAll replays recorded subscriptions on a fresh connection.
// Subscription ids change; handlers are re-bound under the new ids.
func (c *Client) resubscribeAll() {
	c.subsMu.Lock()
	old := c.subs
	c.subs = make(map[uint64]subRequest)
	c.subsMu.Unlock()

	c.handlersMu.Lock()
	c.handlers = make(map[uint64]SubHandler)
	c.handlersMu.Unlock()

	for _, sub := range old {
		if _, err := c.subscribe(sub.method, sub.params, sub.handler); err != nil {
			log.Error().Err(err).Str("method", sub.method).Msg("resubscribe failed")
		}
	}
	log.Info().Int("count", len(old)).Msg("websocket resubscribed")
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Ping(context.Background()); err != nil && !c.closed.Load() {
				log.Warn().Err(err).Msg("websocket ping failed")
			}
		}
	}
}
