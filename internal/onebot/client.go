// Package onebot connects to a OneBot v11 implementation over its forward
// WebSocket and implements dispatch.Host on top of it.
package onebot

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/dispatch"
	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/logger"
)

const (
	defaultActionTimeout  = 10 * time.Second
	defaultReconnectDelay = 2 * time.Second
	maxReconnectDelay     = time.Minute
	pingInterval          = 30 * time.Second
	writeWait             = 5 * time.Second
)

// MessageHandler receives every message event. Handle must not block.
type MessageHandler interface {
	Handle(ctx context.Context, msg dispatch.Message)
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(ctx context.Context, msg dispatch.Message)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg dispatch.Message) { f(ctx, msg) }

// Client is a OneBot v11 forward WebSocket client.
type Client struct {
	url            string
	token          string
	actionTimeout  time.Duration
	reconnectDelay time.Duration
	limiter        *rate.Limiter
	dialer         *websocket.Dialer
	handler        MessageHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *frame
	writeMu sync.Mutex

	connected atomic.Bool
	nextEcho  atomic.Uint64
}

// New creates a client. The connection is established by Run.
func New(settings conf.OneBotSettings, handler MessageHandler) *Client {
	c := &Client{
		url:            settings.URL,
		token:          settings.AccessToken,
		actionTimeout:  settings.ActionTimeout,
		reconnectDelay: settings.ReconnectDelay,
		limiter:        rate.NewLimiter(rate.Limit(settings.RateLimit), max(settings.RateBurst, 1)),
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handler:        handler,
		pending:        make(map[string]chan *frame),
	}
	if c.actionTimeout <= 0 {
		c.actionTimeout = defaultActionTimeout
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = defaultReconnectDelay
	}
	if settings.RateLimit <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return c
}

// SetHandler replaces the message handler. It must be called before Run.
func (c *Client) SetHandler(h MessageHandler) {
	c.handler = h
}

// Connected reports whether the WebSocket is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run keeps the connection up until ctx is cancelled, reconnecting with
// exponential backoff. It always returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	log := GetLogger().With(logger.String("url", logger.RedactURL(c.url)))
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := c.dial(ctx)
		if err != nil {
			wait := c.backoff(attempt)
			attempt++
			log.Warn("onebot connection failed",
				logger.Error(err),
				logger.Int("attempt", attempt),
				logger.Duration("retry_in", wait))
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}

		attempt = 0
		log.Info("onebot connected")
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			log.Info("onebot connection closed")
			return ctx.Err()
		}
		log.Warn("onebot connection lost", logger.Error(err))
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		b := errors.New(err).
			Component("onebot").
			Category(errors.CategoryHostAPI).
			Context("url", logger.RedactURL(c.url))
		if resp != nil {
			b = b.Context("status", resp.StatusCode)
		}
		return nil, b.Build()
	}
	return conn, nil
}

// backoff returns the wait before reconnect attempt n, with jitter.
func (c *Client) backoff(n int) time.Duration {
	d := c.reconnectDelay << min(n, 10)
	if d <= 0 || d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d/2 + rand.N(d/2+1)
}

// serve reads frames until the connection fails or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		pending := c.pending
		c.pending = make(map[string]chan *frame)
		c.mu.Unlock()
		for _, ch := range pending {
			close(ch)
		}
		_ = conn.Close()
		wg.Wait()
	}()

	// closing the socket unblocks ReadMessage on shutdown
	wg.Go(func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				c.writeMu.Unlock()
				if err != nil {
					GetLogger().Debug("ping failed", logger.Error(err))
				}
			}
		}
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatchFrame(ctx, data)
	}
}

func (c *Client) dispatchFrame(ctx context.Context, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		GetLogger().Debug("ignoring malformed frame", logger.Error(err))
		return
	}

	if f.isResponse() {
		key := f.echoKey()
		c.mu.Lock()
		ch, ok := c.pending[key]
		delete(c.pending, key)
		c.mu.Unlock()
		if ok {
			ch <- &f
		}
		return
	}

	msg, ok := toMessage(&f)
	if !ok || c.handler == nil {
		return
	}
	c.handler.Handle(ctx, msg)
}

// call sends an action and waits for its response.
func (c *Client) call(ctx context.Context, action string, params any) (json.RawMessage, error) {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, hostError(err, action, start)
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, hostError(errors.NewStd("not connected"), action, start)
	}
	echo := strconv.FormatUint(c.nextEcho.Add(1), 10)
	ch := make(chan *frame, 1)
	c.pending[echo] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, echo)
		c.mu.Unlock()
	}

	payload, err := json.Marshal(request{Action: action, Params: params, Echo: echo})
	if err != nil {
		forget()
		return nil, hostError(err, action, start)
	}
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		forget()
		return nil, hostError(err, action, start)
	}

	timer := time.NewTimer(c.actionTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, hostError(errors.NewStd("connection closed before response"), action, start)
		}
		if resp.Status != responseStatusOK && resp.Status != responseStatusAsync {
			return nil, errors.Newf("action %s failed: retcode %d %s", action, resp.RetCode, resp.Wording+resp.Msg).
				Component("onebot").
				Category(errors.CategoryHostAPI).
				Context("action", action).
				Context("retcode", resp.RetCode).
				Timing(action, time.Since(start)).
				Build()
		}
		return resp.Data, nil
	case <-timer.C:
		forget()
		return nil, hostError(errors.NewStd("action timed out"), action, start)
	case <-ctx.Done():
		forget()
		return nil, hostError(ctx.Err(), action, start)
	}
}

func hostError(err error, action string, start time.Time) error {
	return errors.New(err).
		Component("onebot").
		Category(errors.CategoryHostAPI).
		Context("action", action).
		Timing(action, time.Since(start)).
		Build()
}

// Reply sends r to the chat msg came from.
func (c *Client) Reply(ctx context.Context, to dispatch.Message, r dispatch.Reply) error {
	params := sendMsgParams{Message: toSegments(to, r)}
	action := actionSendGroupMsg
	if to.IsGroup() {
		params.GroupID = to.GroupID
	} else {
		action = actionSendPrivateMsg
		params.UserID = to.UserID
	}
	_, err := c.call(ctx, action, params)
	return err
}

// DeleteMessage recalls a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	_, err := c.call(ctx, actionDeleteMsg, deleteMsgParams{MessageID: messageID})
	return err
}

// MuteUser mutes a group member for d, rounded down to whole seconds.
func (c *Client) MuteUser(ctx context.Context, groupID, userID int64, d time.Duration) error {
	_, err := c.call(ctx, actionSetGroupBan, groupBanParams{
		GroupID:  groupID,
		UserID:   userID,
		Duration: int64(d / time.Second),
	})
	return err
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ dispatch.Host = (*Client)(nil)
