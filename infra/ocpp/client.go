package ocpp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/evcharger/core/logger"
	"github.com/kilianp07/evcharger/core/model"
	coreocpp "github.com/kilianp07/evcharger/core/ocpp"
)

const writeTimeout = 10 * time.Second

type callResult struct {
	payload json.RawMessage
	err     error
}

// Client is an OCPP-J 1.6 session with a central system.
type Client struct {
	conn     *websocket.Conn
	identity string
	timeout  time.Duration
	log      logger.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan callResult
	closed  chan struct{}
	once    sync.Once
	err     error
}

// Dial opens the WebSocket session at station.URL(). When a password is
// configured it is sent as HTTP basic auth with the identity as user.
func Dial(ctx context.Context, station model.StationConfig, cfg Config, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{Subprotocol},
	}
	if cfg.TLSInsecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test benches
	}
	header := http.Header{}
	if station.Password != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(station.Identity + ":" + station.Password))
		header.Set("Authorization", "Basic "+cred)
	}
	url := station.URL()
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if p := conn.Subprotocol(); p != Subprotocol {
		log.Warnf("central system negotiated subprotocol %q", p)
	}
	log.Infof("connected to %s", url)
	return newClient(conn, station.Identity, cfg.RequestTimeout(), log), nil
}

func newClient(conn *websocket.Conn, identity string, timeout time.Duration, log logger.Logger) *Client {
	c := &Client{
		conn:     conn,
		identity: identity,
		timeout:  timeout,
		log:      log,
		pending:  make(map[string]chan callResult),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Done is closed once the session ends.
func (c *Client) Done() <-chan struct{} { return c.closed }

// Err returns why the session ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) BootNotification(ctx context.Context, req coreocpp.BootNotificationRequest) (coreocpp.BootNotificationResponse, error) {
	var resp coreocpp.BootNotificationResponse
	err := c.call(ctx, coreocpp.ActionBootNotification, req, &resp)
	return resp, err
}

func (c *Client) Heartbeat(ctx context.Context) (coreocpp.HeartbeatResponse, error) {
	var resp coreocpp.HeartbeatResponse
	err := c.call(ctx, coreocpp.ActionHeartbeat, coreocpp.HeartbeatRequest{}, &resp)
	return resp, err
}

func (c *Client) Authorize(ctx context.Context, req coreocpp.AuthorizeRequest) (coreocpp.AuthorizeResponse, error) {
	var resp coreocpp.AuthorizeResponse
	err := c.call(ctx, coreocpp.ActionAuthorize, req, &resp)
	return resp, err
}

func (c *Client) StatusNotification(ctx context.Context, req coreocpp.StatusNotificationRequest) error {
	return c.call(ctx, coreocpp.ActionStatusNotification, req, nil)
}

// Disconnect sends a close frame and tears the session down. Pending calls
// fail with ErrClosed.
func (c *Client) Disconnect(ctx context.Context) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.writeMu.Lock()
	werr := c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	c.writeMu.Unlock()
	c.shutdown(coreocpp.ErrClosed)
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return fmt.Errorf("close session: %w", werr)
	}
	return nil
}

func (c *Client) call(ctx context.Context, action string, req, resp any) error {
	id := uuid.NewString()
	frame, err := NewCall(id, action, req)
	if err != nil {
		return err
	}
	ch := make(chan callResult, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return coreocpp.ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.log.Debugf("send %s", frame)
	if err := c.write(frame); err != nil {
		return fmt.Errorf("send %s: %w", action, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if resp == nil {
			return nil
		}
		if err := json.Unmarshal(r.payload, resp); err != nil {
			return fmt.Errorf("decode %s result: %w", action, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s: %w", action, coreocpp.ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return coreocpp.ErrClosed
	}
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Infof("session closed by central system")
			} else {
				select {
				case <-c.closed:
				default:
					c.log.Warnf("read: %v", err)
				}
			}
			c.shutdown(coreocpp.ErrClosed)
			return
		}
		c.log.Debugf("inspect raw message: %s", data)
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	f, err := ParseFrame(data)
	if err != nil {
		c.log.Warnf("drop malformed frame: %v", err)
		if f.Type == MessageTypeCall && f.UniqueID != "" {
			c.reply(NewCallError(f.UniqueID, ErrorCodeFormation, err.Error()))
		}
		return
	}
	switch f.Type {
	case MessageTypeCallResult:
		c.resolve(f.UniqueID, callResult{payload: f.Payload})
	case MessageTypeCallError:
		c.resolve(f.UniqueID, callResult{err: &coreocpp.CallError{Code: f.ErrorCode, Description: f.ErrorDescription}})
	case MessageTypeCall:
		c.handleCall(f)
	}
}

// handleCall answers requests initiated by the central system.
func (c *Client) handleCall(f Frame) {
	switch f.Action {
	case coreocpp.ActionGetConfiguration:
		c.reply(NewCallResult(f.UniqueID, coreocpp.GetConfigurationResponse{}))
	default:
		c.log.Infof("unsupported request %s from central system", f.Action)
		c.reply(NewCallError(f.UniqueID, ErrorCodeNotImplemented, f.Action+" is not supported"))
	}
}

func (c *Client) reply(frame []byte, err error) {
	if err != nil {
		c.log.Errorf("encode reply: %v", err)
		return
	}
	if err := c.write(frame); err != nil {
		c.log.Warnf("send reply: %v", err)
	}
}

func (c *Client) resolve(id string, r callResult) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		c.log.Warnf("result for unknown call %s", id)
		return
	}
	select {
	case ch <- r:
	default:
		c.log.Warnf("duplicate result for call %s", id)
	}
}

func (c *Client) shutdown(reason error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()
		close(c.closed)
		_ = c.conn.Close()
	})
}
