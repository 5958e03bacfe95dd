package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemagraph"
)

// Protocol is the websocket subprotocol spoken by WSHandler.
const Protocol = "graphql-ws"

// Message types of the graphql-ws protocol.
const (
	msgConnectionInit      = "connection_init"
	msgConnectionAck       = "connection_ack"
	msgConnectionError     = "connection_error"
	msgConnectionKeepAlive = "ka"
	msgConnectionTerminate = "connection_terminate"
	msgStart               = "start"
	msgStop                = "stop"
	msgData                = "data"
	msgError               = "error"
	msgComplete            = "complete"
)

const writeTimeout = 10 * time.Second

type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type startPayload struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

type dataPayload struct {
	Data   interface{}      `json:"data"`
	Errors []*jerrors.Error `json:"errors,omitempty"`
}

// Authenticator derives the caller of a connection from its upgrade request
// and the payload of connection_init.
type Authenticator func(ctx context.Context, r *http.Request, params map[string]interface{}) (schemagraph.AccessContext, error)

// WSHandler serves the graphql-ws protocol. Every start message runs one
// operation: subscriptions stream a result per event, queries and mutations
// answer once.
type WSHandler struct {
	Dispatcher   *Dispatcher
	Authenticate Authenticator
	Verbosity    jerrors.Verbosity
	// KeepAlive is the interval of "ka" messages. Zero disables them.
	KeepAlive time.Duration
	Logger    *slog.Logger

	upgrader websocket.Upgrader
}

// NewWSHandler returns a handler accepting connections from any origin.
func NewWSHandler(d *Dispatcher, auth Authenticator, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		Dispatcher:   d,
		Authenticate: auth,
		KeepAlive:    15 * time.Second,
		Logger:       logger,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Protocol},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		handler: h,
		ws:      ws,
		request: r,
		subs:    make(map[string]*operation),
		logger:  h.Logger.With("remote", r.RemoteAddr),
	}
	defer func() {
		cancel()
		c.stopAll()
		ws.Close()
	}()
	c.serve(ctx)
}

type operation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type conn struct {
	handler *WSHandler
	ws      *websocket.Conn
	request *http.Request
	logger  *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	ac     schemagraph.AccessContext
	inited bool
	subs   map[string]*operation
}

func (c *conn) serve(ctx context.Context) {
	for {
		var msg message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case msgConnectionInit:
			if !c.init(ctx, msg.Payload) {
				return
			}
		case msgStart:
			c.start(ctx, msg.ID, msg.Payload)
		case msgStop:
			c.stop(msg.ID)
		case msgConnectionTerminate:
			return
		default:
			c.send(message{ID: msg.ID, Type: msgError, Payload: c.errors(jerrors.InvalidInput("unknown message type %q", msg.Type))})
		}
	}
}

func (c *conn) init(ctx context.Context, payload json.RawMessage) bool {
	c.mu.Lock()
	inited := c.inited
	c.mu.Unlock()
	if inited {
		c.send(message{Type: msgConnectionError, Payload: c.errors(jerrors.InvalidInput("connection already initialised"))})
		return false
	}

	params := map[string]interface{}{}
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &params); err != nil {
			c.send(message{Type: msgConnectionError, Payload: c.errors(jerrors.InvalidInput("connection_init payload: %v", err))})
			return false
		}
	}

	var ac schemagraph.AccessContext
	if c.handler.Authenticate != nil {
		var err error
		ac, err = c.handler.Authenticate(ctx, c.request, params)
		if err != nil {
			c.send(message{Type: msgConnectionError, Payload: c.errors(err)})
			return false
		}
	}

	c.mu.Lock()
	c.ac = ac
	c.inited = true
	c.mu.Unlock()

	c.send(message{Type: msgConnectionAck})
	if c.handler.KeepAlive > 0 {
		c.send(message{Type: msgConnectionKeepAlive})
		go c.keepAlive(ctx)
	}
	return true
}

func (c *conn) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.handler.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(message{Type: msgConnectionKeepAlive}); err != nil {
				return
			}
		}
	}
}

func (c *conn) start(ctx context.Context, id string, raw json.RawMessage) {
	c.mu.Lock()
	inited, ac := c.inited, c.ac
	_, running := c.subs[id]
	c.mu.Unlock()

	if !inited {
		c.send(message{ID: id, Type: msgError, Payload: c.errors(jerrors.InvalidInput("connection not initialized"))})
		return
	}
	if id == "" || running {
		c.send(message{ID: id, Type: msgError, Payload: c.errors(jerrors.InvalidInput("operation id %q is empty or in use", id))})
		return
	}

	var payload startPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.send(message{ID: id, Type: msgError, Payload: c.errors(jerrors.InvalidInput("start payload: %v", err))})
		return
	}
	query, err := graphql.ParseOperation(payload.Query, payload.Variables, payload.OperationName)
	if err != nil {
		c.send(message{ID: id, Type: msgError, Payload: c.errors(jerrors.InvalidInput("%v", err))})
		return
	}

	if query.Kind != "subscription" {
		data, err := c.handler.Dispatcher.Execute(ctx, query, ac)
		c.result(id, Result{Data: data, Err: err})
		c.send(message{ID: id, Type: msgComplete})
		return
	}

	sub, err := c.handler.Dispatcher.Subscribe(ctx, query, ac)
	if err != nil {
		c.send(message{ID: id, Type: msgError, Payload: c.errors(err)})
		return
	}

	op := &operation{cancel: sub.Close, done: make(chan struct{})}
	c.mu.Lock()
	c.subs[id] = op
	c.mu.Unlock()

	go func() {
		defer close(op.done)
		for res := range sub.Results() {
			c.result(id, res)
		}
		if err := sub.Err(); err != nil {
			c.send(message{ID: id, Type: msgError, Payload: c.errors(err)})
		}
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		c.send(message{ID: id, Type: msgComplete})
	}()
}

func (c *conn) result(id string, res Result) {
	p := dataPayload{Data: res.Data}
	if res.Err != nil {
		var partial graphql.ResolveErrors
		if !errors.As(res.Err, &partial) {
			// The operation failed as a whole.
			c.send(message{ID: id, Type: msgError, Payload: c.errors(res.Err)})
			return
		}
		p.Errors = c.handler.Verbosity.ConvertAll(res.Err)
	}
	b, err := json.Marshal(p)
	if err != nil {
		c.send(message{ID: id, Type: msgError, Payload: c.errors(err)})
		return
	}
	c.send(message{ID: id, Type: msgData, Payload: b})
}

func (c *conn) stop(id string) {
	c.mu.Lock()
	op, ok := c.subs[id]
	c.mu.Unlock()
	if ok {
		op.cancel()
		<-op.done
	}
}

func (c *conn) stopAll() {
	c.mu.Lock()
	ops := make([]*operation, 0, len(c.subs))
	for _, op := range c.subs {
		ops = append(ops, op)
	}
	c.mu.Unlock()
	for _, op := range ops {
		op.cancel()
		<-op.done
	}
}

func (c *conn) errors(err error) json.RawMessage {
	b, _ := json.Marshal(c.handler.Verbosity.ConvertAll(err))
	return b
}

func (c *conn) send(msg message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.ws.WriteJSON(msg)
	if err != nil {
		c.logger.Debug("websocket write failed", "type", msg.Type, "error", err)
	}
	return err
}
