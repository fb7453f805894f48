package spectate

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mobarena-server/internal/game"
	"mobarena-server/internal/geom"
	"mobarena-server/internal/physics"
	"mobarena-server/internal/protocol"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxSessionNameLen = 30
)

// Client is one websocket connection. It implements game.Broadcaster.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	id         string
	sessionID  string
	remoteAddr string
	role       Role
	msgCount   int
	msgResetAt time.Time
	log        *zap.Logger
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, role Role) *Client {
	id := uuid.NewString()
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		id:         id,
		remoteAddr: remoteAddr,
		role:       role,
		log:        hub.log.With(zap.String("client", id), zap.String("ip", remoteAddr)),
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("ws error", zap.Error(err))
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			c.log.Warn("rate limit exceeded, disconnecting")
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal error", zap.Error(err))
		return
	}
	c.SendRaw(data)
}

// SendRaw queues pre-marshaled bytes as a text message. A slow client
// loses messages rather than stalling the game loop.
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
	}
}

// SendBinary queues a binary message, prefixed with the 0xFF marker that
// WritePump strips.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(err error) {
	c.SendJSON(protocol.Envelope{T: protocol.MsgError, Data: protocol.ErrorMsg{Msg: err.Error()}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env protocol.InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Debug("unmarshal error", zap.Error(err))
		return
	}

	switch env.T {
	case protocol.MsgList:
		c.handleList()
	case protocol.MsgCheck:
		c.handleCheck(env.D)
	case protocol.MsgJoin:
		c.handleJoin(env.D)
	case protocol.MsgLeave:
		c.leave()
	case protocol.MsgLogin:
		c.handleLogin(env.D)
	case protocol.MsgAuth:
		c.handleAuth(env.D)
	case protocol.MsgInput:
		c.handleInput(env.D)
	case protocol.MsgStrike:
		c.handleStrike()
	case protocol.MsgRecharge:
		c.handleRecharge()
	case protocol.MsgCreate:
		c.handleCreate(env.D)
	case protocol.MsgStop:
		c.handleStop(env.D)
	case protocol.MsgSpawn:
		c.handleSpawn(env.D)
	case protocol.MsgDespawn:
		c.handleDespawn(env.D)
	}
}

func (c *Client) handleList() {
	c.SendJSON(protocol.Envelope{T: protocol.MsgSessions, Data: c.hub.sessions.List()})
}

func (c *Client) handleCheck(data json.RawMessage) {
	var msg protocol.CheckMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.Get(msg.SID)
	if sess == nil {
		c.SendJSON(protocol.Envelope{T: protocol.MsgChecked, Data: protocol.CheckedMsg{SID: msg.SID}})
		return
	}
	c.SendJSON(protocol.Envelope{T: protocol.MsgChecked, Data: protocol.CheckedMsg{
		SID:     msg.SID,
		Exists:  true,
		Name:    sess.Name,
		Viewers: sess.Game.ViewerCount(),
	}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg protocol.JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.Get(msg.SessionID)
	if sess == nil {
		c.sendError(ErrSessionMissing)
		return
	}
	c.leave()
	if err := sess.Game.AddViewer(c.id, c); err != nil {
		c.sendError(err)
		return
	}
	c.sessionID = sess.ID
	c.SendJSON(protocol.Envelope{T: protocol.MsgJoined, Data: protocol.JoinedMsg{SID: sess.ID}})
}

// leave detaches the client from the session it watches, if any.
func (c *Client) leave() {
	if c.sessionID == "" {
		return
	}
	if sess := c.hub.sessions.Get(c.sessionID); sess != nil {
		sess.Game.RemoveViewer(c.id)
		// a pilot that leaves stops steering
		if c.role >= RolePilot {
			sess.Game.HandleInput(protocol.InputMsg{})
		}
	}
	c.sessionID = ""
}

func (c *Client) handleLogin(data json.RawMessage) {
	var msg protocol.LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	token, err := c.hub.auth.Login(msg.Password, c.remoteAddr)
	if err != nil {
		c.sendError(err)
		return
	}
	c.role = RoleOperator
	c.log.Info("operator logged in")
	c.SendJSON(protocol.Envelope{T: protocol.MsgAuthOK, Data: protocol.AuthOKMsg{Role: c.role.String(), Token: token}})
}

func (c *Client) handleAuth(data json.RawMessage) {
	var msg protocol.AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	role, err := c.hub.auth.Validate(msg.Token)
	if err != nil {
		c.sendError(ErrInvalidToken)
		return
	}
	c.role = role
	c.SendJSON(protocol.Envelope{T: protocol.MsgAuthOK, Data: protocol.AuthOKMsg{Role: role.String()}})
}

// piloted returns the watched session's game when c may steer it.
func (c *Client) piloted() (*game.Game, error) {
	if c.role < RolePilot {
		return nil, ErrNotPilot
	}
	if c.sessionID == "" {
		return nil, ErrNotInSession
	}
	sess := c.hub.sessions.Get(c.sessionID)
	if sess == nil {
		return nil, ErrSessionMissing
	}
	return sess.Game, nil
}

func (c *Client) handleInput(data json.RawMessage) {
	var msg protocol.InputMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	g, err := c.piloted()
	if err != nil {
		c.sendError(err)
		return
	}
	g.HandleInput(msg)
}

func (c *Client) handleStrike() {
	g, err := c.piloted()
	if err != nil {
		c.sendError(err)
		return
	}
	err = g.Strike(func(_ physics.BodyID, err error) {
		if err != nil {
			c.sendError(err)
		}
	})
	if err != nil {
		c.sendError(err)
	}
}

func (c *Client) handleRecharge() {
	g, err := c.piloted()
	if err != nil {
		c.sendError(err)
		return
	}
	err = g.Recharge(func(err error) {
		if err != nil {
			c.sendError(err)
		}
	})
	if err != nil {
		c.sendError(err)
	}
}

func (c *Client) handleCreate(data json.RawMessage) {
	if c.role < RoleOperator {
		c.sendError(ErrNotOperator)
		return
	}
	var msg protocol.CreateMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
	}
	name := msg.Name
	if name == "" {
		name = "Arena"
	}
	if len(name) > maxSessionNameLen {
		name = name[:maxSessionNameLen]
	}
	sess, err := c.hub.sessions.Create(name)
	if err != nil {
		c.sendError(err)
		return
	}
	c.SendJSON(protocol.Envelope{T: protocol.MsgCreated, Data: protocol.CreatedMsg{SID: sess.ID}})
}

func (c *Client) handleStop(data json.RawMessage) {
	if c.role < RoleOperator {
		c.sendError(ErrNotOperator)
		return
	}
	var msg protocol.JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.SessionID == c.sessionID {
		c.sessionID = ""
	}
	if !c.hub.sessions.Stop(msg.SessionID) {
		c.sendError(ErrSessionMissing)
		return
	}
	c.log.Info("session stopped by operator", zap.String("session", msg.SessionID))
	c.SendJSON(protocol.Envelope{T: protocol.MsgStopped, Data: protocol.CreatedMsg{SID: msg.SessionID}})
}

// operated returns the watched session's game when c may change it.
func (c *Client) operated() (*game.Game, error) {
	if c.role < RoleOperator {
		return nil, ErrNotOperator
	}
	if c.sessionID == "" {
		return nil, ErrNotInSession
	}
	sess := c.hub.sessions.Get(c.sessionID)
	if sess == nil {
		return nil, ErrSessionMissing
	}
	return sess.Game, nil
}

func (c *Client) handleSpawn(data json.RawMessage) {
	var msg protocol.SpawnMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	g, err := c.operated()
	if err != nil {
		c.sendError(err)
		return
	}
	err = g.SpawnAgent(msg.Variant, geom.V(msg.X, msg.Y), msg.Idle, func(_ physics.BodyID, err error) {
		if err != nil {
			c.sendError(err)
		}
	})
	if err != nil {
		c.sendError(err)
	}
}

func (c *Client) handleDespawn(data json.RawMessage) {
	var msg protocol.DespawnMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	g, err := c.operated()
	if err != nil {
		c.sendError(err)
		return
	}
	err = g.DespawnAgent(physics.BodyID(msg.ID), func(ok bool) {
		if !ok {
			c.sendError(ErrNoAgent)
		}
	})
	if err != nil {
		c.sendError(err)
	}
}
