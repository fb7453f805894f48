package protocol

import "encoding/json"

// Client -> Server message types
const (
	MsgList     = "list"     // list sessions
	MsgCreate   = "create"   // create session (operator)
	MsgStop     = "stop"     // stop session (operator)
	MsgJoin     = "join"     // start watching a session
	MsgLeave    = "leave"    // stop watching
	MsgCheck    = "check"    // check if session exists
	MsgInput    = "input"    // steer the player (pilot)
	MsgStrike   = "strike"   // player hits its current target (pilot)
	MsgRecharge = "recharge" // spend juice for health (pilot)
	MsgSpawn    = "spawn"    // add an agent (operator)
	MsgDespawn  = "despawn"  // remove an agent (operator)
	MsgLogin    = "login"    // operator password -> token
	MsgAuth     = "auth"     // present a token
)

// Server -> Client message types
const (
	MsgSessions = "sessions"
	MsgCreated  = "created"
	MsgStopped  = "stopped"
	MsgJoined   = "joined"
	MsgWelcome  = "welcome" // arena layout, sent once after joining
	MsgChecked  = "checked"
	MsgAuthOK   = "auth_ok"
	MsgEnded    = "ended" // the watched session ended
	MsgError    = "error"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; D is decoded per type.
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// InputMsg steers the player. X and Y are axes in [-1, 1].
type InputMsg struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type CreateMsg struct {
	Name string `json:"name"`
}

type JoinMsg struct {
	SessionID string `json:"sid"`
}

type CheckMsg struct {
	SID string `json:"sid"`
}

type CheckedMsg struct {
	SID     string `json:"sid"`
	Exists  bool   `json:"exists"`
	Name    string `json:"name,omitempty"`
	Viewers int    `json:"viewers,omitempty"`
}

type SpawnMsg struct {
	Variant string  `json:"variant"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Idle    bool    `json:"idle,omitempty"`
}

type DespawnMsg struct {
	ID uint32 `json:"id"`
}

type LoginMsg struct {
	Password string `json:"password"`
}

type AuthMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg answers a successful login or auth.
type AuthOKMsg struct {
	Role  string `json:"role"`
	Token string `json:"token,omitempty"`
}

// SessionInfo is used in the session list
type SessionInfo struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Tick    uint64  `json:"tick"`
	Agents  int     `json:"agents"`
	Viewers int     `json:"viewers"`
	Health  float64 `json:"health"`
}

type CreatedMsg struct {
	SID string `json:"sid"`
}

type JoinedMsg struct {
	SID string `json:"sid"`
}

// EndedMsg tells viewers why a session stopped.
type EndedMsg struct {
	SID    string `json:"sid"`
	Reason string `json:"reason"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}
