package spectate

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mobarena-server/internal/journal"
)

const (
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
	secretSetting    = "jwt_secret"
)

// Role is what a connection may do. Higher roles include the lower ones.
type Role int

const (
	RoleSpectator Role = iota // watch only
	RolePilot                 // steer and strike
	RoleOperator              // create, stop, spawn
)

func (r Role) String() string {
	switch r {
	case RolePilot:
		return "pilot"
	case RoleOperator:
		return "operator"
	default:
		return "spectator"
	}
}

// ParseRole maps a role name back to a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "spectator":
		return RoleSpectator, true
	case "pilot":
		return RolePilot, true
	case "operator":
		return RoleOperator, true
	}
	return RoleSpectator, false
}

var (
	ErrLoginDisabled  = errors.New("operator login disabled")
	ErrBadPassword    = errors.New("invalid password")
	ErrRateLimited    = errors.New("too many login attempts, try again later")
	ErrInvalidToken   = errors.New("invalid token")
	ErrNotOperator    = errors.New("operator role required")
	ErrNotPilot       = errors.New("pilot role required")
	ErrNotInSession   = errors.New("not watching a session")
	ErrSessionMissing = errors.New("session not found")
	ErrNoAgent        = errors.New("no such agent")
)

// Auth issues and checks role tokens. The signing secret lives in the
// journal's settings table so tokens survive restarts.
type Auth struct {
	jwtSecret    []byte
	operatorHash []byte
	ttl          time.Duration
	log          *zap.Logger

	// Rate limiting for login attempts (IP -> attempts)
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth loads or creates the signing secret. db may be nil, in which case
// the secret only lives as long as the process.
func NewAuth(db *journal.DB, operatorHash string, ttl time.Duration, log *zap.Logger) (*Auth, error) {
	if log == nil {
		log = zap.NewNop()
	}
	secret, err := loadOrCreateSecret(db, log)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Auth{
		jwtSecret:    secret,
		operatorHash: []byte(operatorHash),
		ttl:          ttl,
		log:          log,
		rateMap:      make(map[string]*rateEntry),
	}, nil
}

func loadOrCreateSecret(db *journal.DB, log *zap.Logger) ([]byte, error) {
	if db != nil {
		h, err := db.GetSetting(secretSetting)
		if err != nil {
			return nil, fmt.Errorf("load jwt secret: %w", err)
		}
		if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	if db != nil {
		if err := db.SetSetting(secretSetting, hex.EncodeToString(secret)); err != nil {
			log.Warn("could not persist jwt secret", zap.Error(err))
		}
	}
	return secret, nil
}

// Login checks the operator password and returns an operator token.
func (a *Auth) Login(password, ip string) (string, error) {
	if len(a.operatorHash) == 0 {
		return "", ErrLoginDisabled
	}
	if !a.checkRate(ip) {
		return "", ErrRateLimited
	}
	if err := bcrypt.CompareHashAndPassword(a.operatorHash, []byte(password)); err != nil {
		a.log.Info("operator login failed", zap.String("ip", ip))
		return "", ErrBadPassword
	}
	return a.Issue(RoleOperator)
}

// Issue signs a token for role.
func (a *Auth) Issue(role Role) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"role": role.String(),
		"exp":  now.Add(a.ttl).Unix(),
		"iat":  now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// Validate returns the role carried by tokenStr.
func (a *Auth) Validate(tokenStr string) (Role, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return RoleSpectator, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return RoleSpectator, ErrInvalidToken
	}
	name, _ := claims["role"].(string)
	role, ok := ParseRole(name)
	if !ok {
		return RoleSpectator, ErrInvalidToken
	}
	return role, nil
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}
