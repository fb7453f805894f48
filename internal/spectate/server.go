package spectate

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"mobarena-server/internal/journal"
	"mobarena-server/internal/protocol"
)

const qrSize = 256

var uuidPathRe = regexp.MustCompile(`^/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearer returns the token from the Authorization header or the token query
// parameter, which browsers use for websockets.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Status is the body of /api/status.
type Status struct {
	Sessions int             `json:"sessions"`
	Clients  int             `json:"clients"`
	Journal  journal.Metrics `json:"journal"`
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub, clientDir string) *http.ServeMux {
	mux := http.NewServeMux()

	if clientDir != "" {
		// Serve static files with no-cache so browsers always revalidate
		fs := http.FileServer(http.Dir(clientDir))
		mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			// SPA: serve index.html for root and session paths
			if r.URL.Path == "/" || uuidPathRe.MatchString(r.URL.Path) {
				http.ServeFile(w, r, filepath.Join(clientDir, "index.html"))
				return
			}
			fs.ServeHTTP(w, r)
		}))
	}

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		role := RoleSpectator
		if tok := bearer(r); tok != "" {
			var err error
			if role, err = hub.auth.Validate(tok); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		} else if hub.cfg.RequireToken {
			http.Error(w, "token required", http.StatusUnauthorized)
			return
		}

		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("upgrade error", zap.Error(err))
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip, role)
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.sessions.List())
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		st := Status{Sessions: hub.sessions.Len(), Clients: hub.ClientCount()}
		if hub.journal != nil {
			st.Journal = hub.journal.Metrics()
		}
		writeJSON(w, http.StatusOK, st)
	})

	// POST {"password"} logs in as operator. GET returns a spectator token,
	// or with an operator bearer token any ?role=.
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var msg protocol.LoginMsg
			if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
				writeJSON(w, http.StatusBadRequest, protocol.ErrorMsg{Msg: "bad request"})
				return
			}
			token, err := hub.auth.Login(msg.Password, extractIP(r))
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrRateLimited) {
					status = http.StatusTooManyRequests
				}
				writeJSON(w, status, protocol.ErrorMsg{Msg: err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, protocol.AuthOKMsg{Role: RoleOperator.String(), Token: token})

		case http.MethodGet:
			want := RoleSpectator
			if name := r.URL.Query().Get("role"); name != "" {
				var ok bool
				if want, ok = ParseRole(name); !ok {
					writeJSON(w, http.StatusBadRequest, protocol.ErrorMsg{Msg: "unknown role"})
					return
				}
			}
			if want > RoleSpectator {
				caller, err := hub.auth.Validate(bearer(r))
				if err != nil || caller < RoleOperator {
					writeJSON(w, http.StatusForbidden, protocol.ErrorMsg{Msg: ErrNotOperator.Error()})
					return
				}
			}
			token, err := hub.auth.Issue(want)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, protocol.ErrorMsg{Msg: "internal error"})
				return
			}
			writeJSON(w, http.StatusOK, protocol.AuthOKMsg{Role: want.String(), Token: token})

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// QR code of a session's spectate link, for phones.
	mux.HandleFunc("/qr", func(w http.ResponseWriter, r *http.Request) {
		sid := r.URL.Query().Get("sid")
		if hub.sessions.Get(sid) == nil {
			http.NotFound(w, r)
			return
		}
		base := hub.cfg.PublicURL
		if base == "" {
			base = "http://" + r.Host
		}
		png, err := qrcode.Encode(strings.TrimSuffix(base, "/")+"/"+sid, qrcode.Medium, qrSize)
		if err != nil {
			hub.log.Error("qr encode", zap.Error(err))
			http.Error(w, "qr error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	})

	return mux
}
