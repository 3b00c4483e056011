// Package server exposes the hub over HTTP: the collaboration websocket, a
// health check and metrics.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabtext/internal/hub"
	"collabtext/internal/protocol"
)

type Options struct {
	// AllowedOrigins lists the browser origins allowed to connect. Empty
	// allows any origin.
	AllowedOrigins []string
	WriteTimeout   time.Duration
	// PongWait is how long a connection may stay silent before it is
	// considered lost. Pings are sent at nine tenths of it.
	PongWait       time.Duration
	MaxMessageSize int64
	// Metrics, if set, is served at /metrics.
	Metrics http.Handler
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
	return o
}

type Server struct {
	hub      *hub.Hub
	opts     Options
	log      zerolog.Logger
	upgrader websocket.Upgrader
	router   *mux.Router
}

func New(h *hub.Hub, opts Options, log zerolog.Logger) *Server {
	s := &Server{
		hub:  h,
		opts: opts.withDefaults(),
		log:  log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws/documents/{docID}", s.serveWs)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/documents", s.documents).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.log.Debug().Err(err).Msg("write response")
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) documents(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string][]string{"documents": s.hub.Documents()})
}

// identify reads the connecting user from the query string. The bearer
// token may come from the Authorization header or a token parameter, since
// browsers cannot set headers on websocket requests.
func identify(r *http.Request) hub.Identity {
	q := r.URL.Query()
	id := hub.Identity{
		UserID:      q.Get("user_id"),
		DisplayName: q.Get("username"),
		Token:       q.Get("token"),
	}
	if id.UserID == "" {
		id.UserID = "anonymous"
	}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		id.Token = strings.TrimPrefix(auth, "Bearer ")
	}
	return id
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docID"]
	id := identify(r)
	log := s.log.With().Str("doc", docID).Str("user", id.UserID).Logger()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	conn := &wsConn{conn: ws, writeTimeout: s.opts.WriteTimeout}

	sess, err := s.hub.Admit(r.Context(), docID, conn, id)
	if err != nil {
		log.Warn().Err(err).Msg("admit session")
		if data, encErr := protocol.Encode(protocol.Error{Message: "document unavailable"}); encErr == nil {
			_ = conn.WriteMessage(data)
		}
		conn.Close()
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	go s.keepAlive(conn, stop)
	s.readPump(r, ws, sess)
}

// readPump feeds client messages to the hub until the connection drops. A
// message that cannot be decoded is reported to its sender and skipped.
func (s *Server) readPump(r *http.Request, ws *websocket.Conn, sess *hub.Session) {
	defer s.hub.Dismiss(sess)

	ws.SetReadLimit(s.opts.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	log := s.log.With().Str("doc", sess.DocumentID()).Str("session", sess.ID()).Logger()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("connection lost")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Debug().Err(err).Msg("rejecting message")
			s.hub.Reject(sess, err)
			continue
		}
		if err := s.hub.Handle(r.Context(), sess, msg); err != nil {
			log.Debug().Err(err).Str("type", string(msg.Type())).Msg("handle message")
		}
	}
}

func (s *Server) keepAlive(conn *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
