// Package api wires the farm's HTTP surface: session auth, flag ingest,
// the paginated flag read, the shared client config, the hfi checker
// registry, artifact downloads, and prometheus metrics.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/h4ppyfarm/farm/internal/config"
	"github.com/h4ppyfarm/farm/internal/hfi"
	"github.com/h4ppyfarm/farm/internal/store"
)

// Server holds the handlers' shared dependencies.
type Server struct {
	cfg          *config.Config
	store        *store.Store
	hfi          *hfi.Manager
	sessions     *sessions
	passwordHash []byte
	logger       *log.Logger
}

func NewServer(cfg *config.Config, st *store.Store, mgr *hfi.Manager) (*Server, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:          cfg,
		store:        st,
		hfi:          mgr,
		sessions:     newSessions(cfg.SecretKey),
		passwordHash: hash,
		logger:       log.New(log.Writer(), "[API] ", log.LstdFlags),
	}, nil
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireSession)
	api.HandleFunc("/auth", s.handleAuth).Methods(http.MethodPost)
	api.HandleFunc("/flags/{exploit}", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/flags", s.handleFlagsPage).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/hfi/checkers", s.handleListCheckers).Methods(http.MethodGet)
	api.HandleFunc("/hfi/checkers", s.handleAddChecker).Methods(http.MethodPost)
	api.HandleFunc("/hfi/checkers", s.handleRemoveChecker).Methods(http.MethodDelete)

	r.HandleFunc("/hfi/{os}/{arch}", s.handleHfiBinary).Methods(http.MethodGet)
	r.HandleFunc("/hfi/{os}/{arch}/timestamp", s.handleHfiTimestamp).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Forbidden", http.StatusForbidden)
	})

	return r
}

// requireSession gates every /api route except /api/auth behind a valid
// session cookie.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth" {
			next.ServeHTTP(w, r)
			return
		}
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || !s.sessions.check(cookie.Value) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if bcrypt.CompareHashAndPassword(s.passwordHash, []byte(body.Password)) != nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.sessions.issue(),
		Path:     "/",
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"flagFormat":   s.cfg.FlagFormat,
		"flagLifetime": s.cfg.FlagLifetime,
		"tickDuration": s.cfg.TickDuration,
		"teams":        s.cfg.Teams,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
