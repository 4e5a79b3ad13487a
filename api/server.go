// api/server.go

// HTTP REST gateway for the local bot/API collaborators

// Thin adapter over the node: report submission, spammer lookup, amnesty
// and status. Uses Gorilla Mux for routing, includes CORS support and
// logging middleware. Business analysis of reports happens elsewhere; this
// surface only translates requests into store lookups or gossip broadcasts.

package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/frstrtr/rebot-sub001/node"
)

// Server is the HTTP gateway.
type Server struct {
	node   *node.Node
	router *mux.Router
	server *http.Server
	addr   string
}

// NewServer creates the HTTP gateway for a node.
func NewServer(n *node.Node, addr string, enableCORS bool) *Server {
	s := &Server{
		node: n,
		addr: addr,
	}
	s.setupRoutes(enableCORS)
	return s
}

func (s *Server) setupRoutes(enableCORS bool) {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Spammer endpoints
	api.HandleFunc("/spammer/{id}", s.getSpammer).Methods("GET")
	api.HandleFunc("/spammer/{id}", s.deleteSpammer).Methods("DELETE")
	api.HandleFunc("/spammers", s.listSpammers).Methods("GET")
	api.HandleFunc("/report", s.postReport).Methods("POST")

	// Status endpoints
	api.HandleFunc("/status", s.getStatus).Methods("GET")
	api.HandleFunc("/health", s.getHealth).Methods("GET")

	if enableCORS {
		c := cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		})
		s.router.Use(c.Handler)
	}
	s.router.Use(s.loggingMiddleware)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("HTTP gateway listening on %s", s.addr)
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// getSpammer answers "is this identifier a known spammer". With
// ?network=true a local miss fans the query out to direct peers for the
// bounded query window before answering.
func (s *Server) getSpammer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]

	var err error
	rec, err := s.node.Lookup(userID)
	if err == nil && rec == nil && r.URL.Query().Get("network") == "true" {
		rec, err = s.node.LookupNetwork(userID)
	}
	if err != nil {
		s.writeError(w, "Lookup failed", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		s.writeJSON(w, map[string]interface{}{
			"ok":         true,
			"user_id":    userID,
			"is_spammer": false,
			"found":      false,
		})
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"ok":         true,
		"user_id":    rec.UserID,
		"is_spammer": rec.IsSpammer,
		"found":      true,
		"record":     rec,
	})
}

type reportRequest struct {
	UserID      string      `json:"user_id"`
	Note        string      `json:"note"`
	Timestamp   int64       `json:"timestamp"`
	IsSpammer   bool        `json:"is_spammer"`
	LolsBotData interface{} `json:"lols_bot_data,omitempty"`
	CasChatData interface{} `json:"cas_chat_data,omitempty"`
	P2PData     interface{} `json:"p2p_data,omitempty"`
}

// postReport accepts a local spammer report and disseminates it.
func (s *Server) postReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		s.writeError(w, "Missing user_id", http.StatusBadRequest)
		return
	}

	changed, err := s.node.SubmitReport(node.Report{
		UserID:      req.UserID,
		Note:        req.Note,
		Timestamp:   req.Timestamp,
		IsSpammer:   req.IsSpammer,
		LolsBotData: req.LolsBotData,
		CasChatData: req.CasChatData,
		P2PData:     req.P2PData,
	})
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to store report: %v", err), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"ok":      true,
		"user_id": req.UserID,
		"changed": changed,
	})
}

// deleteSpammer removes a record locally and broadcasts the amnesty.
func (s *Server) deleteSpammer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]

	existed, err := s.node.Amnesty(userID)
	if err != nil {
		s.writeError(w, "Failed to remove record", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"ok":      true,
		"user_id": userID,
		"existed": existed,
	})
}

func (s *Server) listSpammers(w http.ResponseWriter, r *http.Request) {
	records, err := s.node.AllRecords()
	if err != nil {
		s.writeError(w, "Failed to list records", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"ok":       true,
		"spammers": records,
		"count":    len(records),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.Status())
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"peers":     s.node.PeerCount(),
	})
}

// Helpers

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":        false,
		"error":     message,
		"status":    statusCode,
		"timestamp": time.Now().Unix(),
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		log.Printf("%s %s %d %v", r.Method, r.URL.Path, lrw.statusCode, time.Since(start))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
