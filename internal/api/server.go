package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mentorline/internal/session"
	"mentorline/pkg/interfaces"
	"mentorline/pkg/types"
)

// maxHistoryLimit caps the page size of call history requests
const maxHistoryLimit = 200

// HealthChecker reports whether the store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider exposes counters for the health endpoint
type StatsProvider interface {
	GetStats() map[string]int
}

// ChatSummarizer lists an identity's chats with unseen counts
type ChatSummarizer interface {
	Summaries(ctx context.Context, identity string) ([]*types.ChatSummary, error)
}

// PresenceReader reports liveness of an identity
type PresenceReader interface {
	Status(ctx context.Context, identity string) (*types.Presence, error)
}

// CallHistory lists call records involving an identity
type CallHistory interface {
	ListCallHistory(ctx context.Context, identity string, limit int) ([]*types.CallRecord, error)
}

// Dependencies groups the collaborators the HTTP layer reads from
type Dependencies struct {
	Health    HealthChecker
	Directory interfaces.ChatDirectory
	Chats     ChatSummarizer
	Presence  PresenceReader
	Calls     CallHistory
	Registry  StatsProvider
	Signaling StatsProvider
	Sessions  StatsProvider

	// PresenceStore is nil when last-active lives in the database
	PresenceStore HealthChecker
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps   Dependencies
	logger *zap.Logger
	router *http.ServeMux
}

// NewServer initializes all dependencies and sets up routing
func NewServer(deps Dependencies, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		logger: logger.Named("api"),
		router: http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	s.router.Handle("/api/chats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleChats))))
	s.router.Handle("/api/presence/{identity}", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handlePresence))))
	s.router.Handle("/api/calls", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleCalls))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type CreateChatRequest struct {
	LearnerID    string `json:"learnerId"`
	InstructorID string `json:"instructorId"`
}

type CreateChatResponse struct {
	Chat    *types.ChatSession `json:"chat"`
	Created bool               `json:"created"`
}

type ListChatsResponse struct {
	Chats []*types.ChatSummary `json:"chats"`
}

type CallHistoryResponse struct {
	Calls []*types.CallRecord `json:"calls"`
}

type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	Database      string         `json:"database"`
	PresenceStore string         `json:"presenceStore,omitempty"`
	Connections   map[string]int `json:"connections"`
	Calls         map[string]int `json:"calls"`
	Chats         map[string]int `json:"chats,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: Handle chats collection endpoints (POST /api/chats, GET /api/chats?identity=)
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createChat(w, r)
	case http.MethodGet:
		s.listChats(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/chats is idempotent per learner/instructor pair
func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	chat, created, err := s.deps.Directory.CreateChat(r.Context(), req.LearnerID, req.InstructorID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidLearnerID),
			errors.Is(err, session.ErrInvalidInstructorID),
			errors.Is(err, session.ErrSameParticipant):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("failed to create chat", zap.Error(err))
			s.sendError(w, "Failed to create chat", http.StatusInternalServerError)
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, CreateChatResponse{Chat: chat, Created: created})
}

// GET /api/chats?identity= lists chats with the identity's unseen counts
func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identityParam(w, r.URL.Query().Get("identity"))
	if !ok {
		return
	}

	summaries, err := s.deps.Chats.Summaries(r.Context(), identity)
	if err != nil {
		s.logger.Error("failed to list chats", zap.String("identity", identity), zap.Error(err))
		s.sendError(w, "Failed to list chats", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []*types.ChatSummary{}
	}
	s.writeJSON(w, http.StatusOK, ListChatsResponse{Chats: summaries})
}

// GET /api/presence/{identity}
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, ok := s.identityParam(w, r.PathValue("identity"))
	if !ok {
		return
	}

	status, err := s.deps.Presence.Status(r.Context(), identity)
	if err != nil {
		s.logger.Error("failed to read presence", zap.String("identity", identity), zap.Error(err))
		s.sendError(w, "Failed to read presence", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// GET /api/calls?identity=&limit=
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	identity, ok := s.identityParam(w, query.Get("identity"))
	if !ok {
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.sendError(w, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.deps.Calls.ListCallHistory(r.Context(), identity, limit)
	if err != nil {
		s.logger.Error("failed to list calls", zap.String("identity", identity), zap.Error(err))
		s.sendError(w, "Failed to list calls", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*types.CallRecord{}
	}
	s.writeJSON(w, http.StatusOK, CallHistoryResponse{Calls: records})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "healthy",
		Connections: s.deps.Registry.GetStats(),
		Calls:       s.deps.Signaling.GetStats(),
	}
	if s.deps.Sessions != nil {
		response.Chats = s.deps.Sessions.GetStats()
	}

	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		response.Status = "unhealthy"
		response.Database = fmt.Sprintf("error: %v", err)
	}

	if s.deps.PresenceStore != nil {
		response.PresenceStore = "healthy"
		if err := s.deps.PresenceStore.HealthCheck(ctx); err != nil {
			s.logger.Warn("presence store health check failed", zap.Error(err))
			response.Status = "unhealthy"
			response.PresenceStore = fmt.Sprintf("error: %v", err)
		}
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, response)
}

func (s *Server) identityParam(w http.ResponseWriter, identity string) (string, bool) {
	if identity == "" {
		s.sendError(w, "identity is required", http.StatusBadRequest)
		return "", false
	}
	if !types.IsValidIdentity(identity) {
		s.sendError(w, types.ErrInvalidIdentity.Error(), http.StatusBadRequest)
		return "", false
	}
	return identity, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// Preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
