package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"github.com/joescharf/bounty/internal/analysis"
	"github.com/joescharf/bounty/internal/analytics"
	"github.com/joescharf/bounty/internal/auth"
	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/store"
	"github.com/joescharf/bounty/internal/verify"
)

// Server provides the REST API handlers.
type Server struct {
	ledger   *ledger.Ledger
	auth     *auth.Service
	analysis *analysis.Service
	verifier *verify.Verifier
}

// NewServer creates a new API server.
func NewServer(l *ledger.Ledger, authSvc *auth.Service, an *analysis.Service, v *verify.Verifier) *Server {
	return &Server{
		ledger:   l,
		auth:     authSvc,
		analysis: an,
		verifier: v,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.health)

	mux.HandleFunc("POST /api/v1/auth/session", s.createSession)
	mux.HandleFunc("GET /api/v1/auth/me", s.me)

	mux.HandleFunc("GET /api/v1/bugs", s.listBugs)
	mux.HandleFunc("POST /api/v1/bugs", s.createBug)
	mux.HandleFunc("GET /api/v1/bugs/{id}", s.getBug)

	mux.HandleFunc("POST /api/v1/bugs/{id}/fund", s.fundBug)
	mux.HandleFunc("GET /api/v1/bugs/{id}/contributions", s.listContributions)
	mux.HandleFunc("PUT /api/v1/bugs/{id}/bounty", s.setBounty)
	mux.HandleFunc("GET /api/v1/users/{id}/funding", s.userFunding)

	mux.HandleFunc("POST /api/v1/bugs/{id}/claim", s.claimBug)
	mux.HandleFunc("POST /api/v1/bugs/{id}/submit", s.submitBug)
	mux.HandleFunc("POST /api/v1/bugs/{id}/resolve", s.resolveBug)

	mux.HandleFunc("POST /api/v1/bugs/{id}/verify", s.verifyBug)
	mux.HandleFunc("GET /api/v1/bugs/{id}/verifications", s.listVerifications)

	mux.HandleFunc("POST /api/v1/bugs/{id}/analyze", s.analyzeBug)
	mux.HandleFunc("GET /api/v1/bugs/{id}/matches", s.matchDevelopers)

	mux.HandleFunc("GET /api/v1/analytics/dashboard", s.dashboard)

	return requestID(requestLogger(gzhttp.GzipHandler(corsMiddleware(s.authenticate(mux)))))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate attaches the caller identity when a Bearer token is present.
// Handlers decide whether an identity is required.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" {
			writeErr(w, models.ErrUnauthorized)
			return
		}
		id, err := s.auth.ParseToken(token)
		if err != nil {
			writeErr(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

const headerRequestID = "X-Request-ID"

// requestID echoes the caller's X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each HTTP request with structured fields.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Header.Get(headerRequestID),
		)
	})
}

// APIError is the body of every error response.
type APIError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]APIError{"error": {Code: code, Message: msg}})
}

// writeErr maps a domain error onto its HTTP status and writes it.
func writeErr(w http.ResponseWriter, err error) {
	status, apiErr := mapError(err)
	writeJSON(w, status, map[string]APIError{"error": apiErr})
}

func mapError(err error) (int, APIError) {
	var validationErr *models.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, APIError{
			Code:    "validation_error",
			Message: "Validation failed",
			Details: []FieldError{{Field: validationErr.Field, Message: validationErr.Message}},
		}
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, APIError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, models.ErrInvalidAmount):
		return http.StatusBadRequest, APIError{Code: "invalid_amount", Message: err.Error()}
	case errors.Is(err, models.ErrNotFundable):
		return http.StatusConflict, APIError{Code: "not_fundable", Message: err.Error()}
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, APIError{Code: "invalid_transition", Message: err.Error()}
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, APIError{Code: "conflict", Message: err.Error()}
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, APIError{Code: "unauthorized", Message: "Authentication is required"}
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, APIError{Code: "forbidden", Message: err.Error()}
	default:
		slog.Error("unhandled error", "error", err)
		return http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "An unexpected error occurred",
		}
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// --- Health ---

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Auth ---

type sessionRequest struct {
	Name string      `json:"name"`
	Role models.Role `json:"role"`
}

type sessionResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.auth.Login(r.Context(), req.Name, req.Role)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, User: user})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	id, err := auth.Require(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	user, err := s.ledger.Store().GetUser(r.Context(), id.UserID)
	if errors.Is(err, models.ErrNotFound) {
		writeErr(w, models.ErrUnauthorized)
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// --- Bugs ---

func (s *Server) listBugs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.BugListFilter{
		Status:      models.BugStatus(q.Get("status")),
		Severity:    models.Severity(q.Get("severity")),
		AuthorID:    q.Get("author"),
		DeveloperID: q.Get("developer"),
		Tag:         q.Get("tag"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeErr(w, &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", filter.Status)})
		return
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		writeErr(w, &models.ValidationError{Field: "severity", Message: fmt.Sprintf("unknown severity %q", filter.Severity)})
		return
	}

	bugs, err := s.ledger.ListBugs(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if bugs == nil {
		bugs = []*models.Bug{}
	}
	writeJSON(w, http.StatusOK, bugs)
}

func (s *Server) getBug(w http.ResponseWriter, r *http.Request) {
	bug, err := s.ledger.GetBug(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (s *Server) createBug(w http.ResponseWriter, r *http.Request) {
	id, err := auth.Require(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	var draft models.BugDraft
	if !decodeJSON(w, r, &draft) {
		return
	}
	draft.AuthorID = id.UserID

	bug, err := s.ledger.CreateBug(r.Context(), draft)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bug)
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) fundBug(w http.ResponseWriter, r *http.Request) {
	id, err := auth.Require(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	bug, err := s.ledger.FundBug(r.Context(), r.PathValue("id"), id.UserID, req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (s *Server) listContributions(w http.ResponseWriter, r *http.Request) {
	list, err := s.ledger.Contributions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []*models.Contribution{}
	}
	writeJSON(w, http.StatusOK, list)
}

type fundingResponse struct {
	UserID string  `json:"userId"`
	Total  float64 `json:"total"`
}

func (s *Server) userFunding(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	total, err := s.ledger.FundedBy(r.Context(), userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fundingResponse{UserID: userID, Total: total})
}

func (s *Server) setBounty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := auth.Require(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	bugID := r.PathValue("id")
	bug, err := s.ledger.GetBug(ctx, bugID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !id.IsAdmin() && bug.AuthorID != id.UserID {
		writeErr(w, fmt.Errorf("only the author or an admin may set the bounty: %w", models.ErrForbidden))
		return
	}

	bug, err = s.ledger.SetBounty(ctx, bugID, req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

// --- Lifecycle ---

func (s *Server) claimBug(w http.ResponseWriter, r *http.Request) {
	id, err := auth.RequireRole(r.Context(), models.RoleDeveloper)
	if err != nil {
		writeErr(w, err)
		return
	}
	bug, err := s.ledger.ClaimBug(r.Context(), r.PathValue("id"), id.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (s *Server) submitBug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := auth.Require(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	bugID := r.PathValue("id")
	bug, err := s.ledger.GetBug(ctx, bugID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if bug.AssignedDeveloperID != id.UserID {
		writeErr(w, fmt.Errorf("only the assigned developer may submit: %w", models.ErrForbidden))
		return
	}

	bug, err = s.ledger.SubmitForReview(ctx, bugID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (s *Server) resolveBug(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.RequireRole(r.Context(), models.RoleAdmin); err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		Passed *bool `json:"passed"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Passed == nil {
		writeErr(w, &models.ValidationError{Field: "passed", Message: "passed is required"})
		return
	}

	bug, err := s.ledger.ResolveBug(r.Context(), r.PathValue("id"), *req.Passed)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

// --- Verification ---

type verifyResponse struct {
	Verification *models.Verification `json:"verification"`
	Bug          *models.Bug          `json:"bug"`
}

func (s *Server) verifyBug(w http.ResponseWriter, r *http.Request) {
	id, err := auth.Require(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		PRLink string `json:"prLink"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, bug, err := s.verifier.Verify(r.Context(), r.PathValue("id"), id.UserID, req.PRLink)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Verification: rec, Bug: bug})
}

func (s *Server) listVerifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.verifier.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []*models.Verification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// --- Analysis ---

func (s *Server) analyzeBug(w http.ResponseWriter, r *http.Request) {
	a, err := s.analysis.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) matchDevelopers(w http.ResponseWriter, r *http.Request) {
	matches, err := s.analysis.Matches(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// --- Analytics ---

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := analytics.Build(r.Context(), s.ledger.Store())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
