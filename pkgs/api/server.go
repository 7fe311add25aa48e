package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/crypto"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/ledger"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/metrics"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/orchestrator"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/workers"
)

const (
	DefaultMaxBodyBytes = 1 << 20

	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderAdminSecret    = "X-Admin-Secret"
	HeaderAdminSignature = "X-Admin-Signature"
	HeaderAdminDeadline  = "X-Admin-Deadline"
	HeaderAdminNonce     = "X-Admin-Nonce"
	HeaderRequestID      = "X-Request-ID"
)

// Service is the pipeline surface the API exposes.
// *orchestrator.Orchestrator satisfies it.
type Service interface {
	Submit(ctx context.Context, in *submissions.Input) (*submissions.Result, error)
	OverrideMint(ctx context.Context, req *orchestrator.OverrideRequest) (*submissions.Submission, error)
	DirectMint(ctx context.Context, req *orchestrator.DirectMintRequest) (*ledger.Receipt, error)
	ListRecent(ctx context.Context, limit int) ([]*submissions.Submission, error)
	Get(ctx context.Context, projectID string) (*submissions.Submission, error)
	ListFlagged(ctx context.Context, threshold *float64) ([]*submissions.Submission, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	Threshold() float64
}

// HealthChecker reports whether the record store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Authorizer checks administrative credentials. *crypto.AdminAuthorizer satisfies it.
type Authorizer interface {
	AuthorizeToken(presented string) (string, error)
	AuthorizeSignature(ctx context.Context, request *crypto.AdminRequest, signature string) (string, error)
}

// OverviewSource reports background worker state. *workers.OverviewReader satisfies it.
type OverviewSource interface {
	Overview(ctx context.Context) (*workers.PipelineOverview, error)
}

// Config holds HTTP surface settings. Overview is optional.
type Config struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
	Overview       OverviewSource
}

// Server exposes the submission pipeline over HTTP
type Server struct {
	svc          Service
	health       HealthChecker
	auth         Authorizer
	overview     OverviewSource
	origins      map[string]struct{}
	allowAll     bool
	maxBodyBytes int64
}

// NewServer creates a new API server
func NewServer(svc Service, health HealthChecker, auth Authorizer, cfg Config) *Server {
	s := &Server{
		svc:          svc,
		health:       health,
		auth:         auth,
		overview:     cfg.Overview,
		origins:      make(map[string]struct{}),
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = DefaultMaxBodyBytes
	}
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			s.allowAll = true
		default:
			s.origins[o] = struct{}{}
		}
	}
	return s
}

// Router creates the HTTP handler with all endpoints. CORS wraps the router
// so preflight requests are answered before route method matching.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	// Health
	r.HandleFunc("/", s.handleRoot).Methods("GET")
	r.HandleFunc("/api/v1/health", s.handleHealthCheck).Methods("GET")

	// Submissions
	r.HandleFunc("/submit", s.handleSubmit).Methods("POST")
	r.HandleFunc("/submissions", s.handleListSubmissions).Methods("GET")
	r.HandleFunc("/submission/{projectId}", s.handleGetSubmission).Methods("GET")
	r.HandleFunc("/balance/{address}", s.handleBalance).Methods("GET")

	// Administrative
	r.Handle("/admin/flagged", s.requireAdmin(http.HandlerFunc(s.handleListFlagged))).Methods("GET")
	r.Handle("/admin/override-mint", s.requireAdmin(http.HandlerFunc(s.handleOverrideMint))).Methods("POST")
	r.Handle("/mint", s.requireAdmin(http.HandlerFunc(s.handleDirectMint))).Methods("POST")
	if s.overview != nil {
		r.Handle("/admin/overview", s.requireAdmin(http.HandlerFunc(s.handleOverview))).Methods("GET")
	}

	r.Use(s.requestIDMiddleware)
	r.Use(s.metricsMiddleware)

	return s.corsMiddleware(r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware tracks API request metrics by route template
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.APIRequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware reflects allow-listed origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
				"Content-Type", "Authorization", HeaderAdminSecret, HeaderAdminSignature,
				HeaderAdminDeadline, HeaderAdminNonce, HeaderIdempotencyKey,
			}, ", "))
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if s.allowAll {
		return true
	}
	_, ok := s.origins[strings.TrimRight(origin, "/")]
	return ok
}

// requireAdmin accepts either the shared token or a signed admin request
// and puts the operator identity into the request context
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, err := s.authorize(r)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Warn("Rejected administrative request")
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(orchestrator.WithOperator(r.Context(), operator)))
	})
}

func (s *Server) authorize(r *http.Request) (string, error) {
	if s.auth == nil {
		return "", submissions.ErrUnauthorized
	}

	if token := bearerToken(r); token != "" {
		return s.auth.AuthorizeToken(token)
	}

	signature := r.Header.Get(HeaderAdminSignature)
	if signature == "" {
		return "", submissions.ErrUnauthorized
	}
	deadline, err := strconv.ParseUint(r.Header.Get(HeaderAdminDeadline), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid %s", submissions.ErrUnauthorized, HeaderAdminDeadline)
	}

	// the signature covers the body, so read it here and hand a fresh copy on
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes))
	if err != nil {
		return "", submissions.Invalid("body", "unreadable")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	request := crypto.NewAdminRequest(r.Method, r.URL.Path, body, deadline, r.Header.Get(HeaderAdminNonce))
	return s.auth.AuthorizeSignature(r.Context(), request, signature)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.Header.Get(HeaderAdminSecret)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "grovia-registry",
	})
}

// handleHealthCheck returns service health status
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"fraud_threshold": s.svc.Threshold(),
		"timestamp":       time.Now().Unix(),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in submissions.Input
	if err := s.decode(w, r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.svc.Submit(r.Context(), &in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, submissions.Invalid("limit", "not an integer"))
			return
		}
		limit = n
	}

	subs, err := s.svc.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(subs),
		"submissions": subs,
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.svc.Get(r.Context(), mux.Vars(r)["projectId"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleListFlagged(w http.ResponseWriter, r *http.Request) {
	var threshold *float64
	if v := r.URL.Query().Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, submissions.Invalid("threshold", "not a number"))
			return
		}
		threshold = &t
	}

	subs, err := s.svc.ListFlagged(r.Context(), threshold)
	if err != nil {
		s.writeError(w, err)
		return
	}

	applied := s.svc.Threshold()
	if threshold != nil {
		applied = *threshold
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"threshold":   applied,
		"count":       len(subs),
		"submissions": subs,
	})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.overview.Overview(r.Context())
	if err != nil {
		log.WithError(err).Error("Failed to read pipeline overview")
		s.writeError(w, fmt.Errorf("%w: %v", submissions.ErrStoreUnavailable, err))
		return
	}
	s.writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleOverrideMint(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.OverrideRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	sub, err := s.svc.OverrideMint(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"submission": sub,
	})
}

func (s *Server) handleDirectMint(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.DirectMintRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)

	receipt, err := s.svc.DirectMint(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"txHash":      receipt.TxHash,
		"blockNumber": receipt.BlockNumber,
		"to":          receipt.To,
		"amount":      receipt.Amount,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	balance, err := s.svc.Balance(r.Context(), address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"balance": balance.String(),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return submissions.Invalid("body", "malformed JSON")
	}
	return nil
}

// StatusFor maps a pipeline error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, submissions.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, submissions.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, submissions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, submissions.ErrConflict),
		errors.Is(err, submissions.ErrAlreadyMinted),
		errors.Is(err, submissions.ErrDuplicateRequest),
		errors.Is(err, submissions.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, submissions.ErrStoreUnavailable),
		errors.Is(err, submissions.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, submissions.ErrMintFailed),
		errors.Is(err, submissions.ErrScoringFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := map[string]interface{}{
		"ok":    false,
		"error": err.Error(),
	}
	var verr *submissions.ValidationError
	if errors.As(err, &verr) {
		body["field"] = verr.Field
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("status", status).Error("Request failed")
	}
	s.writeJSON(w, status, body)
}

// writeJSON writes JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("Failed to encode JSON response")
	}
}
