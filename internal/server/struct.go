package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docq-ai/docq-go/internal/answer"
	"github.com/docq-ai/docq-go/internal/auth"
	"github.com/docq-ai/docq-go/internal/docstore"
	"github.com/docq-ai/docq-go/internal/ingest"
	"github.com/docq-ai/docq-go/internal/queue"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// CORSOrigins is the comma-separated origin allow-list ("*" for dev).
	// Empty disables cross-origin requests.
	CORSOrigins string
	// Verifier authenticates bearer tokens on all protected /api/* routes.
	// If nil, authentication is disabled (development mode).
	Verifier auth.Verifier
	// Registry receives the server's Prometheus metrics. If nil a private
	// registry is created, keeping unit tests hermetic.
	Registry *prometheus.Registry
}

// Deps holds the services the handlers delegate to.
type Deps struct {
	// Answer generates chat and RAG responses.
	Answer *answer.Service
	// Pipeline runs document ingestion.
	Pipeline *ingest.Pipeline
	// Producer enqueues asynchronous ingestion messages.
	Producer queue.Producer
	// Store reads document metadata for listing endpoints.
	Store docstore.Store
}

// Server is the HTTP server that exposes ingestion and answering endpoints.
type Server struct {
	// deps holds the services the handlers delegate to.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's message for this turn.
	Message string `json:"message"`
	// History is the prior conversation, oldest first.
	History []answer.Turn `json:"conversationHistory,omitempty"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	// Message is the model's reply.
	Message string `json:"message"`
}

// ragQueryRequest is the JSON body for POST /api/rag-query.
type ragQueryRequest struct {
	// Question is the natural language question to answer from documents.
	Question string `json:"question"`
	// UserID optionally overrides the authenticated caller as document owner.
	UserID string `json:"userId,omitempty"`
}

// ragQueryResponse is the JSON response for POST /api/rag-query.
type ragQueryResponse struct {
	// Answer is the model's grounded reply.
	Answer string `json:"answer"`
	// Sources are the documents the answer was grounded in.
	Sources []docstore.Document `json:"sources"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	// Status is always "queued" on acceptance.
	Status string `json:"status"`
	// ID is the document id the message refers to.
	ID string `json:"id"`
	// Action is the accepted action, "upsert" or "delete".
	Action string `json:"action"`
	// MessageID is the transport id assigned by the queue.
	MessageID string `json:"messageId"`
}

// uploadedFilesResponse is the JSON response for GET /api/uploaded-files.
type uploadedFilesResponse struct {
	// CSVFiles lists the distinct tabular source file names on record.
	CSVFiles []string `json:"csvFiles"`
	// PolicyFiles lists the distinct policy document file names on record.
	PolicyFiles []string `json:"policyFiles"`
}

// verifyRequest is the JSON body for POST /api/auth/verify. The token is
// optional; without one the already-verified Authorization header is reported.
type verifyRequest struct {
	// Token is the bearer token to verify.
	Token string `json:"token"`
}

// verifyResponse is the JSON response for POST /api/auth/verify.
type verifyResponse struct {
	// Valid is always true on a 200 response.
	Valid bool `json:"valid"`
	// User is the verified caller identity.
	User *auth.Identity `json:"user"`
}

// errorResponse is the JSON body for all error statuses.
type errorResponse struct {
	// Error is the client-safe failure reason.
	Error string `json:"error"`
}
