// Package api exposes the engine over REST/JSON plus a websocket feed of
// change notifications. The caller principal arrives in the X-Principal-ID
// header, populated by the platform's authentication layer in front of this
// service; the engine trusts it as already verified.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subpay/backend/internal/core"
	"github.com/subpay/backend/internal/payment"
	"github.com/subpay/backend/internal/policy"
	"github.com/subpay/backend/internal/whitelist"
)

// Server routes the engine's HTTP surface.
type Server struct {
	registry  *policy.Registry
	whitelist *whitelist.Service
	payments  *payment.Service
	allowance *payment.AllowanceBridge
	feed      *EventFeed
	logger    *log.Logger
}

// NewServer wires the HTTP surface. feed may be nil to disable the
// websocket endpoint.
func NewServer(registry *policy.Registry, wl *whitelist.Service, payments *payment.Service, allowance *payment.AllowanceBridge, feed *EventFeed) *Server {
	return &Server{
		registry:  registry,
		whitelist: wl,
		payments:  payments,
		allowance: allowance,
		feed:      feed,
		logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the mux router with all endpoints attached.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS middleware for the operator console.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Principal-ID")
			if req.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/api/v1/policies", s.handleCreatePolicy).Methods("POST")
	r.HandleFunc("/api/v1/policies/{agent}", s.handleGetPolicy).Methods("GET")
	r.HandleFunc("/api/v1/policies/{agent}/max-per-payment", s.handleUpdateCap).Methods("PUT")
	r.HandleFunc("/api/v1/policies/{agent}/payment-count", s.handleUpdateCount).Methods("PUT")
	r.HandleFunc("/api/v1/policies/{agent}/payment-interval", s.handleUpdateInterval).Methods("PUT")
	r.HandleFunc("/api/v1/policies/{agent}/whitelist", s.handleSetAgentList).Methods("PUT")
	r.HandleFunc("/api/v1/policies/{agent}/whitelist/{kind}/{target}", s.handleAgentListQuery).Methods("GET")

	r.HandleFunc("/api/v1/whitelist/global", s.handleSetGlobalPayee).Methods("PUT")
	r.HandleFunc("/api/v1/whitelist/global/{payee}", s.handleGlobalQuery).Methods("GET")

	r.HandleFunc("/api/v1/payments", s.handleRequestPayment).Methods("POST")
	r.HandleFunc("/api/v1/allowance/increase", s.handleAllowance(false)).Methods("POST")
	r.HandleFunc("/api/v1/allowance/decrease", s.handleAllowance(true)).Methods("POST")

	if s.feed != nil {
		r.HandleFunc("/api/v1/events/ws", s.feed.Handle)
	}
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return r
}

// Start serves the API on the given port, blocking.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.logger.Printf("listening on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

// caller extracts the platform-authenticated principal.
func caller(r *http.Request) core.Principal {
	return core.Principal(r.Header.Get("X-Principal-ID"))
}

var statusByCode = map[string]int{
	"UNAUTHORIZED":                   http.StatusForbidden,
	"AGENT_MISMATCH":                 http.StatusForbidden,
	"INVALID_ADDRESS":                http.StatusBadRequest,
	"INVALID_ARGUMENT":               http.StatusBadRequest,
	"ALREADY_WHITELISTED":            http.StatusConflict,
	"NOT_WHITELISTED":                http.StatusConflict,
	"AMOUNT_EXCEEDS_CAP":             http.StatusUnprocessableEntity,
	"INTERVAL_NOT_ELAPSED":           http.StatusUnprocessableEntity,
	"COUNT_EXHAUSTED":                http.StatusUnprocessableEntity,
	"PAYEE_NOT_WHITELISTED":          http.StatusUnprocessableEntity,
	"TOKEN_NOT_WHITELISTED":          http.StatusUnprocessableEntity,
	"PAYEE_NOT_GLOBALLY_WHITELISTED": http.StatusUnprocessableEntity,
	"UNDERFLOW_IN_DECREASE":          http.StatusConflict,
	"TRANSFER_FAILED":                http.StatusBadGateway,
	"POLICY_NOT_FOUND":               http.StatusNotFound,
}

func writeError(w http.ResponseWriter, err error) {
	code := core.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return nil
}

// parseAmount parses a decimal string into a non-negative big int.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: amount missing", core.ErrInvalidArgument)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount %q is not a non-negative decimal", core.ErrInvalidArgument, s)
	}
	return v, nil
}

var errBadKind = errors.New("INVALID_ARGUMENT: list kind must be payee or token")
