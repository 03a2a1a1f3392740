package api

import (
	"math/big"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/subpay/backend/internal/core"
)

type createPolicyRequest struct {
	Agent           string `json:"agent"`
	InitialPayee    string `json:"initial_payee"`
	InitialToken    string `json:"initial_token"`
	MaxPerPayment   string `json:"max_per_payment"`
	PaymentCount    int64  `json:"payment_count"`
	PaymentInterval uint64 `json:"payment_interval"`
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	max := big.NewInt(0)
	if req.MaxPerPayment != "" {
		parsed, err := parseAmount(req.MaxPerPayment)
		if err != nil {
			writeError(w, err)
			return
		}
		max = parsed
	}

	err := s.registry.CreatePolicy(r.Context(), caller(r),
		core.Principal(req.Agent), core.Principal(req.InitialPayee), core.Principal(req.InitialToken),
		max, req.PaymentCount, req.PaymentInterval)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	agent := core.Principal(mux.Vars(r)["agent"])
	cfg, err := s.registry.GetPolicyConfig(r.Context(), agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":                  string(cfg.Agent),
		"last_payment_timestamp": cfg.LastPaymentTimestamp,
		"max_per_payment":        cfg.MaxPerPayment.String(),
		"payment_count":          cfg.PaymentCount,
		"payment_interval":       cfg.PaymentInterval,
	})
}

func (s *Server) handleUpdateCap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	agent := core.Principal(mux.Vars(r)["agent"])
	if err := s.registry.UpdateMaxPerPayment(r.Context(), caller(r), agent, value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleUpdateCount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value int64 `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent := core.Principal(mux.Vars(r)["agent"])
	if err := s.registry.UpdatePaymentCount(r.Context(), caller(r), agent, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleUpdateInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value uint64 `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent := core.Principal(mux.Vars(r)["agent"])
	if err := s.registry.UpdatePaymentInterval(r.Context(), caller(r), agent, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSetAgentList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    string `json:"kind"`
		Target  string `json:"target"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	kind := core.ListKind(req.Kind)
	if !kind.Valid() {
		writeError(w, errBadKind)
		return
	}
	agent := core.Principal(mux.Vars(r)["agent"])
	err := s.registry.SetAgentList(r.Context(), caller(r), agent, kind, core.Principal(req.Target), req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleAgentListQuery(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind := core.ListKind(vars["kind"])
	if !kind.Valid() {
		writeError(w, errBadKind)
		return
	}
	member, err := s.registry.IsWhitelisted(r.Context(),
		core.Principal(vars["agent"]), kind, core.Principal(vars["target"]))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"whitelisted": member})
}

func (s *Server) handleSetGlobalPayee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payee   string `json:"payee"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.whitelist.SetGlobalPayee(r.Context(), caller(r), core.Principal(req.Payee), req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleGlobalQuery(w http.ResponseWriter, r *http.Request) {
	payee := core.Principal(mux.Vars(r)["payee"])
	member, err := s.whitelist.IsGloballyWhitelisted(r.Context(), payee)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"whitelisted": member})
}

func (s *Server) handleRequestPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payee  string `json:"payee"`
		Token  string `json:"token"`
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.payments.RequestPayment(r.Context(), caller(r),
		core.Principal(req.Payee), core.Principal(req.Token), amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

func (s *Server) handleAllowance(decrease bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token  string `json:"token"`
			Amount string `json:"amount"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}

		var updated *big.Int
		if decrease {
			updated, err = s.allowance.DecreaseAllowance(r.Context(), caller(r), core.Principal(req.Token), amount)
		} else {
			updated, err = s.allowance.IncreaseAllowance(r.Context(), caller(r), core.Principal(req.Token), amount)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"allowance": updated.String()})
	}
}
