// Package server exposes one wallet session over HTTP: connect and
// disconnect, the aggregated balance view, and the approve, mint and burn
// actions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"rebasegate/internal/amount"
	"rebasegate/internal/config"
	"rebasegate/internal/hmacauth"
	"rebasegate/internal/ledger"
	"rebasegate/internal/session"
)

type Server struct {
	cfg        *config.Config
	session    *session.Session
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry
}

func NewServer(cfg *config.Config, sess *session.Session) *Server {
	s := &Server{
		cfg:     cfg,
		session: sess,
		hmac:    &hmacauth.Verifier{Secret: cfg.APISecret},
		metrics: newMetricsRegistry(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// writes wait out signing plus the full finality poll window
	r.Use(middleware.Timeout(6 * time.Minute))
	r.Use(s.hmac.Middleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Post("/connect", s.handleConnect)
			r.Post("/disconnect", s.handleDisconnect)
			r.Get("/balances", s.handleBalances)
			r.Post("/approve", s.handleAction("approve", sess.Approve))
			r.Post("/mint", s.handleAction("mint", sess.Mint))
			r.Post("/burn", s.handleAction("burn", sess.Burn))
		})
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metrics.handler())
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// ObservePoll feeds the ledger client's per-attempt hook into the poll
// counter.
func (s *Server) ObservePoll() { s.metrics.incPoll() }

// ObserveRefresh feeds the session's refresh-cycle hook into the cycle
// counter.
func (s *Server) ObserveRefresh(err error) {
	if err != nil {
		s.metrics.incRefresh("failed")
		return
	}
	s.metrics.incRefresh("ok")
}

func (s *Server) Start() error {
	log.Printf("API listening on %s (network %s)", s.httpServer.Addr, s.cfg.Network)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type connectResponse struct {
	Account string `json:"account"`
	Status  string `json:"status"`
}

type actionRequest struct {
	Amount string `json:"amount"`
}

type actionResponse struct {
	ActionID string `json:"actionId"`
	TxHash   string `json:"txHash,omitempty"`
	Status   string `json:"status"`
}

type balancesResponse struct {
	State         string        `json:"state"`
	Account       string        `json:"account,omitempty"`
	Balances      *balancesBody `json:"balances"`
	NeedsApproval bool          `json:"needsApproval"`
	Status        string        `json:"status,omitempty"`
	LastError     string        `json:"lastError,omitempty"`
}

type balancesBody struct {
	Issued       string `json:"issued"`
	Collateral   string `json:"collateral"`
	Allowance    string `json:"allowance"`
	Reserve      string `json:"reserve"`
	TotalSupply  string `json:"totalSupply"`
	ExchangeRate string `json:"exchangeRate"`
	Decimals     uint32 `json:"decimals"`
	TakenAt      string `json:"takenAt"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	account, err := s.session.Connect(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.setConnected(true)
	writeJSON(w, http.StatusOK, connectResponse{Account: account, Status: s.session.Status()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.session.Disconnect()
	s.metrics.setConnected(false)
	writeJSON(w, http.StatusOK, map[string]string{"state": string(session.StateDisconnected)})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	state := s.session.State()
	if state == session.StateDisconnected {
		s.writeError(w, session.ErrNotConnected)
		return
	}

	resp := balancesResponse{
		State:         string(state),
		Account:       s.session.Account(),
		NeedsApproval: s.session.NeedsApproval(),
		Status:        s.session.Status(),
		LastError:     s.session.LastError(),
	}
	if snap := s.session.CurrentSnapshot(); snap != nil {
		resp.Balances = &balancesBody{
			Issued:       amount.Format(snap.IssuedBalance, snap.Decimals),
			Collateral:   amount.Format(snap.CollateralBalance, snap.Decimals),
			Allowance:    amount.Format(snap.Allowance, snap.Decimals),
			Reserve:      amount.Format(snap.Reserve, snap.Decimals),
			TotalSupply:  amount.Format(snap.TotalSupply, snap.Decimals),
			ExchangeRate: snap.ExchangeRate(),
			Decimals:     snap.Decimals,
			TakenAt:      snap.TakenAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAction builds the shared handler for approve, mint and burn: decode
// the typed amount, run the session action, report the settled transaction.
func (s *Server) handleAction(name string, run func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload actionRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.metrics.incAction(name, "rejected")
			http.Error(w, "invalid json payload", http.StatusBadRequest)
			return
		}

		// approve covers the typed mint amount; mint and burn each have
		// their own input
		switch name {
		case "burn":
			s.session.SetBurnAmount(payload.Amount)
		default:
			s.session.SetMintAmount(payload.Amount)
		}

		if err := run(r.Context()); err != nil {
			s.metrics.incAction(name, "failed")
			s.writeError(w, err)
			return
		}

		s.metrics.incAction(name, "confirmed")
		writeJSON(w, http.StatusOK, actionResponse{
			ActionID: uuid.NewString(),
			TxHash:   s.session.LastTxHash(),
			Status:   s.session.Status(),
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"network": string(s.cfg.Network),
		"state":   string(s.session.State()),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, amount.ErrInvalidAmount):
		code = http.StatusBadRequest
	case errors.Is(err, session.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, session.ErrNotConnected):
		code = http.StatusPreconditionFailed
	case errors.Is(err, ledger.ErrTimeout):
		code = http.StatusGatewayTimeout
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
