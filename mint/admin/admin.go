// Package admin is the mint operator's private HTTP surface: keyset
// rotation, quote triage (list/offer/deny), and balance reporting.
// Grounded on the teacher's mint/manager/server.go — a second,
// unauthenticated-at-this-layer mux.Router bound to its own port,
// the same CORS/content-type header middleware, plain json.Marshal
// responses — generalized from ecash issuance bookkeeping to the
// crsat quote lifecycle and the treasury's sat-side balance sweep.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/mlog"
	"github.com/BitcreditProtocol/crsatmint/mint/quote"
	"github.com/BitcreditProtocol/crsatmint/mint/treasury"
)

// Server exposes the operator-facing endpoints, bound to its own
// listener so it can sit behind a different network boundary than the
// public API (spec.md's admin-server toggle, mint/config's
// EnableAdminServer/AdminPort).
type Server struct {
	httpServer *http.Server
	crsat      *keys.Factory
	sat        *keys.Factory
	quotes     *quote.Service
	treasury   *treasury.Service

	logger mlog.Logger
}

func New(addr string, crsat, sat *keys.Factory, quotes *quote.Service, tr *treasury.Service) *Server {
	s := &Server{crsat: crsat, sat: sat, quotes: quotes, treasury: tr}

	r := mux.NewRouter()
	r.HandleFunc("/admin/quotes/pending", s.listPending).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/admin/quotes/offers", s.listOffers).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/admin/quotes/{quote_id}/offer", s.offerQuote).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/admin/quotes/{quote_id}/deny", s.denyQuote).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/admin/keysets/{keyset_id}/enable", s.enableKeyset).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/admin/keysets/{keyset_id}/disable", s.disableKeyset).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/admin/keysets/rotate", s.rotateKeyset).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/admin/treasury/balance", s.treasuryBalance).Methods(http.MethodGet, http.MethodOptions)
	r.Use(corsHeaders)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

func (s *Server) WithLogger(l mlog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) Start() error {
	s.logger.Infof("admin api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")
		if req.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(rw, req)
	})
}

func (s *Server) listPending(rw http.ResponseWriter, req *http.Request) {
	ids, err := s.quotes.ListPendings(req.Context(), nil)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, quoteIDsResponse(ids))
}

func (s *Server) listOffers(rw http.ResponseWriter, req *http.Request) {
	ids, err := s.quotes.ListOffers(req.Context(), nil)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, quoteIDsResponse(ids))
}

func quoteIDsResponse(ids []uuid.UUID) map[string][]string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return map[string][]string{"quote_ids": out}
}

type offerQuoteRequest struct {
	KeysetID   string `json:"keyset_id"`
	Discounted uint64 `json:"discounted"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

func (s *Server) offerQuote(rw http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(mux.Vars(req)["quote_id"])
	if err != nil {
		writeError(rw, cashu.BuildCashuError("invalid quote id", cashu.StandardErrCode))
		return
	}
	var body offerQuoteRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(rw, cashu.BuildCashuError("invalid request body", cashu.StandardErrCode))
		return
	}
	if body.KeysetID == "" || body.Discounted == 0 {
		writeError(rw, cashu.BuildCashuError("keyset_id and discounted are required", cashu.StandardErrCode))
		return
	}
	var ttl time.Time
	if body.TTLSeconds > 0 {
		ttl = time.Unix(body.TTLSeconds, 0)
	}
	if err := s.quotes.Offer(req.Context(), id, keys.KeysetID(body.KeysetID), body.Discounted, ttl); err != nil {
		writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) denyQuote(rw http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(mux.Vars(req)["quote_id"])
	if err != nil {
		writeError(rw, cashu.BuildCashuError("invalid quote id", cashu.StandardErrCode))
		return
	}
	if err := s.quotes.Deny(req.Context(), id); err != nil {
		writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) enableKeyset(rw http.ResponseWriter, req *http.Request) {
	s.toggleKeyset(rw, req, true)
}

func (s *Server) disableKeyset(rw http.ResponseWriter, req *http.Request) {
	s.toggleKeyset(rw, req, false)
}

func (s *Server) toggleKeyset(rw http.ResponseWriter, req *http.Request, active bool) {
	id := keys.KeysetID(mux.Vars(req)["keyset_id"])
	var err error
	if active {
		err = s.crsat.Activate(req.Context(), id)
	} else {
		err = s.crsat.Deactivate(req.Context(), id)
	}
	if err != nil {
		writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

type rotateKeysetRequest struct {
	MaturityUnixSeconds int64 `json:"maturity_unix_seconds"`
}

type rotateKeysetResponse struct {
	KeysetID string `json:"keyset_id"`
}

// rotateKeyset generates a fresh maturity-bound crsat keyset for the
// requested maturity date, the next free rotation index chosen by the
// repository (mint/keys.Factory.Generate).
func (s *Server) rotateKeyset(rw http.ResponseWriter, req *http.Request) {
	var body rotateKeysetRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.MaturityUnixSeconds == 0 {
		writeError(rw, cashu.BuildCashuError("maturity_unix_seconds is required", cashu.StandardErrCode))
		return
	}
	maturity := time.Unix(body.MaturityUnixSeconds, 0)
	id, err := s.crsat.Generate(req.Context(), nil, &maturity, nil)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, rotateKeysetResponse{KeysetID: string(id)})
}

type treasuryBalanceResponse struct {
	Balance uint64 `json:"balance"`
}

func (s *Server) treasuryBalance(rw http.ResponseWriter, req *http.Request) {
	balance, err := s.treasury.Balance(req.Context())
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, treasuryBalanceResponse{Balance: balance})
}

func writeJSON(rw http.ResponseWriter, status int, body any) {
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}

func writeError(rw http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *cashu.Error:
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(e)
	case cashu.Error:
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(e)
	default:
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(cashu.BuildCashuError(err.Error(), cashu.StandardErrCode))
	}
}
