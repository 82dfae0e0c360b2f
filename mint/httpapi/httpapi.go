// Package httpapi is the mint's public HTTP surface: the cashu NUT
// endpoints a wallet talks to (keys, keysets, swap, mint, checkstate,
// restore) plus the bill-enquiry endpoints a holder uses to turn an
// eBill into a crsat quote. Grounded on the teacher's
// mint/manager/server.go (gorilla/mux router, a CORS/content-type
// middleware, plain json.Marshal writes) and mint/server.go's
// decodeJsonReqBody for request decoding — the teacher's own public
// surface is gRPC, so the routing style is carried over but the
// transport itself follows manager/server.go's plain net/http.
package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut01"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut02"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut03"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut07"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut09"
	"github.com/BitcreditProtocol/crsatmint/crypto"
	"github.com/BitcreditProtocol/crsatmint/mint/ebill"
	"github.com/BitcreditProtocol/crsatmint/mint/engine"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/mlog"
	"github.com/BitcreditProtocol/crsatmint/mint/quote"
)

// KeysetLister is the narrow slice of keys.Factory the key/keyset
// listing endpoints need from each side of the Engine.
type KeysetLister interface {
	ActiveKeysets(ctx context.Context) ([]keys.Keyset, error)
	AllKeysetInfo(ctx context.Context) ([]keys.KeysetInfo, error)
}

// Server wires the Engine and quote Service behind an HTTP router.
type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	quotes     *quote.Service
	ebill      ebill.Client
	crsatKeys  KeysetLister
	satKeys    KeysetLister

	logger mlog.Logger
}

// New builds a Server listening on addr, wrapping the collaborators it
// needs to answer NUT requests and bill enquiries.
func New(addr string, eng *engine.Engine, quotes *quote.Service, eb ebill.Client, crsatKeys, satKeys KeysetLister) *Server {
	s := &Server{engine: eng, quotes: quotes, ebill: eb, crsatKeys: crsatKeys, satKeys: satKeys}

	r := mux.NewRouter()
	r.HandleFunc("/v1/keys", s.getActiveKeys).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/keysets", s.getKeysets).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/swap", s.postSwap).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/checkstate", s.postCheckState).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/restore", s.postRestore).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/mint/{quote_id}", s.postMint).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/enquire", s.postEnquire).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/quote/{quote_id}", s.getQuote).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/quote/{quote_id}/accept", s.postAccept).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/quote/{quote_id}/reject", s.postReject).Methods(http.MethodPost, http.MethodOptions)
	r.Use(corsHeaders)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// WithLogger attaches a logger; a Server with no logger attached
// simply does not log (mlog.Logger is a no-op zero value).
func (s *Server) WithLogger(l mlog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) Start() error {
	s.logger.Infof("public api listening on %s", s.httpServer.Addr)
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

func (s *Server) getActiveKeys(rw http.ResponseWriter, req *http.Request) {
	response := nut01.GetKeysResponse{}
	for _, lister := range []KeysetLister{s.crsatKeys, s.satKeys} {
		active, err := lister.ActiveKeysets(req.Context())
		if err != nil {
			writeError(rw, err)
			return
		}
		for _, ks := range active {
			pubkeys := make(crypto.PublicKeys, len(ks.Keys))
			for amount, pair := range ks.Keys {
				pubkeys[amount] = pair.PublicKey
			}
			response.Keysets = append(response.Keysets, nut01.Keyset{
				Id:   string(ks.Info.Id),
				Unit: ks.Info.Unit,
				Keys: pubkeys,
			})
		}
	}
	writeJSON(rw, http.StatusOK, response)
}

func (s *Server) getKeysets(rw http.ResponseWriter, req *http.Request) {
	response := nut02.GetKeysetsResponse{}
	for _, lister := range []KeysetLister{s.crsatKeys, s.satKeys} {
		infos, err := lister.AllKeysetInfo(req.Context())
		if err != nil {
			writeError(rw, err)
			return
		}
		for _, info := range infos {
			response.Keysets = append(response.Keysets, nut02.Keyset{
				Id:     string(info.Id),
				Unit:   info.Unit,
				Active: info.Active,
			})
		}
	}
	writeJSON(rw, http.StatusOK, response)
}

func (s *Server) postSwap(rw http.ResponseWriter, req *http.Request) {
	var swapReq nut03.PostSwapRequest
	if err := decodeJSONReqBody(req, &swapReq); err != nil {
		writeError(rw, err)
		return
	}
	sigs, err := s.engine.Swap(req.Context(), swapReq.Inputs, swapReq.Outputs)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, nut03.PostSwapResponse{Signatures: sigs})
}

func (s *Server) postCheckState(rw http.ResponseWriter, req *http.Request) {
	var checkReq nut07.PostCheckStateRequest
	if err := decodeJSONReqBody(req, &checkReq); err != nil {
		writeError(rw, err)
		return
	}
	states, err := s.engine.CheckState(req.Context(), checkReq.Ys)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, nut07.PostCheckStateResponse{States: states})
}

func (s *Server) postRestore(rw http.ResponseWriter, req *http.Request) {
	var restoreReq nut09.PostRestoreRequest
	if err := decodeJSONReqBody(req, &restoreReq); err != nil {
		writeError(rw, err)
		return
	}
	outputs, sigs, err := s.engine.Restore(req.Context(), restoreReq.Outputs)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, nut09.PostRestoreResponse{Outputs: outputs, Signatures: sigs})
}

// PostMintRequest is the crsat analogue of nut04's bolt11 mint request:
// the quote was already accepted via /v1/quote/{id}/accept, so minting
// only ever needs the quote id and the blinded outputs to sign. The
// NUT-20 signature is mandatory: every quote carries a public key from
// enquiry onward, so every mint request against it must be signed.
type PostMintRequest struct {
	Outputs   cashu.BlindedMessages `json:"outputs"`
	Signature string                `json:"signature"`
}

type PostMintResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

func (s *Server) postMint(rw http.ResponseWriter, req *http.Request) {
	quoteID, err := uuid.Parse(mux.Vars(req)["quote_id"])
	if err != nil {
		writeError(rw, cashu.BuildCashuError("invalid quote id", cashu.StandardErrCode))
		return
	}
	var mintReq PostMintRequest
	if err := decodeJSONReqBody(req, &mintReq); err != nil {
		writeError(rw, err)
		return
	}

	q, err := s.quotes.Lookup(req.Context(), quoteID)
	if err != nil {
		writeError(rw, err)
		return
	}
	if q.Status != quote.StatusAccepted {
		writeError(rw, cashu.BuildCashuError("quote is not accepted", cashu.StandardErrCode))
		return
	}
	if mintReq.Signature == "" {
		writeError(rw, cashu.MintQuoteInvalidSigErr)
		return
	}
	if err := keys.VerifyMintRequestSignature(q.PublicKey, quoteID, mintReq.Outputs, mintReq.Signature); err != nil {
		writeError(rw, err)
		return
	}

	sigs, err := s.engine.Crsat.Keys.Mint(req.Context(), quoteID, mintReq.Outputs)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, PostMintResponse{Signatures: sigs})
}

type PostEnquireRequest struct {
	SharedBill ebill.SharedBill `json:"shared_bill"`
	PublicKey  string           `json:"public_key"`
}

type PostEnquireResponse struct {
	QuoteID string `json:"quote_id"`
}

func (s *Server) postEnquire(rw http.ResponseWriter, req *http.Request) {
	var enquireReq PostEnquireRequest
	if err := decodeJSONReqBody(req, &enquireReq); err != nil {
		writeError(rw, err)
		return
	}

	info, err := s.ebill.ValidateAndDecryptSharedBill(enquireReq.SharedBill)
	if err != nil {
		writeError(rw, cashu.BuildCashuError(fmt.Sprintf("shared bill rejected: %v", err), cashu.StandardErrCode))
		return
	}

	if enquireReq.PublicKey == "" {
		writeError(rw, cashu.BuildCashuError("public_key is required", cashu.StandardErrCode))
		return
	}
	pkBytes, err := hex.DecodeString(enquireReq.PublicKey)
	if err != nil {
		writeError(rw, cashu.BuildCashuError("invalid public_key hex", cashu.StandardErrCode))
		return
	}
	pubkey, err := secp256k1.ParsePubKey(pkBytes)
	if err != nil {
		writeError(rw, cashu.BuildCashuError("invalid public_key", cashu.StandardErrCode))
		return
	}

	id, err := s.quotes.Enquire(req.Context(), info.BillID, info.CurrentHolder, pubkey)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, PostEnquireResponse{QuoteID: id.String()})
}

func (s *Server) getQuote(rw http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(mux.Vars(req)["quote_id"])
	if err != nil {
		writeError(rw, cashu.BuildCashuError("invalid quote id", cashu.StandardErrCode))
		return
	}
	q, err := s.quotes.Lookup(req.Context(), id)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, quoteViewOf(q))
}

func (s *Server) postAccept(rw http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(mux.Vars(req)["quote_id"])
	if err != nil {
		writeError(rw, cashu.BuildCashuError("invalid quote id", cashu.StandardErrCode))
		return
	}
	if err := s.quotes.Accept(req.Context(), id); err != nil {
		writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) postReject(rw http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(mux.Vars(req)["quote_id"])
	if err != nil {
		writeError(rw, cashu.BuildCashuError("invalid quote id", cashu.StandardErrCode))
		return
	}
	if err := s.quotes.Reject(req.Context(), id); err != nil {
		writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

// quoteView is the JSON shape returned for a quote lookup — string ids
// and hex keys rather than the domain's native uuid/secp256k1 types.
type quoteView struct {
	ID         string `json:"id"`
	BillID     string `json:"bill_id"`
	Endorser   string `json:"endorser"`
	Status     string `json:"status"`
	KeysetID   string `json:"keyset_id,omitempty"`
	Discounted uint64 `json:"discounted,omitempty"`
	TTL        int64  `json:"ttl,omitempty"`
}

func quoteViewOf(q *quote.Quote) quoteView {
	v := quoteView{
		ID:       q.ID.String(),
		BillID:   q.BillID,
		Endorser: q.Endorser,
		Status:   q.Status.String(),
	}
	if q.KeysetID != "" {
		v.KeysetID = string(q.KeysetID)
		v.Discounted = q.Discounted
	}
	if !q.TTL.IsZero() {
		v.TTL = q.TTL.Unix()
	}
	return v
}

func decodeJSONReqBody(req *http.Request, dst any) error {
	ct := req.Header.Get("Content-Type")
	if ct != "" {
		mediaType := strings.ToLower(strings.Split(ct, ";")[0])
		if mediaType != "application/json" {
			return cashu.BuildCashuError("Content-Type header is not application/json", cashu.StandardErrCode)
		}
	}

	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError

		switch {
		case errors.As(err, &syntaxErr):
			return cashu.BuildCashuError(fmt.Sprintf("bad json at %d", syntaxErr.Offset), cashu.StandardErrCode)
		case errors.As(err, &typeErr):
			return cashu.BuildCashuError(fmt.Sprintf("invalid %v for field %q", typeErr.Value, typeErr.Field), cashu.StandardErrCode)
		case errors.Is(err, io.EOF):
			return cashu.EmptyBodyErr
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return cashu.BuildCashuError(fmt.Sprintf("request body contains unknown field %s", field), cashu.StandardErrCode)
		default:
			return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}
	}
	return nil
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
