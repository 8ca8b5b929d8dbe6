package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/zmlAEQ/mpc-intake/internal/host"
	"github.com/zmlAEQ/mpc-intake/internal/intake"
	"github.com/zmlAEQ/mpc-intake/internal/keymgr"
	"github.com/zmlAEQ/mpc-intake/pkg/lifecycle"
	"github.com/zmlAEQ/mpc-intake/pkg/logger"
	"github.com/zmlAEQ/mpc-intake/pkg/metrics"
)

// SignBackend is the intake surface the API fronts.
type SignBackend interface {
	Sign(ctx context.Context, requester string, args intake.SignRequestArgs, deposit, gas uint64) (host.Token, error)
	Finalize(ctx context.Context, tok host.Token, outcome intake.Outcome) error
	Pending() []intake.Fingerprint
}

// DomainRegistry is the key-management surface for descriptor registration.
type DomainRegistry interface {
	PutDomain(id keymgr.DomainID, desc keymgr.KeyDescriptor) error
	Domains() []keymgr.DomainID
}

// OutcomeSource serves finalized outcomes to polling requesters.
type OutcomeSource interface {
	Outcome(token string) (intake.Outcome, bool)
}

// Service is the HTTP intake surface: sign submissions from callers,
// finalize callbacks from the host/MPC cluster, and read-only views.
type Service struct {
	addr     string
	upstream string
	backend  SignBackend
	keys     DomainRegistry
	outcomes OutcomeSource
	srv      *http.Server
}

func New(addr string, backend SignBackend, keys DomainRegistry, upstream string) *Service {
	return &Service{addr: addr, backend: backend, keys: keys, upstream: upstream}
}

// SetOutcomeSource wires the delivery store serving GET /v1/outcomes.
func (s *Service) SetOutcomeSource(src OutcomeSource) { s.outcomes = src }

func (s *Service) Name() string { return "api" }

func (s *Service) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sign", s.handleSign)
	mux.HandleFunc("/v1/finalize", s.handleFinalize)
	mux.HandleFunc("/v1/requests", s.handleRequests)
	mux.HandleFunc("/v1/outcomes", s.handleOutcomes)
	mux.HandleFunc("/v1/domains", s.handleDomains)
	mux.HandleFunc("/", s.handleFallback)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorJ("service_op", map[string]any{"service": "api", "op": "serve", "err": err.Error()})
		}
	}()
	logger.InfoJ("service_op", map[string]any{"service": "api", "op": "start", "result": "ok", "addr": ln.Addr().String()})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	logger.InfoJ("service_op", map[string]any{"service": "api", "op": "stop", "result": "ok"})
	return err
}

type payloadWire struct {
	Ecdsa string `json:"ecdsa,omitempty"` // hex, 32 bytes
	Eddsa string `json:"eddsa,omitempty"` // hex
}

type signWire struct {
	Requester string      `json:"requester"`
	DomainID  uint64      `json:"domain_id"`
	Payload   payloadWire `json:"payload"`
	Path      string      `json:"path"`
	Deposit   uint64      `json:"deposit"`
	Gas       uint64      `json:"gas"`
}

type finalizeWire struct {
	Token     string `json:"token"`
	Signature string `json:"signature,omitempty"` // hex
	Failure   string `json:"failure,omitempty"`   // timeout | malformed_result
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, name string) {
	writeJSON(w, code, map[string]string{"error": name})
}

// errorStatus maps the typed parameter errors onto HTTP statuses.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, intake.ErrDomainNotFound):
		return http.StatusNotFound, "domain_not_found"
	case errors.Is(err, intake.ErrPayloadCurveMismatch):
		return http.StatusBadRequest, "payload_curve_mismatch"
	case errors.Is(err, intake.ErrInvalidPayload):
		return http.StatusBadRequest, "invalid_payload"
	case errors.Is(err, intake.ErrInsufficientGas):
		return http.StatusBadRequest, "insufficient_gas"
	case errors.Is(err, intake.ErrInsufficientDeposit):
		return http.StatusPaymentRequired, "insufficient_deposit"
	}
	return http.StatusInternalServerError, "internal"
}

func (w payloadWire) toPayload() (intake.Payload, bool) {
	switch {
	case w.Ecdsa != "" && w.Eddsa == "":
		b, err := hex.DecodeString(w.Ecdsa)
		if err != nil || len(b) != 32 {
			return intake.Payload{}, false
		}
		var hash [32]byte
		copy(hash[:], b)
		return intake.EcdsaPayload(hash), true
	case w.Eddsa != "" && w.Ecdsa == "":
		b, err := hex.DecodeString(w.Eddsa)
		if err != nil {
			return intake.Payload{}, false
		}
		return intake.EddsaPayload(b), true
	}
	return intake.Payload{}, false
}

func (s *Service) handleSign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in signWire
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	if in.Requester == "" {
		writeError(w, http.StatusBadRequest, "missing_requester")
		return
	}
	payload, ok := in.Payload.toPayload()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	args := intake.SignRequestArgs{DomainID: keymgr.DomainID(in.DomainID), Payload: payload, Path: in.Path}
	tok, err := s.backend.Sign(r.Context(), in.Requester, args, in.Deposit, in.Gas)
	if err != nil {
		code, name := errorStatus(err)
		metrics.Inc("api_requests_total", map[string]string{"path": "sign", "result": name})
		writeError(w, code, name)
		return
	}
	metrics.Inc("api_requests_total", map[string]string{"path": "sign", "result": "accepted"})
	writeJSON(w, http.StatusAccepted, map[string]string{"token": tok.String()})
}

func (s *Service) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in finalizeWire
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	tok, err := host.ParseToken(in.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_token")
		return
	}
	var outcome intake.Outcome
	switch {
	case in.Failure != "":
		reason := intake.FailureReason(in.Failure)
		if reason != intake.FailureTimeout && reason != intake.FailureMalformedResult {
			writeError(w, http.StatusBadRequest, "bad_failure_reason")
			return
		}
		outcome = intake.FailureOutcome(reason)
	default:
		sig, err := hex.DecodeString(in.Signature)
		if err != nil || len(sig) == 0 {
			writeError(w, http.StatusBadRequest, "bad_signature")
			return
		}
		outcome = intake.SuccessOutcome(sig)
	}
	if err := s.backend.Finalize(r.Context(), tok, outcome); err != nil {
		metrics.Inc("api_requests_total", map[string]string{"path": "finalize", "result": "error"})
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	metrics.Inc("api_requests_total", map[string]string{"path": "finalize", "result": "ok"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fps := s.backend.Pending()
	out := make([]string, 0, len(fps))
	for _, fp := range fps {
		out = append(out, fp.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": out})
}

func (s *Service) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.outcomes == nil {
		http.NotFound(w, r)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_token")
		return
	}
	oc, ok := s.outcomes.Outcome(token)
	if !ok {
		writeError(w, http.StatusNotFound, "outcome_not_ready")
		return
	}
	if oc.OK() {
		writeJSON(w, http.StatusOK, map[string]string{"signature": hex.EncodeToString(oc.Signature)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"failure": string(oc.Failure)})
}

type domainWire struct {
	DomainID  uint64 `json:"domain_id"`
	Curve     string `json:"curve"`
	PublicKey string `json:"public_key"` // hex
}

func (s *Service) handleDomains(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ids := s.keys.Domains()
		out := make([]uint64, 0, len(ids))
		for _, id := range ids {
			out = append(out, uint64(id))
		}
		writeJSON(w, http.StatusOK, map[string]any{"domains": out})
	case http.MethodPost:
		var in domainWire
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json")
			return
		}
		pk, err := hex.DecodeString(in.PublicKey)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_public_key")
			return
		}
		desc := keymgr.KeyDescriptor{Curve: keymgr.CurveType(in.Curve), PublicKey: pk}
		if err := s.keys.PutDomain(keymgr.DomainID(in.DomainID), desc); err != nil {
			if errors.Is(err, keymgr.ErrBadDescriptor) {
				writeError(w, http.StatusBadRequest, "bad_descriptor")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleFallback proxies unknown paths to the configured upstream, if any.
func (s *Service) handleFallback(w http.ResponseWriter, r *http.Request) {
	if s.upstream == "" {
		http.NotFound(w, r)
		return
	}
	u, err := url.Parse(s.upstream)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	httputil.NewSingleHostReverseProxy(u).ServeHTTP(w, r)
}

var _ lifecycle.Service = (*Service)(nil)
