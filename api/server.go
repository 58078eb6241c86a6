package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/gorilla/mux"
	settlement "github.com/kaifufi/nft-settlement-sdk-go"
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes read-only order checks over HTTP
type Server struct {
	validator *settlement.Validator
	hub       *Hub
	registry  *prometheus.Registry
	metrics   *Metrics
	logger    *zap.Logger
}

func NewServer(validator *settlement.Validator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L()
	}
	registry := prometheus.NewRegistry()
	return &Server{
		validator: validator,
		registry:  registry,
		metrics:   NewMetrics(registry),
		logger:    logger,
	}
}

// WithEvents streams the settlements of source on /v1/events
func (s *Server) WithEvents(source settlement.EventSource) *Server {
	s.hub = NewHub(s.logger)
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "stream",
		Name:      "clients",
		Help:      "Connected stream clients.",
	}, func() float64 {
		return float64(s.hub.Clients())
	}))

	source.Subscribe(func(ev *settlement.SettledEvent) {
		s.metrics.published.Inc()
		s.hub.Publish(ev)
	})
	return s
}

// Hub returns the event hub, nil unless WithEvents was called
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router returns the routes of the server
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.HandleFunc("/health", s.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/v1/domain", s.GetDomain).Methods("GET")
	r.HandleFunc("/v1/orders/hash", s.HashOrder).Methods("POST")
	r.HandleFunc("/v1/orders/validate", s.ValidateOrder).Methods("POST")
	if s.hub != nil {
		r.Handle("/v1/events", s.hub).Methods("GET")
	}
	return r
}

type DomainResponse struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
	Separator         string `json:"separator"`
}

type HashRequest struct {
	Order *chain.Order `json:"order"`
}

type HashResponse struct {
	StructHash string             `json:"structHash"`
	Digest     string             `json:"digest"`
	TypedData  apitypes.TypedData `json:"typedData"`
}

type ValidateRequest struct {
	Order     *chain.Order `json:"order"`
	Signature string       `json:"signature"`
	Buyer     string       `json:"buyer,omitempty"`
}

type ValidateResponse struct {
	Valid  bool   `json:"valid"`
	Digest string `json:"digest"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

var errMissingOrder = errors.New("order is required")

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) GetDomain(w http.ResponseWriter, r *http.Request) {
	domain, err := s.validator.Domain(r.Context())
	if err != nil {
		s.logger.With(zap.Error(err)).Warn("API: failed to read domain")
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, DomainResponse{
		Name:              domain.Name,
		Version:           domain.Version,
		ChainID:           domain.ChainID.String(),
		VerifyingContract: domain.VerifyingContract.Hex(),
		Separator:         domain.Hash().Hex(),
	})
}

func (s *Server) HashOrder(w http.ResponseWriter, r *http.Request) {
	var req HashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Order == nil {
		writeError(w, http.StatusBadRequest, errMissingOrder)
		return
	}
	order, err := chain.OrderToTypedData(req.Order)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	domain, err := s.validator.Domain(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, HashResponse{
		StructHash: order.Hash().Hex(),
		Digest:     chain.CreateOrderSignHash(domain.Hash(), order).Hex(),
		TypedData:  order.TypedData(domain),
	})
}

func (s *Server) ValidateOrder(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Order == nil {
		writeError(w, http.StatusBadRequest, errMissingOrder)
		return
	}
	order, err := chain.OrderToTypedData(req.Order)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer := settlement.NoProbeBuyer
	if req.Buyer != "" {
		if !common.IsHexAddress(req.Buyer) {
			writeError(w, http.StatusBadRequest, chain.ErrInvalidAddress)
			return
		}
		buyer = common.HexToAddress(req.Buyer)
	}

	digest, err := s.validator.SigningDigest(r.Context(), order)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	resp := ValidateResponse{Valid: true, Digest: digest.Hex()}
	if err := s.validator.Check(r.Context(), order, sig, buyer); err != nil {
		reason := settlement.Reason(err)
		if reason == nil {
			// not a rejection: the node could not be read
			s.logger.With(
				zap.String("requestId", r.Header.Get(requestIDHeader)),
				zap.String("digest", digest.Hex()),
				zap.Error(err),
			).Warn("API: validation failed")
			s.metrics.observeValidation("error")
			writeError(w, http.StatusBadGateway, err)
			return
		}
		s.metrics.observeValidation(reason.Error())
		resp.Valid = false
		resp.Reason = reason.Error()
		resp.Error = err.Error()
	}

	if resp.Valid {
		s.metrics.observeValidation("valid")
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
