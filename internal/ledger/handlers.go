package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agrex/futures-ledger/internal/crop"
	"github.com/agrex/futures-ledger/internal/exposure"
)

// Routes mounts the ledger API onto a chi router. Caller identity comes from
// the request body's trader_id field; authentication is handled upstream.
func (s *Service) Routes(r chi.Router) {
	r.Post("/deposit", s.handleDeposit)
	r.Post("/contracts", s.handleCreateContract)
	r.Get("/contracts/{id}", s.handleGetContract)
	r.Post("/contracts/{id}/confirm", s.handleConfirm)
	r.Post("/contracts/{id}/settle", s.handleSettle)
	r.Post("/contracts/{id}/cancel", s.handleCancel)
	r.Get("/traders/{account}", s.handleGetTrader)
	r.Get("/traders/{account}/contracts", s.handleGetTraderContracts)
	r.Get("/markets", s.handleListMarkets)
	r.Get("/markets/{crop}", s.handleGetMarket)
	r.Post("/admin/price", s.handleUpdatePrice)
	r.Post("/admin/withdraw", s.handleEmergencyWithdraw)
	r.Post("/admin/verify", s.handleVerifyTrader)
}

type depositRequest struct {
	TraderID string          `json:"trader_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type createContractRequest struct {
	TraderID string          `json:"trader_id"`
	Seller   string          `json:"seller"`
	Crop     string          `json:"crop"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type createContractResponse struct {
	ContractID uint64 `json:"contract_id"`
}

type contractActionRequest struct {
	TraderID string `json:"trader_id"`
	Reason   string `json:"reason,omitempty"`
}

type updatePriceRequest struct {
	TraderID string          `json:"trader_id"`
	Crop     string          `json:"crop"`
	Price    decimal.Decimal `json:"price"`
}

type withdrawRequest struct {
	TraderID string `json:"trader_id"`
}

type withdrawResponse struct {
	Amount decimal.Decimal `json:"amount"`
}

type verifyRequest struct {
	TraderID string `json:"trader_id"`
	Account  string `json:"account"`
}

func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TraderID == "" {
		writeError(w, http.StatusBadRequest, "trader_id is required")
		return
	}
	if err := s.Deposit(r.Context(), req.TraderID, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

func (s *Service) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var req createContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TraderID == "" || req.Seller == "" {
		writeError(w, http.StatusBadRequest, "trader_id and seller are required")
		return
	}
	ct, err := crop.Parse(req.Crop)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.CreateContract(r.Context(), req.TraderID, req.Seller, ct, req.Quantity, req.Price)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createContractResponse{ContractID: id})
}

func (s *Service) handleGetContract(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	info, err := s.GetContractInfo(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if err := s.Confirm(r.Context(), id, req.TraderID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Service) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if err := s.Settle(r.Context(), id, req.TraderID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if err := s.Cancel(r.Context(), id, req.TraderID, req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Service) handleGetTrader(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	info, err := s.GetTraderInfo(r.Context(), account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleGetTraderContracts(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	ids, err := s.GetTraderContracts(r.Context(), account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"contract_ids": ids})
}

func (s *Service) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.ListMarkets(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]*MarketInfo, 0, len(markets))
	for i := range markets {
		info, err := s.GetMarketInfo(r.Context(), markets[i].Crop)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	ct, err := crop.Parse(chi.URLParam(r, "crop"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := s.GetMarketInfo(r.Context(), ct)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req updatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ct, err := crop.Parse(req.Crop)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.UpdateMarketPrice(r.Context(), req.TraderID, ct, req.Price); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Service) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := s.EmergencyWithdraw(r.Context(), req.TraderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Amount: amount})
}

func (s *Service) handleVerifyTrader(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	if err := s.VerifyTrader(r.Context(), req.TraderID, req.Account); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func contractID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid contract id")
		return 0, false
	}
	return id, true
}

func decodeAction(w http.ResponseWriter, r *http.Request) (contractActionRequest, bool) {
	var req contractActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.TraderID == "" {
		writeError(w, http.StatusBadRequest, "trader_id is required")
		return req, false
	}
	return req, true
}

// writeServiceError maps lifecycle errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrSelfTrade),
		errors.Is(err, crop.ErrInvalidType):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, ErrContractNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotContractParty),
		errors.Is(err, ErrContractNotActive),
		errors.Is(err, ErrBothPartiesMustConfirm),
		errors.Is(err, ErrSettlementPeriodNotReached),
		errors.Is(err, ErrCannotCancelConfirmed),
		errors.Is(err, exposure.ErrTraderLimitExceeded),
		errors.Is(err, exposure.ErrCropLimitExceeded):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
