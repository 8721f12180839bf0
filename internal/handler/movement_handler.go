package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"bank-movements/internal/domain"
	"bank-movements/internal/errors"
	"bank-movements/internal/service"
)

type MovementHandler struct {
	movementService *service.MovementService
}

func NewMovementHandler(movementService *service.MovementService) *MovementHandler {
	return &MovementHandler{
		movementService: movementService,
	}
}

type MovementRequest struct {
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	RequestKey  string `json:"request_key,omitempty"`
}

type TransferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"`
	Description   string `json:"description"`
	RequestKey    string `json:"request_key,omitempty"`
}

type TransactionResponse struct {
	TransactionID string  `json:"transaction_id"`
	AccountID     string  `json:"account_id"`
	ToAccountID   *string `json:"to_account_id,omitempty"`
	Type          string  `json:"type"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	Description   string  `json:"description"`
	Status        string  `json:"status"`
	RequestKey    *string `json:"request_key,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func (h *MovementHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}

	transaction, err := h.movementService.Deposit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionResponse(transaction))
}

func (h *MovementHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}

	transaction, err := h.movementService.Withdraw(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionResponse(transaction))
}

func (h *MovementHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error()))
		return
	}

	requestKey, ok := parseRequestKey(w, req.RequestKey)
	if !ok {
		return
	}

	transaction, err := h.movementService.Transfer(r.Context(), &service.TransferRequest{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        amount,
		Description:   req.Description,
		RequestKey:    requestKey,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionResponse(transaction))
}

func (h *MovementHandler) History(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	accountID := vars["account_id"]

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	transactions, err := h.movementService.History(r.Context(), accountID, page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	responses := make([]TransactionResponse, 0, len(transactions))
	for i := range transactions {
		responses = append(responses, toTransactionResponse(&transactions[i]))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": responses,
		"page":         page,
		"page_size":    pageSize,
	})
}

func (h *MovementHandler) decodeMovement(w http.ResponseWriter, r *http.Request) (*service.MovementRequest, bool) {
	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return nil, false
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error()))
		return nil, false
	}

	requestKey, ok := parseRequestKey(w, req.RequestKey)
	if !ok {
		return nil, false
	}

	return &service.MovementRequest{
		AccountID:   req.AccountID,
		Amount:      amount,
		Description: req.Description,
		RequestKey:  requestKey,
	}, true
}

func parseRequestKey(w http.ResponseWriter, raw string) (*uuid.UUID, bool) {
	if raw == "" {
		return nil, true
	}
	key, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request_key format").WithDetails(err.Error()))
		return nil, false
	}
	return &key, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func toTransactionResponse(tx *domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		TransactionID: tx.ID.String(),
		AccountID:     tx.AccountID,
		ToAccountID:   tx.ToAccountID,
		Type:          string(tx.Type),
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		Description:   tx.Description,
		Status:        string(tx.Status),
		CreatedAt:     tx.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if tx.RequestKey != nil {
		keyStr := tx.RequestKey.String()
		resp.RequestKey = &keyStr
	}
	return resp
}
