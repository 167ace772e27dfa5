package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"virtual-ledger/internal/errors"
	"virtual-ledger/internal/service"
)

type TransactionHandler struct {
	transactor *service.TransactorService
}

func NewTransactionHandler(transactor *service.TransactorService) *TransactionHandler {
	return &TransactionHandler{
		transactor: transactor,
	}
}

type TransferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"`
}

type TransferResponse struct {
	Success bool `json:"success"`
}

// Transfer always answers 200 once the request parses; a failed transfer is
// reported as success=false.
func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidArgument, "invalid request body").WithDetails(err.Error()))
		return
	}

	if req.FromAccountID == "" || req.ToAccountID == "" {
		writeError(w, errors.NewAppError(errors.InvalidArgument, "from_account_id and to_account_id are required"))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidArgument, "invalid amount format").WithDetails(err.Error()))
		return
	}

	success := h.transactor.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, amount)

	writeJSON(w, http.StatusOK, TransferResponse{Success: success})
}
