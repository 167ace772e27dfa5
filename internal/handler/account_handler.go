package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"virtual-ledger/internal/errors"
	"virtual-ledger/internal/service"
)

type AccountHandler struct {
	transactor *service.TransactorService
}

func NewAccountHandler(transactor *service.TransactorService) *AccountHandler {
	return &AccountHandler{
		transactor: transactor,
	}
}

type CreateAccountRequest struct {
	InitialBalance string `json:"initial_balance"`
}

type AccountResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

type DeleteAccountResponse struct {
	AccountID string `json:"account_id"`
	Existed   bool   `json:"existed"`
}

type AccountExistsResponse struct {
	AccountID string `json:"account_id"`
	Exists    bool   `json:"exists"`
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidArgument, "invalid request body").WithDetails(err.Error()))
		return
	}

	initialBalance, err := decimal.NewFromString(req.InitialBalance)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidArgument, "invalid initial_balance format").WithDetails(err.Error()))
		return
	}

	accountID, err := h.transactor.CreateAccount(r.Context(), initialBalance)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, AccountResponse{
		AccountID: accountID,
		Balance:   initialBalance.String(),
	})
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]

	balance, err := h.transactor.GetAccountBalance(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountResponse{
		AccountID: accountID,
		Balance:   balance.String(),
	})
}

func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]

	existed, err := h.transactor.DeleteAccount(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteAccountResponse{
		AccountID: accountID,
		Existed:   existed,
	})
}

func (h *AccountHandler) AccountExists(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]

	exists, err := h.transactor.CheckAccountExists(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountExistsResponse{
		AccountID: accountID,
		Exists:    exists,
	})
}
