package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/finance-tracker-auth/internal/apperr"
	"github.com/sandeepkv93/finance-tracker-auth/internal/domain"
	"github.com/sandeepkv93/finance-tracker-auth/internal/http/response"
	"github.com/sandeepkv93/finance-tracker-auth/internal/repository"
	"github.com/sandeepkv93/finance-tracker-auth/internal/service"
)

// AccountHandler serves tenant-owned ledger data. Every route runs inside a
// tenant scope, so repositories only ever see the caller's rows.
type AccountHandler struct {
	accounts     repository.AccountRepository
	transactions repository.TransactionRepository
	logger       *slog.Logger
}

func NewAccountHandler(accounts repository.AccountRepository, transactions repository.TransactionRepository, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, transactions: transactions, logger: logger}
}

type createAccountRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type createTransactionRequest struct {
	AmountMinor int64      `json:"amount_minor"`
	Description string     `json:"description"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	result, err := h.accounts.List(r.Context(), page)
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if name == "" || len(name) > 128 {
		response.FromError(w, r, h.logger, apperr.New(apperr.KindBadRequest, "name must be 1 to 128 characters"))
		return
	}
	if !isCurrencyCode(currency) {
		response.FromError(w, r, h.logger, apperr.New(apperr.KindBadRequest, "currency must be a three letter code"))
		return
	}
	account := &domain.Account{Name: name, Currency: currency}
	if err := h.accounts.Create(r.Context(), account); err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, account)
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	account, err := h.accounts.FindByID(r.Context(), id)
	if err != nil {
		response.FromError(w, r, h.logger, notFound(err))
		return
	}
	response.JSON(w, r, http.StatusOK, account)
}

func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	page, err := pageRequest(r)
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	if _, err := h.accounts.FindByID(r.Context(), id); err != nil {
		response.FromError(w, r, h.logger, notFound(err))
		return
	}
	result, err := h.transactions.ListByAccount(r.Context(), id, page)
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AccountHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	var req createTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	if req.AmountMinor == 0 {
		response.FromError(w, r, h.logger, apperr.New(apperr.KindBadRequest, "amount_minor must be non-zero"))
		return
	}
	if len(req.Description) > 255 {
		response.FromError(w, r, h.logger, apperr.New(apperr.KindBadRequest, "description must be at most 255 characters"))
		return
	}
	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	txn := &domain.Transaction{
		AccountID:   id,
		AmountMinor: req.AmountMinor,
		Description: strings.TrimSpace(req.Description),
		OccurredAt:  occurredAt,
	}
	if err := h.transactions.Create(r.Context(), txn); err != nil {
		response.FromError(w, r, h.logger, notFound(err))
		return
	}
	response.JSON(w, r, http.StatusCreated, txn)
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrAccountNotFound) {
		return service.ErrNotFound
	}
	return err
}

func pathID(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.New(apperr.KindBadRequest, "invalid "+name)
	}
	return uint(id), nil
}

func pageRequest(r *http.Request) (repository.PageRequest, error) {
	var req repository.PageRequest
	q := r.URL.Query()
	for name, dst := range map[string]*int{"page": &req.Page, "page_size": &req.PageSize} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return repository.PageRequest{}, apperr.New(apperr.KindBadRequest, name+" must be a positive integer")
		}
		*dst = n
	}
	return req, nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
