package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/service"
)

type openAccountRequest struct {
	OwnerID string             `json:"owner_id"`
	Type    models.AccountType `json:"type"`
}

type moneyRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// OpenAccount handles account creation
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = actorOf(r).ID
	}
	acct, err := h.svc.Ledger.OpenAccount(r.Context(), actorOf(r), req.OwnerID, req.Type)
	h.respond(w, r, http.StatusCreated, acct, err)
}

// loadAccount reads an account the caller may see.
func (h *Handler) loadAccount(r *http.Request) (models.Account, error) {
	acct, err := h.svc.Ledger.GetAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return models.Account{}, err
	}
	if err := visible(r, acct.OwnerID); err != nil {
		return models.Account{}, err
	}
	return acct, nil
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.loadAccount(r)
	h.respond(w, r, http.StatusOK, acct, err)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.loadAccount(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bal, err := h.svc.Ledger.GetBalance(r.Context(), acct.ID)
	h.respond(w, r, http.StatusOK, bal, err)
}

// ListTransactions supports type, method, from, to (RFC 3339), limit and offset.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	acct, err := h.loadAccount(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := models.TransactionFilter{
		AccountID: acct.ID,
		Type:      models.TransactionType(q.Get("type")),
		Method:    q.Get("method"),
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if raw := q.Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				h.writeError(w, r, apperr.Validation("%s must be an RFC 3339 timestamp", name))
				return
			}
			*dst = t
		}
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		h.writeError(w, r, err)
		return
	}
	txs, err := h.svc.Ledger.ListTransactions(r.Context(), f)
	h.respond(w, r, http.StatusOK, txs, err)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, models.TxDeposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, models.TxWithdrawal)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, typ models.TransactionType) {
	var req moneyRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tx, err := h.svc.Ledger.Post(r.Context(), actorOf(r), service.PostRequest{
		AccountID: mux.Vars(r)["id"],
		Amount:    req.Amount,
		Type:      typ,
		Method:    req.Method,
		Reference: req.Reference,
	})
	h.respond(w, r, http.StatusCreated, tx, err)
}

// Post is the generic posting endpoint, used for dividends.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	var req service.PostRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.AccountID = mux.Vars(r)["id"]
	tx, err := h.svc.Ledger.Post(r.Context(), actorOf(r), req)
	h.respond(w, r, http.StatusCreated, tx, err)
}

func (h *Handler) ChangeAccountStatus(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	var (
		acct models.Account
		err  error
	)
	switch vars["action"] {
	case "freeze":
		acct, err = h.svc.Ledger.Freeze(r.Context(), actorOf(r), vars["id"], req.Reason)
	case "unfreeze":
		acct, err = h.svc.Ledger.Unfreeze(r.Context(), actorOf(r), vars["id"], req.Reason)
	default:
		acct, err = h.svc.Ledger.Close(r.Context(), actorOf(r), vars["id"], req.Reason)
	}
	h.respond(w, r, http.StatusOK, acct, err)
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tx, err := h.svc.Ledger.Reverse(r.Context(), actorOf(r), mux.Vars(r)["id"], req.Reason)
	h.respond(w, r, http.StatusCreated, tx, err)
}

func (h *Handler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	ok, err := h.svc.Ledger.VerifyTransaction(r.Context(), id)
	h.respond(w, r, http.StatusOK, map[string]any{"transaction_id": id, "valid": ok}, err)
}

func (h *Handler) MemberAccounts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := visible(r, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	accounts, err := h.svc.Ledger.Accounts(r.Context(), id)
	h.respond(w, r, http.StatusOK, accounts, err)
}

func (h *Handler) MemberHoldings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := visible(r, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	holdings, err := h.svc.Ledger.Holdings(r.Context(), id)
	h.respond(w, r, http.StatusOK, holdings, err)
}

func requireAdmin(r *http.Request) error {
	if !actorOf(r).IsAdmin() {
		return apperr.New(apperr.KindForbidden, "admin only")
	}
	return nil
}
