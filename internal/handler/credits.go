package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
)

type earnRequest struct {
	UserID   string           `json:"user_id"`
	Category string           `json:"category"`
	Amount   *decimal.Decimal `json:"amount"`
	Count    int              `json:"count"`
}

type spendRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Purpose string          `json:"purpose"`
}

type transferRequest struct {
	To      string          `json:"to"`
	Amount  decimal.Decimal `json:"amount"`
	Message string          `json:"message"`
}

// subject is the user a credits call acts on: the caller, or ?user= for admins.
func subject(r *http.Request) (string, error) {
	actor := actorOf(r)
	user := r.URL.Query().Get("user")
	if user == "" || user == actor.ID {
		return actor.ID, nil
	}
	if err := visible(r, user); err != nil {
		return "", err
	}
	return user, nil
}

func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	user, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	wallet, err := h.svc.Credits.Wallet(r.Context(), user)
	h.respond(w, r, http.StatusOK, wallet, err)
}

func (h *Handler) CreditHistory(w http.ResponseWriter, r *http.Request) {
	user, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	history, err := h.svc.Credits.History(r.Context(), user, limit)
	h.respond(w, r, http.StatusOK, history, err)
}

// Earn records platform activity. Activity is reported by platform modules
// running with an admin token, either as a credit amount or an activity count.
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req earnRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Amount != nil {
		res, err := h.svc.Credits.Earn(r.Context(), req.UserID, req.Category, *req.Amount)
		h.respond(w, r, http.StatusOK, res, err)
		return
	}
	res, err := h.svc.Credits.EarnForActivity(r.Context(), req.UserID, req.Category, req.Count)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	var req spendRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	wallet, err := h.svc.Credits.Spend(r.Context(), actorOf(r).ID, req.Amount, req.Purpose)
	h.respond(w, r, http.StatusOK, wallet, err)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	wallet, err := h.svc.Credits.Transfer(r.Context(), actorOf(r).ID, req.To, req.Amount, req.Message)
	h.respond(w, r, http.StatusOK, wallet, err)
}

func (h *Handler) DailyBonus(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.svc.Credits.ClaimDailyBonus(r.Context(), actorOf(r).ID)
	h.respond(w, r, http.StatusOK, wallet, err)
}
