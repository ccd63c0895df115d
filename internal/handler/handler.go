package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/middleware"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/service"
)

type Handler struct {
	svc   *service.Service
	rates service.RateProvider
	log   *logrus.Logger
}

func NewHandler(svc *service.Service, rates service.RateProvider, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, rates: rates, log: log}
}

// Register mounts every authenticated route on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/accounts", h.OpenAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}/balance", h.GetBalance).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}/transactions", h.ListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}/deposits", h.Deposit).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/withdrawals", h.Withdraw).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/postings", h.Post).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/{action:freeze|unfreeze|close}", h.ChangeAccountStatus).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}/reverse", h.Reverse).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}/verify", h.VerifyTransaction).Methods(http.MethodGet)

	r.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet)
	r.HandleFunc("/products", h.PublishProduct).Methods(http.MethodPost)
	r.HandleFunc("/products/{id}", h.GetProduct).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}/versions/{version:[0-9]+}", h.GetProductVersion).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}/reprice", h.RepriceProduct).Methods(http.MethodPost)
	r.HandleFunc("/key-rate", h.KeyRate).Methods(http.MethodGet)

	r.HandleFunc("/loans", h.CreateDraft).Methods(http.MethodPost)
	r.HandleFunc("/loans/{id}", h.GetLoan).Methods(http.MethodGet)
	r.HandleFunc("/loans/{id}", h.UpdateDraft).Methods(http.MethodPut)
	r.HandleFunc("/loans/{id}/submit", h.SubmitLoan).Methods(http.MethodPost)
	r.HandleFunc("/loans/{id}/decision", h.DecideLoan).Methods(http.MethodPost)
	r.HandleFunc("/loans/{id}/disburse", h.DisburseLoan).Methods(http.MethodPost)
	r.HandleFunc("/loans/{id}/repayments", h.RepayLoan).Methods(http.MethodPost)
	r.HandleFunc("/loans/{id}/commitments", h.LoanCommitments).Methods(http.MethodGet)
	r.HandleFunc("/loans/{id}/audit", h.LoanAudit).Methods(http.MethodGet)
	r.HandleFunc("/admin/delinquency", h.RunDelinquency).Methods(http.MethodPost)

	r.HandleFunc("/members/{id}/accounts", h.MemberAccounts).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/holdings", h.MemberHoldings).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/loans", h.MemberLoans).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/guarantees", h.GuarantorCommitments).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/guarantor-capacity", h.GuarantorCapacity).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/eligibility", h.EligibilityReport).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/mandate", h.GetMandate).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/mandate", h.OptIn).Methods(http.MethodPut)
	r.HandleFunc("/members/{id}/mandate", h.OptOut).Methods(http.MethodDelete)
	r.HandleFunc("/members/{id}/mandate/process", h.ProcessMandate).Methods(http.MethodPost)
	r.HandleFunc("/mandates/process", h.ProcessAllMandates).Methods(http.MethodPost)

	r.HandleFunc("/credits/wallet", h.Wallet).Methods(http.MethodGet)
	r.HandleFunc("/credits/history", h.CreditHistory).Methods(http.MethodGet)
	r.HandleFunc("/credits/earn", h.Earn).Methods(http.MethodPost)
	r.HandleFunc("/credits/spend", h.Spend).Methods(http.MethodPost)
	r.HandleFunc("/credits/transfer", h.Transfer).Methods(http.MethodPost)
	r.HandleFunc("/credits/daily-bonus", h.DailyBonus).Methods(http.MethodPost)
}

func actorOf(r *http.Request) models.Actor {
	actor, _ := middleware.ActorFrom(r.Context())
	return actor
}

// visible guards reads of member-owned data.
func visible(r *http.Request, ownerID string) error {
	actor := actorOf(r)
	if actor.IsAdmin() || actor.ID == ownerID {
		return nil
	}
	return apperr.New(apperr.KindForbidden, "not allowed to view data of %s", ownerID)
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case apperr.KindValidation, apperr.KindSelfTransfer:
		return http.StatusBadRequest
	case apperr.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindStateConflict, apperr.KindConflict, apperr.KindAlreadyDecided, apperr.KindAlreadyProcessed:
		return http.StatusConflict
	case apperr.KindLimitExceeded, apperr.KindCapacityExceeded, apperr.KindNotEligible:
		return http.StatusUnprocessableEntity
	case apperr.KindAccountInactive:
		return http.StatusLocked
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := map[string]string{"error": err.Error()}
	if kind := apperr.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	if status == http.StatusInternalServerError {
		h.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Errorf("Request failed: %v", err)
		body = map[string]string{"error": "internal error"}
	}
	writeJSON(w, status, body)
}

// respond writes v or the error.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}
