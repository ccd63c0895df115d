package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/service"
)

type repriceRequest struct {
	// ReferenceRate is optional; without it the central bank rate is fetched.
	ReferenceRate *decimal.Decimal `json:"reference_rate"`
	Margin        decimal.Decimal  `json:"margin"`
}

type mandateRequest struct {
	LoanID  string          `json:"loan_id"`
	Percent decimal.Decimal `json:"percent"`
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Catalog.List(r.Context())
	h.respond(w, r, http.StatusOK, products, err)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Catalog.Get(r.Context(), mux.Vars(r)["id"])
	h.respond(w, r, http.StatusOK, p, err)
}

func (h *Handler) GetProductVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		h.writeError(w, r, apperr.Validation("invalid version"))
		return
	}
	p, err := h.svc.Catalog.GetVersion(r.Context(), vars["id"], version)
	h.respond(w, r, http.StatusOK, p, err)
}

func (h *Handler) PublishProduct(w http.ResponseWriter, r *http.Request) {
	var p models.LoanProduct
	if err := decode(r, &p); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.Catalog.Publish(r.Context(), actorOf(r), p)
	h.respond(w, r, http.StatusCreated, p, err)
}

func (h *Handler) RepriceProduct(w http.ResponseWriter, r *http.Request) {
	var req repriceRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	var (
		p   models.LoanProduct
		err error
	)
	if req.ReferenceRate != nil {
		p, err = h.svc.Catalog.Reprice(r.Context(), actorOf(r), id, *req.ReferenceRate, req.Margin)
	} else {
		p, err = h.svc.Catalog.RepriceFromReference(r.Context(), actorOf(r), id, req.Margin)
	}
	h.respond(w, r, http.StatusOK, p, err)
}

// KeyRate returns the current central bank reference rate.
func (h *Handler) KeyRate(w http.ResponseWriter, r *http.Request) {
	if h.rates == nil {
		h.writeError(w, r, apperr.New(apperr.KindStateConflict, "no reference rate provider configured"))
		return
	}
	rate, err := h.rates.KeyRate(r.Context())
	h.respond(w, r, http.StatusOK, rate, err)
}

func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req service.DraftRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.MemberID == "" {
		req.MemberID = actorOf(r).ID
	}
	loan, err := h.svc.Loans.CreateDraft(r.Context(), actorOf(r), req)
	h.respond(w, r, http.StatusCreated, loan, err)
}

func (h *Handler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	var req service.DraftRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.svc.Loans.UpdateDraft(r.Context(), actorOf(r), mux.Vars(r)["id"], req)
	h.respond(w, r, http.StatusOK, loan, err)
}

func (h *Handler) loadLoan(r *http.Request) (models.LoanApplication, error) {
	loan, err := h.svc.Loans.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return models.LoanApplication{}, err
	}
	if err := visible(r, loan.MemberID); err != nil {
		return models.LoanApplication{}, err
	}
	return loan, nil
}

func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loadLoan(r)
	h.respond(w, r, http.StatusOK, loan, err)
}

func (h *Handler) SubmitLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.svc.Loans.Submit(r.Context(), actorOf(r), mux.Vars(r)["id"])
	h.respond(w, r, http.StatusOK, loan, err)
}

func (h *Handler) DecideLoan(w http.ResponseWriter, r *http.Request) {
	var req service.DecisionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.svc.Loans.Decide(r.Context(), actorOf(r), mux.Vars(r)["id"], req)
	h.respond(w, r, http.StatusOK, loan, err)
}

func (h *Handler) DisburseLoan(w http.ResponseWriter, r *http.Request) {
	loan, tx, err := h.svc.Loans.Disburse(r.Context(), actorOf(r), mux.Vars(r)["id"])
	h.respond(w, r, http.StatusOK, map[string]any{"loan": loan, "transaction": tx}, err)
}

func (h *Handler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	var req service.RepaymentRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Loans.Repay(r.Context(), actorOf(r), mux.Vars(r)["id"], req)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) LoanCommitments(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loadLoan(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commitments, err := h.svc.Loans.Commitments(r.Context(), loan.ID)
	h.respond(w, r, http.StatusOK, commitments, err)
}

func (h *Handler) LoanAudit(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loadLoan(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.svc.Loans.Audit(r.Context(), loan.ID)
	h.respond(w, r, http.StatusOK, entries, err)
}

// RunDelinquency triggers the delinquency sweep as of now.
func (h *Handler) RunDelinquency(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.svc.Loans.EvaluateDelinquency(r.Context(), h.svc.Loans.Now())
	h.respond(w, r, http.StatusOK, report, err)
}

func (h *Handler) MemberLoans(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := visible(r, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	loans, err := h.svc.Loans.ListByMember(r.Context(), id)
	h.respond(w, r, http.StatusOK, loans, err)
}

func (h *Handler) GuarantorCommitments(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := visible(r, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	commitments, err := h.svc.Guarantors.Commitments(r.Context(), id)
	h.respond(w, r, http.StatusOK, commitments, err)
}

func (h *Handler) GuarantorCapacity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	free, err := h.svc.Guarantors.FreeCapacity(r.Context(), id)
	h.respond(w, r, http.StatusOK, map[string]any{"guarantor_id": id, "free_capacity": free}, err)
}

func (h *Handler) EligibilityReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := visible(r, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.svc.Scorer.Report(r.Context(), id, r.URL.Query().Get("period"))
	h.respond(w, r, http.StatusOK, report, err)
}

func (h *Handler) GetMandate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := visible(r, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.svc.Repayments.Mandate(r.Context(), id)
	h.respond(w, r, http.StatusOK, m, err)
}

func (h *Handler) OptIn(w http.ResponseWriter, r *http.Request) {
	var req mandateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.svc.Repayments.OptIn(r.Context(), actorOf(r), mux.Vars(r)["id"], req.LoanID, req.Percent)
	h.respond(w, r, http.StatusOK, m, err)
}

func (h *Handler) OptOut(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Repayments.OptOut(r.Context(), actorOf(r), mux.Vars(r)["id"])
	h.respond(w, r, http.StatusOK, m, err)
}

func (h *Handler) ProcessMandate(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Repayments.Process(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("period"))
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) ProcessAllMandates(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.svc.Repayments.ProcessAll(r.Context(), r.URL.Query().Get("period"))
	h.respond(w, r, http.StatusOK, summary, err)
}
