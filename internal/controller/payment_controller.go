package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/application/routing"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
)

// PaymentController handles payment initiation and transaction queries.
type PaymentController struct {
	payments     *routing.InitiatePaymentUseCase
	transactions transaction.Repository
}

func NewPaymentController(
	payments *routing.InitiatePaymentUseCase,
	transactions transaction.Repository,
) *PaymentController {
	return &PaymentController{
		payments:     payments,
		transactions: transactions,
	}
}

// Initiate handles POST /api/v1/payments
func (h *PaymentController) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	merchantID := parseUUID(req.MerchantID)
	if merchantID == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid merchant_id", Code: "invalid_id"})
		return
	}

	txn, err := h.payments.Execute(r.Context(), *merchantID, transaction.Amount{
		ValueCents: floatToCents(req.Amount),
		Currency:   req.Currency,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromTransaction(txn))
}

// Refund handles POST /api/v1/payments/{id}/refund
func (h *PaymentController) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid transaction id", Code: "invalid_id"})
		return
	}

	txn, err := h.payments.Refund(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromTransaction(txn))
}

// Get handles GET /api/v1/payments/{id}
func (h *PaymentController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid transaction id", Code: "invalid_id"})
		return
	}

	txn, err := h.transactions.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromTransaction(txn))
}

// List handles GET /api/v1/payments
func (h *PaymentController) List(w http.ResponseWriter, r *http.Request) {
	filter := transaction.ListFilter{}

	if s := r.URL.Query().Get("merchant_id"); s != "" {
		if id := parseUUID(s); id != nil {
			filter.MerchantID = id
		}
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := transaction.Status(s)
		filter.Status = &status
	}
	if s := r.URL.Query().Get("path"); s != "" {
		path := transaction.Path(s)
		filter.Path = &path
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	txns, err := h.transactions.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*TransactionResponse, 0, len(txns))
	for _, txn := range txns {
		resp = append(resp, FromTransaction(txn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": resp})
}
