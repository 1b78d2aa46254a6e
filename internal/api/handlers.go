/**
 * @description
 * This file contains the HTTP handlers for the payout-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application services, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - internal/bankident: For identifier validation errors surfaced to clients.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/paydesk/payout-service/internal/app"
	"github.com/paydesk/payout-service/internal/bankident"
	"github.com/paydesk/payout-service/internal/domain"
	"github.com/paydesk/payout-service/internal/store"
)

// PayoutHandlers holds the application services that handlers will use.
type PayoutHandlers struct {
	service *app.Service
	auth    *app.AuthService
}

// NewPayoutHandlers creates a new instance of PayoutHandlers.
func NewPayoutHandlers(service *app.Service, auth *app.AuthService) *PayoutHandlers {
	return &PayoutHandlers{service: service, auth: auth}
}

type submitPayoutRequest struct {
	PaymentID string `json:"payment_id"`
}

// SubmitPayoutHandler handles requests to submit a payment for bank payout.
func (h *PayoutHandlers) SubmitPayoutHandler(w http.ResponseWriter, r *http.Request) {
	var req submitPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if req.PaymentID == "" {
		h.writeError(w, http.StatusBadRequest, "payment_id is required")
		return
	}

	result, err := h.service.Submit(r.Context(), req.PaymentID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetPayoutDetailsHandler returns a payment together with its audit history.
func (h *PayoutHandlers) GetPayoutDetailsHandler(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "payment_id")
	if paymentID == "" {
		h.writeError(w, http.StatusBadRequest, "payment_id is required")
		return
	}

	details, err := h.service.GetPayoutDetails(r.Context(), paymentID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, details)
}

// ValidateBankAccountHandler validates bank account details without saving.
func (h *PayoutHandlers) ValidateBankAccountHandler(w http.ResponseWriter, r *http.Request) {
	var details domain.BankAccountDetails
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	validation, err := h.service.ValidateBankAccount(r.Context(), details)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, validation)
}

// UpsertBankAccountHandler creates or replaces a user's bank account.
func (h *PayoutHandlers) UpsertBankAccountHandler(w http.ResponseWriter, r *http.Request) {
	var details domain.BankAccountDetails
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.UpsertBankAccount(r.Context(), details)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// CreatePaymentHandler registers a new payout obligation.
func (h *PayoutHandlers) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payment, err := h.service.CreatePayment(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, payment)
}

// ListPendingPaymentsHandler returns payments awaiting payout.
func (h *PayoutHandlers) ListPendingPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPendingPayments(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payments)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler exchanges credentials for an access token.
func (h *PayoutHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Printf("level=error component=api msg=\"login failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to log in")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// RegisterHandler creates a new account and returns an access token.
func (h *PayoutHandlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrEmailInUse):
			h.writeError(w, http.StatusConflict, "Email already in use")
		case errors.Is(err, app.ErrWeakPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api msg=\"registration failed\" err=%v", err)
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// writeServiceError maps application errors onto HTTP statuses: validation
// failures are 400, missing records 404, precondition conflicts 409,
// everything unexpected 500.
func (h *PayoutHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, bankident.ErrInvalidIBAN),
		errors.Is(err, bankident.ErrInvalidRouting),
		errors.Is(err, bankident.ErrUnsupportedCountry),
		errors.Is(err, app.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrBankAccountNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrAlreadyPaid),
		errors.Is(err, app.ErrPaymentUnlinked),
		errors.Is(err, app.ErrNoBankAccount),
		errors.Is(err, app.ErrBankAccountNotValidated),
		errors.Is(err, app.ErrInsufficientBudget):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("level=error component=api msg=\"request failed\" path=%s err=%v", r.URL.Path, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PayoutHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PayoutHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
