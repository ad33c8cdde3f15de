package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kassa/backend/internal/audit"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/ledger"
	"kassa/backend/internal/service"
)

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleClients(w http.ResponseWriter, r *http.Request) {
	clients, err := a.service.ListClients(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (a *API) handleClient(w http.ResponseWriter, r *http.Request) {
	client, err := a.service.GetClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (a *API) handleTopUpCredit(w http.ResponseWriter, r *http.Request) {
	var req service.CreditTopUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	client, err := a.service.TopUpCredit(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (a *API) handleCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := a.service.ListCurrencies(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currencies": currencies})
}

func (a *API) handleSaveCurrency(w http.ResponseWriter, r *http.Request) {
	var req service.CurrencyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	currency, err := a.service.SaveCurrency(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, currency)
}

func (a *API) handleCreatePricingRule(w http.ResponseWriter, r *http.Request) {
	var req service.PricingRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rule, err := a.service.CreatePricingRule(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) handleDeactivatePricingRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.service.DeactivatePricingRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handleOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := a.service.ListOffers(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (a *API) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req service.OfferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offer, err := a.service.CreateOffer(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (a *API) handleOfferStatus(w http.ResponseWriter, r *http.Request) {
	var req service.OfferStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offer, err := a.service.SetOfferStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (a *API) handleCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := a.service.ListCoupons(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"coupons": coupons})
}

func (a *API) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req service.CouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	coupon, err := a.service.CreateCoupon(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, coupon)
}

func (a *API) handleSuspendCoupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := a.service.SuspendCoupon(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coupon)
}

func (a *API) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req service.CartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := a.service.CheckCoupon(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req service.CartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	quote, err := a.service.Quote(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req service.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sales, err := a.service.ListSales(r.Context(), service.SaleFilter{
		ShiftID:  strings.TrimSpace(q.Get("shift_id")),
		ClientID: strings.TrimSpace(q.Get("client_id")),
		Limit:    parsePositiveLimit(q.Get("limit"), 50, 500),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req service.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	refund, err := a.service.Refund(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}

func (a *API) handleCallOrder(w http.ResponseWriter, r *http.Request) {
	called, err := a.service.CallOrder(r.Context(), chi.URLParam(r, "ticket"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, called)
}

func (a *API) handleCalledOrders(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 10, 50)
	writeJSON(w, http.StatusOK, map[string]any{"orders": a.service.CalledOrders(r.Context(), limit)})
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	var req service.OpenShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shift, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

func (a *API) handleShiftBeginClosing(w http.ResponseWriter, r *http.Request) {
	shift, err := a.service.BeginClosing(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleShiftCancelClosing(w http.ResponseWriter, r *http.Request) {
	shift, err := a.service.CancelClosing(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	var req service.CloseShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shift, err := a.service.CloseShift(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	shift, err := a.service.ActiveShift(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleShift(w http.ResponseWriter, r *http.Request) {
	shift, err := a.service.GetShift(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleCash(w http.ResponseWriter, r *http.Request) {
	cash, err := a.service.Cash(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cash)
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := a.service.Movements(r.Context(), ledger.Filter{
		ShiftID: strings.TrimSpace(q.Get("shift_id")),
		Type:    domain.LedgerType(strings.ToUpper(strings.TrimSpace(q.Get("type")))),
		Method:  domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(q.Get("method")))),
		Limit:   parsePositiveLimit(q.Get("limit"), 100, 1000),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req service.MovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := a.service.RecordMovement(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := a.service.AuditLogs(r.Context(), audit.Filter{
		Actor:      strings.TrimSpace(q.Get("actor")),
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		Date:       strings.TrimSpace(q.Get("date")),
		Limit:      parsePositiveLimit(q.Get("limit"), 100, 1000),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
