package handlers

import (
	"net/http"

	"github.com/aj9599/submeter-billing/services"
)

type TenantHandler struct {
	tenants *services.TenantService
}

func NewTenantHandler(tenants *services.TenantService) *TenantHandler {
	return &TenantHandler{tenants: tenants}
}

type TenantRequest struct {
	Name            string `json:"name"`
	ShopNumber      string `json:"shop_number"`
	MeterNumber     string `json:"meter_number"`
	OpeningMeter    number `json:"opening_meter"`
	Multiplier      number `json:"multiplier"`
	RatePerUnit     number `json:"rate_per_unit"`
	TransformerLoss number `json:"transformer_loss"`
	FixedCharge     number `json:"fixed_charge"`
	DGConnected     bool   `json:"dg_connected"`
}

func (req TenantRequest) input() services.TenantInput {
	return services.TenantInput{
		Name:            req.Name,
		ShopNumber:      req.ShopNumber,
		MeterNumber:     req.MeterNumber,
		OpeningMeter:    req.OpeningMeter.String(),
		Multiplier:      req.Multiplier.String(),
		RatePerUnit:     req.RatePerUnit.String(),
		TransformerLoss: req.TransformerLoss.String(),
		FixedCharge:     req.FixedCharge.String(),
		DGConnected:     req.DGConnected,
	}
}

// List serves GET /tenants/{adminId}; reading takers use it to pick a meter.
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	if err := pathAdmin(r); err != nil {
		respondError(w, r, err)
		return
	}
	tenants, err := h.tenants.List(r.Context(), callerContext(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tenants)
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req TenantRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	tenant, err := h.tenants.Create(r.Context(), callerContext(r), req.input())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tenant)
}

func (h *TenantHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req TenantRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	tenant, err := h.tenants.Update(r.Context(), callerContext(r), id, req.input())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tenant)
}

func (h *TenantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.tenants.Delete(r.Context(), callerContext(r), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, "Tenant deleted")
}
