package handlers

import (
	"net/http"
	"strings"

	"github.com/aj9599/submeter-billing/services"
)

type BillHandler struct {
	bills *services.BillService
}

func NewBillHandler(bills *services.BillService) *BillHandler {
	return &BillHandler{bills: bills}
}

type BillRequest struct {
	BillMonth     string `json:"bill_month"`
	UnitsBilled   number `json:"units_billed"`
	EnergyCharges number `json:"energy_charges"`
	FixedCharges  number `json:"fixed_charges"`
	TaxCharges    number `json:"tax_charges"`
}

// Add accepts either a JSON body or a multipart form carrying the same
// fields plus an optional scan of the bill in "document".
func (h *BillHandler) Add(w http.ResponseWriter, r *http.Request) {
	var (
		in  services.BillInput
		doc *services.Document
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
		if err := parseMultipart(r); err != nil {
			respondError(w, r, err)
			return
		}
		in = services.BillInput{
			BillMonth:     r.FormValue("bill_month"),
			UnitsBilled:   r.FormValue("units_billed"),
			EnergyCharges: r.FormValue("energy_charges"),
			FixedCharges:  r.FormValue("fixed_charges"),
			TaxCharges:    r.FormValue("tax_charges"),
		}
		name, contentType, data, err := readUpload(r, "document")
		if err != nil {
			respondError(w, r, err)
			return
		}
		if len(data) > 0 {
			doc = &services.Document{Name: name, ContentType: contentType, Data: data}
		}
	} else {
		var req BillRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		in = services.BillInput{
			BillMonth:     req.BillMonth,
			UnitsBilled:   req.UnitsBilled.String(),
			EnergyCharges: req.EnergyCharges.String(),
			FixedCharges:  req.FixedCharges.String(),
			TaxCharges:    req.TaxCharges.String(),
		}
	}

	bill, err := h.bills.AddBill(r.Context(), callerContext(r), in, doc)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, bill)
}

func (h *BillHandler) History(w http.ResponseWriter, r *http.Request) {
	if err := pathAdmin(r); err != nil {
		respondError(w, r, err)
		return
	}
	bills, err := h.bills.BillHistory(r.Context(), callerContext(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bills)
}
