package services

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

type ReconcileInput struct {
	GridUnits   float64
	SolarUnits  float64
	DGUnits     float64
	TenantUnits []float64
}

// Reconciliation is the energy balance of one admin over one period.
type Reconciliation struct {
	GridUnits     float64 `json:"grid_units"`
	SolarUnits    float64 `json:"solar_units"`
	DGUnits       float64 `json:"dg_units"`
	TotalEnergyIn float64 `json:"total_energy_in"`
	TenantSum     float64 `json:"tenant_sum"`
	CommonLoss    float64 `json:"common_loss"`
	LossPercent   float64 `json:"loss_percent"`
}

// Reconcile balances supply against metered tenant demand. CommonLoss keeps
// its sign: a negative value means tenants were metered for more than was
// supplied. LossPercent is 0 whenever no energy came in.
func Reconcile(in ReconcileInput) Reconciliation {
	grid := decimal.NewFromFloat(in.GridUnits)
	solar := decimal.NewFromFloat(in.SolarUnits)
	dg := decimal.NewFromFloat(in.DGUnits)
	total := grid.Add(solar).Add(dg)

	tenantSum := decimal.Zero
	for _, u := range in.TenantUnits {
		tenantSum = tenantSum.Add(decimal.NewFromFloat(u))
	}

	loss := total.Sub(tenantSum)
	lossPercent := decimal.Zero
	if total.IsPositive() {
		lossPercent = loss.Div(total).Mul(hundred).Round(2)
	}

	return Reconciliation{
		GridUnits:     in.GridUnits,
		SolarUnits:    in.SolarUnits,
		DGUnits:       in.DGUnits,
		TotalEnergyIn: toFloat(total),
		TenantSum:     toFloat(tenantSum),
		CommonLoss:    toFloat(loss),
		LossPercent:   toFloat(lossPercent),
	}
}

// DGPool is the DG fuel cost of a period and the consumption it is spread over.
type DGPool struct {
	FuelCost       float64
	ConnectedUnits float64
}

type InvoiceInput struct {
	Units           float64
	RatePerUnit     float64
	FixedCharge     float64
	TransformerLoss float64 // percent
	DGConnected     bool
	DG              DGPool
}

type InvoiceResult struct {
	Units                 float64 `json:"units"`
	RatePerUnit           float64 `json:"rate_per_unit"`
	EnergyCharge          float64 `json:"energy_charge"`
	FixedCharge           float64 `json:"fixed_charge"`
	TransformerLossCharge float64 `json:"transformer_loss_charge"`
	DGCharge              float64 `json:"dg_charge"`
	TotalAmount           float64 `json:"total_amount"`
}

// ComputeInvoice derives a tenant's charges. Transformer loss is levied on
// the energy charge; DG fuel cost is shared pro rata by consumption among
// DG-connected tenants. Line items are kept to paise, the total is rounded
// to whole currency units.
func ComputeInvoice(in InvoiceInput) InvoiceResult {
	units := decimal.NewFromFloat(in.Units)
	rate := decimal.NewFromFloat(in.RatePerUnit)
	fixed := decimal.NewFromFloat(in.FixedCharge)

	energy := units.Mul(rate)
	loss := energy.Mul(decimal.NewFromFloat(in.TransformerLoss)).Div(hundred)

	dg := decimal.Zero
	if in.DGConnected && in.DG.ConnectedUnits > 0 && in.DG.FuelCost > 0 {
		dg = decimal.NewFromFloat(in.DG.FuelCost).
			Mul(units).
			Div(decimal.NewFromFloat(in.DG.ConnectedUnits))
	}

	total := energy.Add(fixed).Add(loss).Add(dg).Round(0)

	return InvoiceResult{
		Units:                 in.Units,
		RatePerUnit:           in.RatePerUnit,
		EnergyCharge:          toFloat(energy.Round(2)),
		FixedCharge:           toFloat(fixed.Round(2)),
		TransformerLossCharge: toFloat(loss.Round(2)),
		DGCharge:              toFloat(dg.Round(2)),
		TotalAmount:           toFloat(total),
	}
}

// TenantUnits scales a raw meter advance by the CT multiplier.
func TenantUnits(spike, multiplier float64) float64 {
	if multiplier <= 0 {
		multiplier = 1
	}
	return toFloat(decimal.NewFromFloat(spike).Mul(decimal.NewFromFloat(multiplier)))
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
