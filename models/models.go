package models

import "time"

const (
	RoleAdmin        = "Admin"
	RoleReadingTaker = "ReadingTaker"
)

const (
	ReadingPending  = "Pending"
	ReadingApproved = "Approved"
	ReadingRejected = "Rejected"
)

type User struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	PasswordHash   string    `json:"-"`
	Role           string    `json:"role"`
	AdminCode      string    `json:"admin_code,omitempty"`
	BelongsToAdmin *int64    `json:"belongs_to_admin,omitempty"`
	CompanyName    string    `json:"company_name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AdminID is the company partition key the user operates in.
func (u User) AdminID() int64 {
	if u.Role == RoleAdmin || u.BelongsToAdmin == nil {
		return u.ID
	}
	return *u.BelongsToAdmin
}

type Tenant struct {
	ID              int64      `json:"id"`
	AdminID         int64      `json:"admin_id"`
	Name            string     `json:"name"`
	ShopNumber      string     `json:"shop_number"`
	MeterNumber     string     `json:"meter_number"`
	OpeningMeter    float64    `json:"opening_meter"`
	Multiplier      float64    `json:"multiplier"`
	RatePerUnit     float64    `json:"rate_per_unit"`
	TransformerLoss float64    `json:"transformer_loss"`
	FixedCharge     float64    `json:"fixed_charge"`
	DGConnected     bool       `json:"dg_connected"`
	CurrentClosing  float64    `json:"current_closing"`
	LastUpdated     *time.Time `json:"last_updated"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Reading struct {
	ID              int64      `json:"id"`
	AdminID         int64      `json:"admin_id"`
	TenantID        int64      `json:"tenant_id"`
	TenantName      string     `json:"tenant_name,omitempty"`
	ClosingValue    float64    `json:"closing_value"`
	PhotoURL        string     `json:"photo_url"`
	Status          string     `json:"status"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	SubmittedBy     int64      `json:"submitted_by"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	DecidedBy       *int64     `json:"decided_by,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	ClosingBefore   *float64   `json:"closing_before,omitempty"`
	ClosingAfter    *float64   `json:"closing_after,omitempty"`
}

type SolarLog struct {
	ID        int64     `json:"id"`
	AdminID   int64     `json:"admin_id"`
	Date      string    `json:"date"`
	Units     float64   `json:"units"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DGUnit struct {
	ID              int64      `json:"id"`
	AdminID         int64      `json:"admin_id"`
	Name            string     `json:"name"`
	ModbusHost      string     `json:"modbus_host"`
	ModbusPort      int        `json:"modbus_port"`
	ModbusUnitID    int        `json:"modbus_unit_id"`
	RegisterAddress int        `json:"register_address"`
	RegisterCount   int        `json:"register_count"`
	LastCounter     *float64   `json:"last_counter"`
	LastPolledAt    *time.Time `json:"last_polled_at"`
}

type DGLog struct {
	ID            int64     `json:"id"`
	AdminID       int64     `json:"admin_id"`
	DGName        string    `json:"dg_name"`
	Date          string    `json:"date"`
	UnitsProduced float64   `json:"units_produced"`
	FuelLiters    float64   `json:"fuel_liters"`
	FuelCost      float64   `json:"fuel_cost"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type DGTotal struct {
	DGName     string  `json:"dg_name"`
	Units      float64 `json:"units"`
	FuelLiters float64 `json:"fuel_liters"`
	FuelCost   float64 `json:"fuel_cost"`
	Days       int     `json:"days"`
}

type DGMonthlyTotal struct {
	Month      string    `json:"month"`
	Units      float64   `json:"units"`
	FuelLiters float64   `json:"fuel_liters"`
	FuelCost   float64   `json:"fuel_cost"`
	PerUnit    []DGTotal `json:"per_unit"`
}

type Bill struct {
	ID            int64     `json:"id"`
	AdminID       int64     `json:"admin_id"`
	BillMonth     string    `json:"bill_month"`
	UnitsBilled   float64   `json:"units_billed"`
	EnergyCharges float64   `json:"energy_charges"`
	FixedCharges  float64   `json:"fixed_charges"`
	TaxCharges    float64   `json:"tax_charges"`
	TotalAmount   float64   `json:"total_amount"`
	DocumentURL   string    `json:"document_url"`
	CreatedAt     time.Time `json:"created_at"`
}

type Statement struct {
	ID                    int64     `json:"id"`
	AdminID               int64     `json:"admin_id"`
	TenantID              int64     `json:"tenant_id"`
	TenantName            string    `json:"tenant_name,omitempty"`
	StatementNumber       string    `json:"statement_number"`
	Period                string    `json:"period"`
	OpeningReading        float64   `json:"opening_reading"`
	ClosingReading        float64   `json:"closing_reading"`
	Units                 float64   `json:"units"`
	RatePerUnit           float64   `json:"rate_per_unit"`
	EnergyCharge          float64   `json:"energy_charge"`
	FixedCharge           float64   `json:"fixed_charge"`
	TransformerLossCharge float64   `json:"transformer_loss_charge"`
	DGCharge              float64   `json:"dg_charge"`
	TotalAmount           float64   `json:"total_amount"`
	DocumentURL           string    `json:"document_url"`
	CreatedAt             time.Time `json:"created_at"`
}

type BusinessSummary struct {
	ID               int64     `json:"id"`
	AdminID          int64     `json:"admin_id"`
	Month            string    `json:"month"`
	GridUnits        float64   `json:"grid_units"`
	SolarUnits       float64   `json:"solar_units"`
	DGUnits          float64   `json:"dg_units"`
	TenantUnits      float64   `json:"tenant_units"`
	CommonLoss       float64   `json:"common_loss"`
	LossPercent      float64   `json:"loss_percent"`
	TenantCollection float64   `json:"tenant_collection"`
	GridBillAmount   float64   `json:"grid_bill_amount"`
	Profit           float64   `json:"profit"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ReadingExportRow is one line of the readings spreadsheet.
type ReadingExportRow struct {
	ReadingID    int64
	SubmittedAt  time.Time
	TenantName   string
	ShopNumber   string
	MeterNumber  string
	ClosingValue float64
	Status       string
	Reason       string
	SubmittedBy  string
	PhotoURL     string
}
