package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ProductType selects how a quantity is entered for a product: whole units,
// weight in kilograms, or a combination of loose units and fixed-size packs.
type ProductType string

const (
	ProductTypeUnit   ProductType = "unit"
	ProductTypeWeight ProductType = "weight"
	ProductTypePack   ProductType = "pack"
)

func ParseProductType(raw string) (ProductType, error) {
	switch ProductType(raw) {
	case ProductTypeUnit, ProductTypeWeight, ProductTypePack:
		return ProductType(raw), nil
	case "":
		return ProductTypeUnit, nil
	}
	return "", fmt.Errorf("unknown product type %q", raw)
}

type WeightUnit string

const (
	WeightUnitKilogram WeightUnit = "kg"
	WeightUnitGram     WeightUnit = "g"
)

// Product stock is a decimal because weight-sold items carry fractional
// stock (e.g. 4.5 kg). Pack products track stock in base units.
type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Stock        decimal.Decimal `json:"stock"`
	Type         ProductType     `json:"type"`
	UnitsPerPack int             `json:"units_per_pack"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Stock        decimal.Decimal `json:"stock"`
	Type         string          `json:"type"`
	UnitsPerPack int             `json:"units_per_pack"`
}

// ProductUpdateRequest replaces the full record; all fields are required.
type ProductUpdateRequest struct {
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Stock        decimal.Decimal `json:"stock"`
	Type         string          `json:"type"`
	UnitsPerPack int             `json:"units_per_pack"`
}

// QuantityInput carries the operator's quantity entry for one cart line.
// Which fields are read depends on the product type: Units for unit
// products, Amount+WeightUnit for weight products, LooseUnits+Packs for
// pack products.
type QuantityInput struct {
	Units      int             `json:"units,omitempty"`
	Amount     decimal.Decimal `json:"amount,omitempty"`
	WeightUnit WeightUnit      `json:"weight_unit,omitempty"`
	LooseUnits int             `json:"loose_units,omitempty"`
	Packs      int             `json:"packs,omitempty"`
}

// CartLine is a transient staging entry; it snapshots the product's name and
// price at add-time so later product edits or deletions cannot alter it.
type CartLine struct {
	ProductID   int64           `json:"product_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentMixed    PaymentMethod = "mixed"
)

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(raw) {
	case PaymentCash, PaymentTransfer, PaymentMixed:
		return PaymentMethod(raw), nil
	}
	return "", fmt.Errorf("unknown payment method %q", raw)
}

// PaymentInput is what the operator selects when finalizing a sale.
// CashAmount and TransferAmount are only read for the mixed method; for
// cash and transfer the full total is assigned to the matching side.
type PaymentInput struct {
	Method         PaymentMethod   `json:"method"`
	CashAmount     decimal.Decimal `json:"cash_amount"`
	TransferAmount decimal.Decimal `json:"transfer_amount"`
	Confirm        bool            `json:"confirm"`
}

type SaleLine struct {
	ProductID   int64           `json:"product_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Sale is immutable once committed except for the Closed flag, which
// transitions false -> true exactly once during a daily closing.
type Sale struct {
	ID             int64           `json:"id"`
	Date           string          `json:"date"` // YYYY-MM-DD in the terminal timezone
	Time           string          `json:"time"` // HH:MM:SS wall clock
	Lines          []SaleLine      `json:"lines"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	CashAmount     decimal.Decimal `json:"cash_amount"`
	TransferAmount decimal.Decimal `json:"transfer_amount"`
	Closed         bool            `json:"closed"`
}

type SaleFilter struct {
	Date          string
	PaymentMethod PaymentMethod
}

type DailyBalance struct {
	Date          string          `json:"date"`
	CashTotal     decimal.Decimal `json:"cash_total"`
	TransferTotal decimal.Decimal `json:"transfer_total"`
}

// DailyClosing is keyed by date; repeated closings on the same day
// accumulate into the existing record.
type DailyClosing struct {
	Date          string          `json:"date"`
	SalesCount    int             `json:"sales_count"`
	Total         decimal.Decimal `json:"total"`
	CashTotal     decimal.Decimal `json:"cash_total"`
	TransferTotal decimal.Decimal `json:"transfer_total"`
}

type ClosingReportLine struct {
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

// ClosingReport covers exactly the batch of sales sealed by one closing
// invocation. Products are listed in first-seen order across the batch.
type ClosingReport struct {
	Date          string              `json:"date"`
	SalesCount    int                 `json:"sales_count"`
	Total         decimal.Decimal     `json:"total"`
	CashTotal     decimal.Decimal     `json:"cash_total"`
	TransferTotal decimal.Decimal     `json:"transfer_total"`
	Products      []ClosingReportLine `json:"products"`
}

type ClosingResult struct {
	Performed bool           `json:"performed"`
	Report    *ClosingReport `json:"report,omitempty"`
}

type Receipt struct {
	SaleID       int64  `json:"sale_id"`
	PreviewText  string `json:"preview_text"`
	EscposBase64 string `json:"escpos_base64"`
	FileName     string `json:"file_name"`
}
