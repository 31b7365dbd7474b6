package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompanyProfile is the reporting company as kept by the accounting
// product.
type CompanyProfile struct {
	TaxID      string `json:"tax_id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	County     string `json:"county"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Website    string `json:"website"`
	IBAN       string `json:"iban"`
	BankName   string `json:"bank_name"`
}

type InvoiceDirection string

const (
	DirectionSales    InvoiceDirection = "sales"
	DirectionPurchase InvoiceDirection = "purchase"
)

type DocumentType string

const (
	DocumentInvoice    DocumentType = "invoice"
	DocumentCreditNote DocumentType = "credit_note"
	DocumentDebitNote  DocumentType = "debit_note"
	DocumentProforma   DocumentType = "proforma"
)

// Invoice is one issued or received invoice.
type Invoice struct {
	ID             string           `json:"id"`
	Direction      InvoiceDirection `json:"direction"`
	Number         string           `json:"number"`
	IssueDate      time.Time        `json:"issue_date"`
	PartnerTaxID   string           `json:"partner_tax_id"`
	PartnerName    string           `json:"partner_name"`
	PartnerAddress string           `json:"partner_address"`
	Net            decimal.Decimal  `json:"net"`
	VAT            decimal.Decimal  `json:"vat"`
	Gross          decimal.Decimal  `json:"gross"`
	Currency       string           `json:"currency"`
	Description    string           `json:"description"`
	VATCode        string           `json:"vat_code,omitempty"`
	DocumentType   DocumentType     `json:"document_type"`
	CreatedAt      time.Time        `json:"created_at"`
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

type Payment struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	Reference   string          `json:"reference"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Method      PaymentMethod   `json:"method"`
	Description string          `json:"description"`
}

// GoodsMovement is a road transport of goods declared for the period.
type GoodsMovement struct {
	NCCode      string          `json:"nc_code"`
	Description string          `json:"description"`
	WeightKg    decimal.Decimal `json:"weight_kg"`
	Value       decimal.Decimal `json:"value"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
}

// Ledger is the snapshot of accounting data for one tenant and period.
// Company is nil when the tenant has no profile.
type Ledger struct {
	Company   *CompanyProfile `json:"company"`
	Sales     []Invoice       `json:"sales"`
	Purchases []Invoice       `json:"purchases"`
	Payments  []Payment       `json:"payments"`
	Movements []GoodsMovement `json:"movements"`
}
