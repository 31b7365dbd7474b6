package saft

import (
	"github.com/shopspring/decimal"

	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

// Summary holds the period figures reported in the document and shown in
// previews. Each total is summed from raw amounts and rounded once.
type Summary struct {
	InvoicesCount      int             `json:"invoices_count"`
	SalesCount         int             `json:"sales_count"`
	PurchasesCount     int             `json:"purchases_count"`
	CustomersCount     int             `json:"customers_count"`
	SuppliersCount     int             `json:"suppliers_count"`
	TotalSales         decimal.Decimal `json:"total_sales"`
	TotalPurchases     decimal.Decimal `json:"total_purchases"`
	TotalVATCollected  decimal.Decimal `json:"total_vat_collected"`
	TotalVATDeductible decimal.Decimal `json:"total_vat_deductible"`
	VATBalance         decimal.Decimal `json:"vat_balance"`
}

// Summarize computes the period summary for the given invoices.
func Summarize(sales, purchases []model.Invoice) Summary {
	salesGross, salesVAT := sums(sales)
	purchGross, purchVAT := sums(purchases)
	customers, suppliers := partners(sales, purchases)

	collected := Round2(salesVAT)
	deductible := Round2(purchVAT)
	return Summary{
		InvoicesCount:      len(sales) + len(purchases),
		SalesCount:         len(sales),
		PurchasesCount:     len(purchases),
		CustomersCount:     len(customers),
		SuppliersCount:     len(suppliers),
		TotalSales:         Round2(salesGross),
		TotalPurchases:     Round2(purchGross),
		TotalVATCollected:  collected,
		TotalVATDeductible: deductible,
		VATBalance:         collected.Sub(deductible),
	}
}

func sums(invoices []model.Invoice) (gross, vat decimal.Decimal) {
	gross, vat = decimal.Zero, decimal.Zero
	for _, inv := range invoices {
		gross = gross.Add(inv.Gross)
		vat = vat.Add(inv.VAT)
	}
	return gross, vat
}
