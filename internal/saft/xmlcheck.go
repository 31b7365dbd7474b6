package saft

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Structural check codes.
const (
	CodeXMLMalformed   = "XML-001"
	CodeRootMissing    = "SAFT-001"
	CodeHeaderMissing  = "SAFT-002"
	CodeHeaderCountry  = "SAFT-HDR-COUNTRY"
	CodeSelectionOrder = "SAFT-SEL-ORDER"
	CodeSalesCount     = "SAFT-SALES-COUNT"
	CodePurchaseCount  = "SAFT-PURCH-COUNT"
	CodeTotalsMath     = "SAFT-TOTALS-MATH"
)

// The check structs match on local names so the n1 prefix is irrelevant.
type checkedFile struct {
	XMLName         xml.Name
	Header          *checkedHeader `xml:"Header"`
	SourceDocuments *struct {
		SalesInvoices    checkedSection `xml:"SalesInvoices"`
		PurchaseInvoices checkedSection `xml:"PurchaseInvoices"`
	} `xml:"SourceDocuments"`
}

type checkedHeader struct {
	AuditFileCountry  string `xml:"AuditFileCountry"`
	SelectionCriteria struct {
		SelectionStartDate string `xml:"SelectionStartDate"`
		SelectionEndDate   string `xml:"SelectionEndDate"`
	} `xml:"SelectionCriteria"`
}

type checkedSection struct {
	NumberOfEntries int `xml:"NumberOfEntries"`
	Invoice         []struct {
		InvoiceNo      string `xml:"InvoiceNo"`
		DocumentTotals struct {
			TaxPayable string `xml:"TaxPayable"`
			NetTotal   string `xml:"NetTotal"`
			GrossTotal string `xml:"GrossTotal"`
		} `xml:"DocumentTotals"`
	} `xml:"Invoice"`
}

// CheckDocument re-reads a rendered audit file. Structural problems are
// errors; per-invoice totals that do not add up are warnings, mirroring
// W002 on the ledger side.
func CheckDocument(data []byte) ValidationResult {
	res := ValidationResult{Valid: true, Errors: []Issue{}, Warnings: []Issue{}}
	add := res.AddError

	var doc checkedFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		add(CodeXMLMalformed, "xml", fmt.Sprintf("document is not well-formed: %v", err))
		return res
	}
	if doc.XMLName.Local != "AuditFile" {
		add(CodeRootMissing, "AuditFile", fmt.Sprintf("root element is %q, want AuditFile", doc.XMLName.Local))
		return res
	}
	if doc.Header == nil {
		add(CodeHeaderMissing, "Header", "header is missing")
	} else {
		if doc.Header.AuditFileCountry != countryCode {
			add(CodeHeaderCountry, "Header.AuditFileCountry", fmt.Sprintf("country is %q, want RO", doc.Header.AuditFileCountry))
		}
		sc := doc.Header.SelectionCriteria
		start, err1 := time.Parse(dateLayout, sc.SelectionStartDate)
		end, err2 := time.Parse(dateLayout, sc.SelectionEndDate)
		if err1 != nil || err2 != nil || end.Before(start) {
			add(CodeSelectionOrder, "Header.SelectionCriteria", "selection dates are missing or out of order")
		}
	}

	if doc.SourceDocuments != nil {
		checkSection(&res, doc.SourceDocuments.SalesInvoices, "SalesInvoices", CodeSalesCount)
		checkSection(&res, doc.SourceDocuments.PurchaseInvoices, "PurchaseInvoices", CodePurchaseCount)
	}
	return res
}

func checkSection(res *ValidationResult, s checkedSection, name, countCode string) {
	if s.NumberOfEntries != len(s.Invoice) {
		res.AddError(countCode, name+".NumberOfEntries",
			fmt.Sprintf("declares %d entries but contains %d invoices", s.NumberOfEntries, len(s.Invoice)))
	}
	for i, inv := range s.Invoice {
		t := inv.DocumentTotals
		net, err1 := decimal.NewFromString(t.NetTotal)
		tax, err2 := decimal.NewFromString(t.TaxPayable)
		gross, err3 := decimal.NewFromString(t.GrossTotal)
		if err1 != nil || err2 != nil || err3 != nil {
			res.AddError(CodeTotalsMath, fmt.Sprintf("%s.Invoice[%d]", name, i), fmt.Sprintf("invoice %s has unreadable totals", inv.InvoiceNo))
			continue
		}
		if net.Add(tax).Sub(gross).Abs().GreaterThan(vatTolerance) {
			res.addWarning(CodeTotalsMath, fmt.Sprintf("%s.Invoice[%d]", name, i),
				fmt.Sprintf("invoice %s: net %s + tax %s != gross %s", inv.InvoiceNo, t.NetTotal, t.TaxPayable, t.GrossTotal))
		}
	}
}
