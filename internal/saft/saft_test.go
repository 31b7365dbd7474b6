package saft

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func testCompany() model.CompanyProfile {
	return model.CompanyProfile{
		TaxID:   "RO12345674",
		Name:    "Exemplu SRL",
		Address: "Str. Lunga 1",
		City:    "Cluj-Napoca",
		County:  "Cluj",
		IBAN:    "RO49AAAA1B31007593840000",
	}
}

func salesInvoice(number, net, vat string) model.Invoice {
	n, v := d(net), d(vat)
	return model.Invoice{
		Direction:    model.DirectionSales,
		Number:       number,
		IssueDate:    day(2025, 1, 10),
		PartnerTaxID: "RO1234567",
		PartnerName:  "Client SRL",
		Net:          n,
		VAT:          v,
		Gross:        n.Add(v),
		Currency:     "RON",
		Description:  "Servicii",
		DocumentType: model.DocumentInvoice,
	}
}

func purchaseInvoice(number, net, vat string) model.Invoice {
	inv := salesInvoice(number, net, vat)
	inv.Direction = model.DirectionPurchase
	inv.PartnerTaxID = "RO7654321"
	inv.PartnerName = "Furnizor SRL"
	return inv
}

func scenarioInput() Input {
	return Input{
		Company:   testCompany(),
		Period:    MustPeriod("2025-01"),
		Sales:     []model.Invoice{salesInvoice("FV-001", "1000", "210")},
		Purchases: []model.Invoice{purchaseInvoice("FA-100", "2000", "420")},
		Payments: []model.Payment{
			{ID: "p1", Reference: "OP-1", Date: day(2025, 1, 15), Amount: d("1210"), Method: model.PaymentTransfer},
		},
		CreatedAt: time.Date(2025, 2, 3, 9, 30, 0, 0, time.UTC),
	}
}

func TestRoundingAndFormatting(t *testing.T) {
	assert.Equal(t, "2.35", FormatAmount(d("2.345")))
	assert.Equal(t, "-2.35", FormatAmount(d("-2.345")))
	assert.Equal(t, "10.00", FormatAmount(d("10")))
	assert.True(t, Round2(d("0.005")).Equal(d("0.01")))

	bucharest := time.FixedZone("EET", 2*3600)
	assert.Equal(t, "2025-01-01", FormatDate(time.Date(2025, 1, 1, 0, 0, 0, 0, bucharest)))
	assert.Equal(t, "", FormatDate(time.Time{}))
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2024-02")
	require.NoError(t, err)
	assert.Equal(t, day(2024, 2, 1), p.Start)
	assert.Equal(t, day(2024, 2, 29), p.End)
	assert.Equal(t, "2024-02", p.String())
	assert.Equal(t, "2024-03", p.Next().String())

	for _, bad := range []string{"", "2024", "2024-13", "24-01", "2024/01"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestClassifyVATRate(t *testing.T) {
	cases := []struct {
		rate   string
		code   string
		banded bool
	}{
		{"0", VATZero, true},
		{"0.99", VATZero, true},
		{"1", VATStandard, false},
		{"4", VATReduced2, true},
		{"5", VATReduced2, true},
		{"6", VATReduced2, true},
		{"9", VATStandard, false},
		{"11", VATReduced1, true},
		{"12", VATReduced1, true},
		{"19", VATStandard, false},
		{"21", VATStandard, true},
		{"22", VATStandard, true},
		{"24", VATStandard, false},
	}
	for _, tc := range cases {
		code, banded := ClassifyVATRate(d(tc.rate))
		assert.Equal(t, tc.code, code, "rate %s", tc.rate)
		assert.Equal(t, tc.banded, banded, "rate %s", tc.rate)
	}

	assert.Equal(t, VATReduced1, InferVATCode("", d("100"), d("11")))
	assert.Equal(t, VATExempt, InferVATCode(VATExempt, d("100"), d("0")))
	assert.Equal(t, VATStandard, InferVATCode("", d("-1000"), d("-210")))
}

func TestRenderIsDeterministic(t *testing.T) {
	first, err := Render(scenarioInput())
	require.NoError(t, err)
	second, err := Render(scenarioInput())
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first.XML, second.XML))
	assert.Equal(t, first.Hash, second.Hash)
	assert.Len(t, first.Hash, 64)
	assert.Equal(t, int64(len(first.XML)), first.Size)
}

func TestRenderScenarioTotals(t *testing.T) {
	doc, err := Render(scenarioInput())
	require.NoError(t, err)

	s := doc.Summary
	assert.True(t, s.TotalSales.Equal(d("1210")), s.TotalSales.String())
	assert.True(t, s.TotalPurchases.Equal(d("2420")), s.TotalPurchases.String())
	assert.True(t, s.TotalVATCollected.Equal(d("210")))
	assert.True(t, s.TotalVATDeductible.Equal(d("420")))
	assert.True(t, s.VATBalance.Equal(d("-210")))
	assert.Equal(t, 2, s.InvoicesCount)
	assert.Equal(t, 1, s.CustomersCount)
	assert.Equal(t, 1, s.SuppliersCount)

	xmlText := string(doc.XML)
	assert.True(t, strings.HasPrefix(xmlText, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, xmlText, `<n1:AuditFile xmlns:n1="urn:OECD:StandardAuditFile-Taxation/RO_2.0"`)
	assert.Contains(t, xmlText, "<n1:AuditFileDateCreated>2025-02-03</n1:AuditFileDateCreated>")
	assert.Contains(t, xmlText, "<n1:SelectionStartDate>2025-01-01</n1:SelectionStartDate>")
	assert.Contains(t, xmlText, "<n1:SelectionEndDate>2025-01-31</n1:SelectionEndDate>")
	assert.Contains(t, xmlText, "<n1:TotalCredit>1210.00</n1:TotalCredit>")
	assert.Contains(t, xmlText, "<n1:TotalDebit>2420.00</n1:TotalDebit>")
	assert.Contains(t, xmlText, "<n1:PaymentType>TB</n1:PaymentType>")
	assert.Contains(t, xmlText, "<n1:InvoiceType>FT</n1:InvoiceType>")

	check := CheckDocument(doc.XML)
	assert.True(t, check.Valid, "%+v", check.Errors)
	assert.Empty(t, check.Warnings)
}

func TestBuildReusesRoundedTotals(t *testing.T) {
	in := scenarioInput()
	in.Sales = []model.Invoice{
		salesInvoice("FV-001", "0.004", "0.001"),
		salesInvoice("FV-002", "0.004", "0.001"),
		salesInvoice("FV-003", "0.004", "0.001"),
	}
	in.Purchases = []model.Invoice{
		purchaseInvoice("FA-100", "0.004", "0.001"),
		purchaseInvoice("FA-101", "0.004", "0.001"),
		purchaseInvoice("FA-102", "0.004", "0.001"),
	}

	file, summary := Build(in)
	assert.True(t, summary.TotalSales.Equal(d("0.02")), summary.TotalSales.String())
	assert.True(t, summary.TotalPurchases.Equal(d("0.02")), summary.TotalPurchases.String())

	gl := file.GeneralLedgerEntries
	assert.Equal(t, "0.02", gl.TotalCredit)
	assert.Equal(t, "0.02", gl.TotalDebit)
	assert.Equal(t, gl.TotalCredit, file.SourceDocuments.SalesInvoices.TotalCredit)
	assert.Equal(t, gl.TotalDebit, file.SourceDocuments.PurchaseInvoices.TotalDebit)
	require.NotNil(t, gl.Journal)
	assert.Equal(t, "0.01", gl.Journal.Transaction[0].CreditAmount.Amount)
}

func TestBuildDeduplicatesPartners(t *testing.T) {
	in := scenarioInput()
	second := salesInvoice("FV-002", "50", "10.50")
	anonymous := salesInvoice("FV-003", "50", "10.50")
	anonymous.PartnerTaxID = ""
	in.Sales = append(in.Sales, second, anonymous)

	file, summary := Build(in)
	assert.Equal(t, 1, file.MasterFiles.Customers.NumberOfEntries)
	assert.Len(t, file.MasterFiles.Customers.Customer, 1)
	assert.Equal(t, 1, summary.CustomersCount)
	assert.Equal(t, 3, file.SourceDocuments.SalesInvoices.NumberOfEntries)
	assert.Equal(t, "1331.00", file.SourceDocuments.SalesInvoices.TotalCredit)
	assert.Len(t, file.MasterFiles.TaxTable.TaxTableEntry, 5)
}

func TestBuildCodesDocumentTypes(t *testing.T) {
	in := scenarioInput()
	credit := salesInvoice("NC-001", "-100", "-21")
	credit.DocumentType = model.DocumentCreditNote
	reduced := salesInvoice("FV-009", "100", "5")
	in.Sales = append(in.Sales, credit, reduced)

	file, _ := Build(in)
	entries := file.SourceDocuments.SalesInvoices.Invoice
	require.Len(t, entries, 3)
	assert.Equal(t, "NC", entries[1].InvoiceType)
	assert.Equal(t, VATStandard, entries[1].Line.Tax.TaxCode)
	assert.Equal(t, "-121.00", entries[1].DocumentTotals.GrossTotal)
	assert.Equal(t, VATReduced2, entries[2].Line.Tax.TaxCode)
	assert.NotNil(t, entries[0].CustomerInfo)
	assert.Nil(t, entries[0].SupplierInfo)
	assert.Equal(t, "Factura vanzare FV-001", file.GeneralLedgerEntries.Journal.Transaction[0].Description)
}

func TestCheckSize(t *testing.T) {
	assert.NoError(t, CheckSize(MaxDocumentSize))
	err := CheckSize(MaxDocumentSize + 1)
	assert.True(t, errors.Is(err, errs.ErrOversizeDocument))
}

func TestCheckDocumentFindsStructuralProblems(t *testing.T) {
	res := CheckDocument([]byte("<n1:AuditFile"))
	assert.Equal(t, []string{CodeXMLMalformed}, res.ErrorCodes())

	res = CheckDocument([]byte(`<Other/>`))
	assert.Equal(t, []string{CodeRootMissing}, res.ErrorCodes())

	res = CheckDocument([]byte(`<AuditFile/>`))
	assert.Equal(t, []string{CodeHeaderMissing}, res.ErrorCodes())

	broken := `<n1:AuditFile xmlns:n1="urn:x">
  <n1:Header>
    <n1:AuditFileCountry>HU</n1:AuditFileCountry>
    <n1:SelectionCriteria>
      <n1:SelectionStartDate>2025-01-31</n1:SelectionStartDate>
      <n1:SelectionEndDate>2025-01-01</n1:SelectionEndDate>
    </n1:SelectionCriteria>
  </n1:Header>
  <n1:SourceDocuments>
    <n1:SalesInvoices>
      <n1:NumberOfEntries>2</n1:NumberOfEntries>
      <n1:Invoice>
        <n1:InvoiceNo>FV-1</n1:InvoiceNo>
        <n1:DocumentTotals>
          <n1:TaxPayable>19.00</n1:TaxPayable>
          <n1:NetTotal>100.00</n1:NetTotal>
          <n1:GrossTotal>121.00</n1:GrossTotal>
        </n1:DocumentTotals>
      </n1:Invoice>
    </n1:SalesInvoices>
  </n1:SourceDocuments>
</n1:AuditFile>`
	res = CheckDocument([]byte(broken))
	assert.False(t, res.Valid)
	assert.ElementsMatch(t, []string{CodeHeaderCountry, CodeSelectionOrder, CodeSalesCount}, res.ErrorCodes())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeTotalsMath, res.Warnings[0].Code)
}
