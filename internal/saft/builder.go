// Package saft builds, validates and self-checks the D406 SAF-T audit file
// for a company and reporting month.
package saft

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

const (
	Namespace      = "urn:OECD:StandardAuditFile-Taxation/RO_2.0"
	schemaLocation = Namespace + " Ro_SAFT_Schema_v2.4.9.xsd"
	xsiNamespace   = "http://www.w3.org/2001/XMLSchema-instance"

	// MaxDocumentSize is the authority's upload ceiling.
	MaxDocumentSize int64 = 500 << 20

	auditFileVersion = "2.0"
	defaultCurrency  = "RON"
	countryCode      = "RO"
)

// Software identifies the producing application in the header.
type Software struct {
	CompanyName string
	ID          string
	Version     string
}

// DefaultSoftware is used when Input.Software is zero.
var DefaultSoftware = Software{CompanyName: "Teresa Solution", ID: "fiscal-compliance-service", Version: "1.0.0"}

// Input is everything the builder needs. CreatedAt is stamped into the
// header; identical inputs render identical bytes.
type Input struct {
	Company   model.CompanyProfile
	Period    Period
	Sales     []model.Invoice
	Purchases []model.Invoice
	Payments  []model.Payment
	CreatedAt time.Time
	Software  Software
}

// Rendered is a serialized audit file.
type Rendered struct {
	XML     []byte
	Hash    string
	Size    int64
	Summary Summary
}

// Render builds and serializes the audit file.
func Render(in Input) (*Rendered, error) {
	file, summary := Build(in)
	data, err := Marshal(file)
	if err != nil {
		return nil, err
	}
	return &Rendered{
		XML:     data,
		Hash:    Hash(data),
		Size:    int64(len(data)),
		Summary: summary,
	}, nil
}

// Marshal serializes an audit file with the XML declaration.
func Marshal(file *AuditFile) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(file); err != nil {
		return nil, fmt.Errorf("encode audit file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode audit file: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Hash returns the lowercase hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CheckSize rejects documents above MaxDocumentSize.
func CheckSize(size int64) error {
	if size > MaxDocumentSize {
		return fmt.Errorf("%w: %d bytes, limit %d", errs.ErrOversizeDocument, size, MaxDocumentSize)
	}
	return nil
}

// Build assembles the document tree and the period summary.
func Build(in Input) (*AuditFile, Summary) {
	sw := in.Software
	if sw == (Software{}) {
		sw = DefaultSoftware
	}
	summary := Summarize(in.Sales, in.Purchases)
	customers, suppliers := partners(in.Sales, in.Purchases)

	file := &AuditFile{
		XmlnsN1:        Namespace,
		XmlnsXSI:       xsiNamespace,
		SchemaLocation: schemaLocation,
		Header:         buildHeader(in, sw),
		MasterFiles: MasterFiles{
			GeneralLedgerAccounts: GeneralLedgerAccounts{Account: chartOfAccounts()},
			Customers:             Customers{NumberOfEntries: len(customers), Customer: customers},
			Suppliers:             Suppliers{NumberOfEntries: len(suppliers), Supplier: suppliers},
			TaxTable:              TaxTable{TaxTableEntry: taxTable()},
		},
		GeneralLedgerEntries: buildLedgerEntries(in, summary),
		SourceDocuments: SourceDocuments{
			SalesInvoices: InvoiceSection{
				NumberOfEntries: len(in.Sales),
				TotalDebit:      FormatAmount(decimal.Zero),
				TotalCredit:     FormatAmount(summary.TotalSales),
				Invoice:         invoiceEntries(in.Sales, model.DirectionSales, in.CreatedAt),
			},
			PurchaseInvoices: InvoiceSection{
				NumberOfEntries: len(in.Purchases),
				TotalDebit:      FormatAmount(summary.TotalPurchases),
				TotalCredit:     FormatAmount(decimal.Zero),
				Invoice:         invoiceEntries(in.Purchases, model.DirectionPurchase, in.CreatedAt),
			},
			Payments: buildPayments(in.Payments),
		},
	}
	return file, summary
}

func buildHeader(in Input, sw Software) Header {
	c := in.Company
	h := Header{
		AuditFileVersion:     auditFileVersion,
		AuditFileCountry:     countryCode,
		AuditFileDateCreated: FormatDate(in.CreatedAt),
		SoftwareCompanyName:  sw.CompanyName,
		SoftwareID:           sw.ID,
		SoftwareVersion:      sw.Version,
		Company: Company{
			RegistrationNumber: c.TaxID,
			Name:               c.Name,
			Address: Address{
				StreetName: c.Address,
				City:       c.City,
				PostalCode: c.PostalCode,
				Region:     c.County,
				Country:    countryCode,
			},
			TaxRegistration: TaxRegistration{
				TaxRegistrationNumber: c.TaxID,
				TaxType:               "TVA",
				TaxAuthority:          "ANAF",
			},
		},
		DefaultCurrencyCode: defaultCurrency,
		SelectionCriteria: SelectionCriteria{
			SelectionStartDate: FormatDate(in.Period.Start),
			SelectionEndDate:   FormatDate(in.Period.End),
			PeriodStart:        in.Period.String(),
			PeriodEnd:          in.Period.String(),
		},
		HeaderComment:      "D406 " + in.Period.String(),
		TaxAccountingBasis: "A",
	}
	if c.Phone != "" || c.Email != "" || c.Website != "" {
		h.Company.Contact = &Contact{Telephone: c.Phone, Email: c.Email, Website: c.Website}
	}
	if c.IBAN != "" {
		h.Company.BankAccount = &BankAccount{IBANNumber: c.IBAN, BankAccountName: c.BankName, CurrencyCode: defaultCurrency}
	}
	return h
}

var accounts = []struct{ id, description, kind string }{
	{"401", "Furnizori", "Liability"},
	{"4111", "Clienti", "Asset"},
	{"4423", "TVA de plata", "Liability"},
	{"4426", "TVA deductibila", "Asset"},
	{"4427", "TVA colectata", "Liability"},
	{"5121", "Conturi la banci in lei", "Asset"},
	{"5311", "Casa in lei", "Asset"},
	{"601", "Cheltuieli cu materiile prime", "Expense"},
	{"607", "Cheltuieli privind marfurile", "Expense"},
	{"628", "Alte cheltuieli cu serviciile executate de terti", "Expense"},
	{"641", "Cheltuieli cu salariile personalului", "Expense"},
	{"701", "Venituri din vanzarea produselor finite", "Revenue"},
	{"704", "Venituri din servicii prestate", "Revenue"},
	{"707", "Venituri din vanzarea marfurilor", "Revenue"},
}

func chartOfAccounts() []Account {
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, Account{
			AccountID:          a.id,
			AccountDescription: a.description,
			StandardAccountID:  a.id,
			AccountType:        a.kind,
		})
	}
	return out
}

func taxTable() []TaxTableEntry {
	entries := make([]TaxTableEntry, 0, len(vatBands)+1)
	add := func(code, description, pct string) {
		entries = append(entries, TaxTableEntry{
			TaxType: "TVA",
			TaxCode: code,
			TaxCodeDetails: TaxCodeDetails{
				TaxCode:         code,
				Description:     description,
				TaxPercentage:   pct,
				Country:         countryCode,
				StandardTaxCode: code,
				BaseRate:        pct,
			},
		})
	}
	for _, code := range []string{VATStandard, VATReduced1, VATReduced2, VATZero} {
		for _, b := range vatBands {
			if b.code == code {
				add(b.code, b.description, b.nominal)
			}
		}
	}
	add(VATExempt, "Scutit de TVA", "0.00")
	return entries
}

// partners returns the distinct customers and suppliers in first-seen
// order. Invoices without a partner tax id contribute no master record.
func partners(sales, purchases []model.Invoice) ([]Customer, []Supplier) {
	var customers []Customer
	seen := make(map[string]bool)
	for _, inv := range sales {
		if inv.PartnerTaxID == "" || seen[inv.PartnerTaxID] {
			continue
		}
		seen[inv.PartnerTaxID] = true
		customers = append(customers, Customer{
			CustomerID:           inv.PartnerTaxID,
			AccountID:            "4111",
			CustomerTaxID:        inv.PartnerTaxID,
			CompanyName:          inv.PartnerName,
			BillingAddress:       partnerAddress(inv),
			SelfBillingIndicator: "N",
		})
	}

	var suppliers []Supplier
	seen = make(map[string]bool)
	for _, inv := range purchases {
		if inv.PartnerTaxID == "" || seen[inv.PartnerTaxID] {
			continue
		}
		seen[inv.PartnerTaxID] = true
		suppliers = append(suppliers, Supplier{
			SupplierID:           inv.PartnerTaxID,
			AccountID:            "401",
			SupplierTaxID:        inv.PartnerTaxID,
			CompanyName:          inv.PartnerName,
			BillingAddress:       partnerAddress(inv),
			SelfBillingIndicator: "N",
		})
	}
	return customers, suppliers
}

func partnerAddress(inv model.Invoice) Address {
	return Address{AddressDetail: inv.PartnerAddress, Country: countryCode}
}

// buildLedgerEntries books one transaction per invoice. The section totals
// are the summary figures, not a sum of the rounded lines.
func buildLedgerEntries(in Input, summary Summary) GeneralLedgerEntries {
	var txs []Transaction

	for _, inv := range in.Sales {
		amount := Round2(inv.Gross)
		txs = append(txs, Transaction{
			TransactionID:   "S-" + inv.Number,
			JournalID:       "VJ",
			Description:     "Factura vanzare " + inv.Number,
			TransactionDate: FormatDate(inv.IssueDate),
			AccountID:       "4111",
			CustomerID:      inv.PartnerTaxID,
			DebitAmount:     Amount{Amount: FormatAmount(decimal.Zero)},
			CreditAmount:    Amount{Amount: FormatAmount(amount)},
		})
	}
	for _, inv := range in.Purchases {
		amount := Round2(inv.Gross)
		txs = append(txs, Transaction{
			TransactionID:   "P-" + inv.Number,
			JournalID:       "PJ",
			Description:     "Factura achizitie " + inv.Number,
			TransactionDate: FormatDate(inv.IssueDate),
			AccountID:       "401",
			SupplierID:      inv.PartnerTaxID,
			DebitAmount:     Amount{Amount: FormatAmount(amount)},
			CreditAmount:    Amount{Amount: FormatAmount(decimal.Zero)},
		})
	}

	entries := GeneralLedgerEntries{
		NumberOfEntries: len(txs),
		TotalDebit:      FormatAmount(summary.TotalPurchases),
		TotalCredit:     FormatAmount(summary.TotalSales),
	}
	if len(txs) > 0 {
		entries.Journal = &Journal{
			JournalID:   "GJ",
			Description: "Jurnal general " + in.Period.String(),
			Type:        "GL",
			Transaction: txs,
		}
	}
	return entries
}

func invoiceType(t model.DocumentType) string {
	switch t {
	case model.DocumentCreditNote:
		return "NC"
	case model.DocumentDebitNote:
		return "ND"
	case model.DocumentProforma:
		return "FP"
	}
	return "FT"
}

func currencyOf(c string) string {
	if c == "" {
		return defaultCurrency
	}
	return c
}

func invoiceEntries(invoices []model.Invoice, dir model.InvoiceDirection, createdAt time.Time) []InvoiceEntry {
	out := make([]InvoiceEntry, 0, len(invoices))
	for i, inv := range invoices {
		net, vat, gross := Round2(inv.Net), Round2(inv.VAT), Round2(inv.Gross)
		code := InferVATCode(inv.VATCode, inv.Net, inv.VAT)
		entered := inv.CreatedAt
		if entered.IsZero() {
			entered = createdAt
		}

		line := Line{
			LineNumber:         1,
			ProductDescription: inv.Description,
			Quantity:           "1",
			UnitOfMeasure:      "BUC",
			UnitPrice:          FormatAmount(net),
			TaxPointDate:       FormatDate(inv.IssueDate),
			Tax: LineTax{
				TaxType:       "TVA",
				TaxCode:       code,
				TaxPercentage: FormatAmount(EffectiveVATRate(inv.Net, inv.VAT)),
				TaxBase:       FormatAmount(net),
				TaxAmount:     Amount{Amount: FormatAmount(vat)},
			},
		}
		entry := InvoiceEntry{
			InvoiceNo:       inv.Number,
			Period:          inv.IssueDate.Format(periodLayout),
			InvoiceDate:     FormatDate(inv.IssueDate),
			InvoiceType:     invoiceType(inv.DocumentType),
			SourceID:        "SYSTEM",
			GLPostingDate:   FormatDate(inv.IssueDate),
			SystemEntryDate: FormatDate(entered),
			DocumentTotals: DocumentTotals{
				TaxPayable: FormatAmount(vat),
				NetTotal:   FormatAmount(net),
				GrossTotal: FormatAmount(gross),
				Currency:   Currency{CurrencyCode: currencyOf(inv.Currency), CurrencyAmount: FormatAmount(gross), ExchangeRate: "1.0000"},
			},
		}
		if dir == model.DirectionSales {
			entry.TransactionID = fmt.Sprintf("S-%d", i+1)
			entry.CustomerInfo = &CustomerInfo{CustomerID: inv.PartnerTaxID, BillingAddress: partnerAddress(inv)}
			line.AccountID = "707"
			line.CreditAmount = &Amount{Amount: FormatAmount(net)}
		} else {
			entry.TransactionID = fmt.Sprintf("P-%d", i+1)
			entry.SupplierInfo = &SupplierInfo{SupplierID: inv.PartnerTaxID, BillingAddress: partnerAddress(inv)}
			line.AccountID = "607"
			line.DebitAmount = &Amount{Amount: FormatAmount(net)}
		}
		entry.Line = line
		out = append(out, entry)
	}
	return out
}

func paymentType(m model.PaymentMethod) (string, string) {
	switch m {
	case model.PaymentCash:
		return "RC", "5311"
	case model.PaymentCard:
		return "CC", "5121"
	}
	return "TB", "5121"
}

func buildPayments(payments []model.Payment) PaymentSection {
	total := decimal.Zero
	entries := make([]PaymentEntry, 0, len(payments))
	for i, p := range payments {
		amount := Round2(p.Amount)
		total = total.Add(amount)
		kind, account := paymentType(p.Method)
		ref := p.Reference
		if ref == "" {
			ref = fmt.Sprintf("PAY-%d", i+1)
		}
		entries = append(entries, PaymentEntry{
			PaymentRefNo:    ref,
			Period:          p.Date.Format(periodLayout),
			TransactionID:   fmt.Sprintf("PAY-%d", i+1),
			TransactionDate: FormatDate(p.Date),
			PaymentType:     kind,
			Description:     p.Description,
			SystemID:        p.ID,
			Line: PaymentLine{
				LineNumber:       1,
				AccountID:        account,
				SourceDocumentID: p.InvoiceID,
				DebitAmount:      Amount{Amount: FormatAmount(amount)},
			},
			DocumentTotals: DocumentTotals{
				TaxPayable: FormatAmount(decimal.Zero),
				NetTotal:   FormatAmount(amount),
				GrossTotal: FormatAmount(amount),
				Currency:   Currency{CurrencyCode: currencyOf(p.Currency)},
			},
		})
	}
	return PaymentSection{
		NumberOfEntries: len(payments),
		TotalDebit:      FormatAmount(total),
		TotalCredit:     FormatAmount(decimal.Zero),
		Payment:         entries,
	}
}
