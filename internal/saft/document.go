package saft

import "encoding/xml"

// Element names carry the n1 prefix literally; encoding/xml writes them
// verbatim when no namespace is set on the name.

type AuditFile struct {
	XMLName              xml.Name             `xml:"n1:AuditFile"`
	XmlnsN1              string               `xml:"xmlns:n1,attr"`
	XmlnsXSI             string               `xml:"xmlns:xsi,attr"`
	SchemaLocation       string               `xml:"xsi:schemaLocation,attr"`
	Header               Header               `xml:"n1:Header"`
	MasterFiles          MasterFiles          `xml:"n1:MasterFiles"`
	GeneralLedgerEntries GeneralLedgerEntries `xml:"n1:GeneralLedgerEntries"`
	SourceDocuments      SourceDocuments      `xml:"n1:SourceDocuments"`
}

type Header struct {
	AuditFileVersion     string            `xml:"n1:AuditFileVersion"`
	AuditFileCountry     string            `xml:"n1:AuditFileCountry"`
	AuditFileDateCreated string            `xml:"n1:AuditFileDateCreated"`
	SoftwareCompanyName  string            `xml:"n1:SoftwareCompanyName"`
	SoftwareID           string            `xml:"n1:SoftwareID"`
	SoftwareVersion      string            `xml:"n1:SoftwareVersion"`
	Company              Company           `xml:"n1:Company"`
	DefaultCurrencyCode  string            `xml:"n1:DefaultCurrencyCode"`
	SelectionCriteria    SelectionCriteria `xml:"n1:SelectionCriteria"`
	HeaderComment        string            `xml:"n1:HeaderComment,omitempty"`
	TaxAccountingBasis   string            `xml:"n1:TaxAccountingBasis"`
}

type Company struct {
	RegistrationNumber string          `xml:"n1:RegistrationNumber"`
	Name               string          `xml:"n1:Name"`
	Address            Address         `xml:"n1:Address"`
	Contact            *Contact        `xml:"n1:Contact,omitempty"`
	TaxRegistration    TaxRegistration `xml:"n1:TaxRegistration"`
	BankAccount        *BankAccount    `xml:"n1:BankAccount,omitempty"`
}

type Address struct {
	StreetName    string `xml:"n1:StreetName,omitempty"`
	City          string `xml:"n1:City,omitempty"`
	PostalCode    string `xml:"n1:PostalCode,omitempty"`
	Region        string `xml:"n1:Region,omitempty"`
	Country       string `xml:"n1:Country"`
	AddressDetail string `xml:"n1:AddressDetail,omitempty"`
}

type Contact struct {
	Telephone string `xml:"n1:Telephone,omitempty"`
	Email     string `xml:"n1:Email,omitempty"`
	Website   string `xml:"n1:Website,omitempty"`
}

type TaxRegistration struct {
	TaxRegistrationNumber string `xml:"n1:TaxRegistrationNumber"`
	TaxType               string `xml:"n1:TaxType"`
	TaxAuthority          string `xml:"n1:TaxAuthority"`
}

type BankAccount struct {
	IBANNumber      string `xml:"n1:IBANNumber"`
	BankAccountName string `xml:"n1:BankAccountName,omitempty"`
	CurrencyCode    string `xml:"n1:CurrencyCode"`
}

type SelectionCriteria struct {
	SelectionStartDate string `xml:"n1:SelectionStartDate"`
	SelectionEndDate   string `xml:"n1:SelectionEndDate"`
	PeriodStart        string `xml:"n1:PeriodStart"`
	PeriodEnd          string `xml:"n1:PeriodEnd"`
}

type MasterFiles struct {
	GeneralLedgerAccounts GeneralLedgerAccounts `xml:"n1:GeneralLedgerAccounts"`
	Customers             Customers             `xml:"n1:Customers"`
	Suppliers             Suppliers             `xml:"n1:Suppliers"`
	TaxTable              TaxTable              `xml:"n1:TaxTable"`
}

type GeneralLedgerAccounts struct {
	Account []Account `xml:"n1:Account"`
}

type Account struct {
	AccountID          string `xml:"n1:AccountID"`
	AccountDescription string `xml:"n1:AccountDescription"`
	StandardAccountID  string `xml:"n1:StandardAccountID"`
	AccountType        string `xml:"n1:AccountType"`
}

type Customers struct {
	NumberOfEntries int        `xml:"n1:NumberOfEntries"`
	Customer        []Customer `xml:"n1:Customer"`
}

type Customer struct {
	CustomerID           string  `xml:"n1:CustomerID"`
	AccountID            string  `xml:"n1:AccountID"`
	CustomerTaxID        string  `xml:"n1:CustomerTaxID"`
	CompanyName          string  `xml:"n1:CompanyName"`
	BillingAddress       Address `xml:"n1:BillingAddress"`
	SelfBillingIndicator string  `xml:"n1:SelfBillingIndicator"`
}

type Suppliers struct {
	NumberOfEntries int        `xml:"n1:NumberOfEntries"`
	Supplier        []Supplier `xml:"n1:Supplier"`
}

type Supplier struct {
	SupplierID           string  `xml:"n1:SupplierID"`
	AccountID            string  `xml:"n1:AccountID"`
	SupplierTaxID        string  `xml:"n1:SupplierTaxID"`
	CompanyName          string  `xml:"n1:CompanyName"`
	BillingAddress       Address `xml:"n1:BillingAddress"`
	SelfBillingIndicator string  `xml:"n1:SelfBillingIndicator"`
}

type TaxTable struct {
	TaxTableEntry []TaxTableEntry `xml:"n1:TaxTableEntry"`
}

type TaxTableEntry struct {
	TaxType        string         `xml:"n1:TaxType"`
	TaxCode        string         `xml:"n1:TaxCode"`
	TaxCodeDetails TaxCodeDetails `xml:"n1:TaxCodeDetails"`
}

type TaxCodeDetails struct {
	TaxCode         string `xml:"n1:TaxCode"`
	Description     string `xml:"n1:Description"`
	TaxPercentage   string `xml:"n1:TaxPercentage"`
	Country         string `xml:"n1:Country"`
	StandardTaxCode string `xml:"n1:StandardTaxCode"`
	BaseRate        string `xml:"n1:BaseRate"`
}

type GeneralLedgerEntries struct {
	NumberOfEntries int      `xml:"n1:NumberOfEntries"`
	TotalDebit      string   `xml:"n1:TotalDebit"`
	TotalCredit     string   `xml:"n1:TotalCredit"`
	Journal         *Journal `xml:"n1:Journal,omitempty"`
}

type Journal struct {
	JournalID   string        `xml:"n1:JournalID"`
	Description string        `xml:"n1:Description"`
	Type        string        `xml:"n1:Type"`
	Transaction []Transaction `xml:"n1:Transaction"`
}

type Transaction struct {
	TransactionID   string `xml:"n1:TransactionID"`
	JournalID       string `xml:"n1:JournalID"`
	Description     string `xml:"n1:Description"`
	TransactionDate string `xml:"n1:TransactionDate"`
	AccountID       string `xml:"n1:AccountID"`
	CustomerID      string `xml:"n1:CustomerID,omitempty"`
	SupplierID      string `xml:"n1:SupplierID,omitempty"`
	DebitAmount     Amount `xml:"n1:DebitAmount"`
	CreditAmount    Amount `xml:"n1:CreditAmount"`
}

type Amount struct {
	Amount       string `xml:"n1:Amount"`
	CurrencyCode string `xml:"n1:CurrencyCode,omitempty"`
}

type SourceDocuments struct {
	SalesInvoices    InvoiceSection `xml:"n1:SalesInvoices"`
	PurchaseInvoices InvoiceSection `xml:"n1:PurchaseInvoices"`
	Payments         PaymentSection `xml:"n1:Payments"`
}

type InvoiceSection struct {
	NumberOfEntries int            `xml:"n1:NumberOfEntries"`
	TotalDebit      string         `xml:"n1:TotalDebit"`
	TotalCredit     string         `xml:"n1:TotalCredit"`
	Invoice         []InvoiceEntry `xml:"n1:Invoice"`
}

type InvoiceEntry struct {
	InvoiceNo       string         `xml:"n1:InvoiceNo"`
	CustomerInfo    *CustomerInfo  `xml:"n1:CustomerInfo,omitempty"`
	SupplierInfo    *SupplierInfo  `xml:"n1:SupplierInfo,omitempty"`
	Period          string         `xml:"n1:Period"`
	InvoiceDate     string         `xml:"n1:InvoiceDate"`
	InvoiceType     string         `xml:"n1:InvoiceType"`
	SourceID        string         `xml:"n1:SourceID"`
	GLPostingDate   string         `xml:"n1:GLPostingDate"`
	TransactionID   string         `xml:"n1:TransactionID"`
	SystemEntryDate string         `xml:"n1:SystemEntryDate"`
	Line            Line           `xml:"n1:Line"`
	DocumentTotals  DocumentTotals `xml:"n1:DocumentTotals"`
}

type CustomerInfo struct {
	CustomerID     string  `xml:"n1:CustomerID"`
	BillingAddress Address `xml:"n1:BillingAddress"`
}

type SupplierInfo struct {
	SupplierID     string  `xml:"n1:SupplierID"`
	BillingAddress Address `xml:"n1:BillingAddress"`
}

type Line struct {
	LineNumber         int     `xml:"n1:LineNumber"`
	AccountID          string  `xml:"n1:AccountID"`
	ProductDescription string  `xml:"n1:ProductDescription"`
	Quantity           string  `xml:"n1:Quantity"`
	UnitOfMeasure      string  `xml:"n1:UnitOfMeasure"`
	UnitPrice          string  `xml:"n1:UnitPrice"`
	TaxPointDate       string  `xml:"n1:TaxPointDate"`
	DebitAmount        *Amount `xml:"n1:DebitAmount,omitempty"`
	CreditAmount       *Amount `xml:"n1:CreditAmount,omitempty"`
	Tax                LineTax `xml:"n1:Tax"`
}

type LineTax struct {
	TaxType       string `xml:"n1:TaxType"`
	TaxCode       string `xml:"n1:TaxCode"`
	TaxPercentage string `xml:"n1:TaxPercentage"`
	TaxBase       string `xml:"n1:TaxBase"`
	TaxAmount     Amount `xml:"n1:TaxAmount"`
}

type DocumentTotals struct {
	TaxPayable string   `xml:"n1:TaxPayable"`
	NetTotal   string   `xml:"n1:NetTotal"`
	GrossTotal string   `xml:"n1:GrossTotal"`
	Currency   Currency `xml:"n1:Currency"`
}

type Currency struct {
	CurrencyCode   string `xml:"n1:CurrencyCode"`
	CurrencyAmount string `xml:"n1:CurrencyAmount,omitempty"`
	ExchangeRate   string `xml:"n1:ExchangeRate,omitempty"`
}

type PaymentSection struct {
	NumberOfEntries int            `xml:"n1:NumberOfEntries"`
	TotalDebit      string         `xml:"n1:TotalDebit"`
	TotalCredit     string         `xml:"n1:TotalCredit"`
	Payment         []PaymentEntry `xml:"n1:Payment"`
}

type PaymentEntry struct {
	PaymentRefNo    string         `xml:"n1:PaymentRefNo"`
	Period          string         `xml:"n1:Period"`
	TransactionID   string         `xml:"n1:TransactionID"`
	TransactionDate string         `xml:"n1:TransactionDate"`
	PaymentType     string         `xml:"n1:PaymentType"`
	Description     string         `xml:"n1:Description,omitempty"`
	SystemID        string         `xml:"n1:SystemID,omitempty"`
	Line            PaymentLine    `xml:"n1:Line"`
	DocumentTotals  DocumentTotals `xml:"n1:DocumentTotals"`
}

type PaymentLine struct {
	LineNumber       int    `xml:"n1:LineNumber"`
	AccountID        string `xml:"n1:AccountID"`
	SourceDocumentID string `xml:"n1:SourceDocumentID,omitempty"`
	DebitAmount      Amount `xml:"n1:DebitAmount"`
}
