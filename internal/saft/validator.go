package saft

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

// Blocking error codes.
const (
	CodeCompanyMissing     = "E001"
	CodeTaxIDInvalid       = "E002"
	CodeCompanyNameMissing = "E003"
	CodePeriodMalformed    = "E004"
	CodePeriodOrder        = "E005"
	CodeMovementDates      = "E006"
	CodeNCCodeInvalid      = "E007"
	CodeNoInvoices         = "E010"
	CodeNonPositiveTotal   = "E011"
	CodeDuplicateNumber    = "E012"
	CodeOversize           = "E100"
	CodeInternal           = "E999"
)

// Warning codes.
const (
	CodePartnerTaxIDMissing = "W001"
	CodeVATMismatch         = "W002"
	CodeVATRateUnbanded     = "W003"
	CodeSequenceGap         = "W020"
	CodeBelowThreshold      = "W030"
	CodeMovementInPast      = "W031"
	CodeHighRiskNC          = "W032"
)

// Issue is a single validation finding.
type Issue struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is valid iff Errors is empty.
type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
	Summary  Summary `json:"summary"`
}

// AddError appends a blocking issue and clears Valid.
func (r *ValidationResult) AddError(code, field, message string) {
	r.Errors = append(r.Errors, Issue{Code: code, Field: field, Message: message})
	r.Valid = false
}

func (r *ValidationResult) addWarning(code, field, message string) {
	r.Warnings = append(r.Warnings, Issue{Code: code, Field: field, Message: message})
}

// Merge appends other's issues to r.
func (r *ValidationResult) Merge(other ValidationResult) {
	for _, e := range other.Errors {
		r.AddError(e.Code, e.Field, e.Message)
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ErrorCodes lists the codes of the blocking issues in order.
func (r *ValidationResult) ErrorCodes() []string {
	codes := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		codes = append(codes, e.Code)
	}
	return codes
}

// ValidationInput is the ledger snapshot to check. Now anchors the
// "start date in the past" rule.
type ValidationInput struct {
	Company   *model.CompanyProfile
	Period    Period
	Sales     []model.Invoice
	Purchases []model.Invoice
	Movements []model.GoodsMovement
	Now       time.Time
}

var (
	vatTolerance     = decimal.RequireFromString("0.01")
	weightThreshold  = decimal.NewFromInt(500)
	valueThreshold   = decimal.NewFromInt(10000)
	ncCodePattern    = regexp.MustCompile(`^\d{4,10}$`)
	trailingDigits   = regexp.MustCompile(`(\d+)$`)
	highRiskNCPrefix = []string{"0201", "0701", "2208", "2402", "2710", "6101", "6401", "2523"}
)

// Validate checks a ledger snapshot for a reporting period. The result
// depends only on the input.
func Validate(in ValidationInput) ValidationResult {
	res := ValidationResult{Valid: true, Errors: []Issue{}, Warnings: []Issue{}}

	validateCompany(&res, in.Company)
	validatePeriod(&res, in.Period)

	if len(in.Sales)+len(in.Purchases) == 0 {
		res.AddError(CodeNoInvoices, "invoices", "no invoices found for the period")
	}
	validateInvoices(&res, "sales", in.Sales)
	validateInvoices(&res, "purchases", in.Purchases)
	checkSequence(&res, in.Sales)
	validateMovements(&res, in.Movements, in.Now)

	res.Summary = Summarize(in.Sales, in.Purchases)
	return res
}

func validateCompany(res *ValidationResult, c *model.CompanyProfile) {
	if c == nil {
		res.AddError(CodeCompanyMissing, "company", "company profile is missing")
		return
	}
	switch {
	case strings.TrimSpace(c.TaxID) == "":
		res.AddError(CodeTaxIDInvalid, "company.tax_id", "company tax id is missing")
	case !ValidTaxID(c.TaxID):
		res.AddError(CodeTaxIDInvalid, "company.tax_id", fmt.Sprintf("company tax id %q is malformed", c.TaxID))
	}
	if strings.TrimSpace(c.Name) == "" {
		res.AddError(CodeCompanyNameMissing, "company.name", "company name is missing")
	}
}

func validatePeriod(res *ValidationResult, p Period) {
	if p.Start.IsZero() || p.End.IsZero() {
		res.AddError(CodePeriodMalformed, "period", "reporting period is missing or malformed")
		return
	}
	if p.End.Before(p.Start) {
		res.AddError(CodePeriodOrder, "period", "reporting period ends before it starts")
	}
}

func validateInvoices(res *ValidationResult, direction string, invoices []model.Invoice) {
	seen := make(map[string]bool, len(invoices))
	for i, inv := range invoices {
		field := fmt.Sprintf("%s[%d]", direction, i)

		if inv.DocumentType == model.DocumentCreditNote {
			if inv.Gross.IsZero() {
				res.AddError(CodeNonPositiveTotal, field+".gross", fmt.Sprintf("invoice %s has a zero total", inv.Number))
			}
		} else if !inv.Gross.IsPositive() || !inv.Net.IsPositive() {
			res.AddError(CodeNonPositiveTotal, field+".gross", fmt.Sprintf("invoice %s has a non-positive total", inv.Number))
		}

		if seen[inv.Number] {
			res.AddError(CodeDuplicateNumber, field+".number", fmt.Sprintf("duplicate %s invoice number %s", direction, inv.Number))
		}
		seen[inv.Number] = true

		if strings.TrimSpace(inv.PartnerTaxID) == "" {
			res.addWarning(CodePartnerTaxIDMissing, field+".partner_tax_id", fmt.Sprintf("invoice %s has no partner tax id", inv.Number))
		}

		expected := inv.Gross.Sub(inv.Net)
		if inv.VAT.Sub(expected).Abs().GreaterThan(vatTolerance) {
			res.addWarning(CodeVATMismatch, field+".vat",
				fmt.Sprintf("invoice %s VAT %s differs from gross minus net %s", inv.Number, FormatAmount(inv.VAT), FormatAmount(expected)))
		}

		if !inv.Net.IsZero() {
			rate := EffectiveVATRate(inv.Net, inv.VAT)
			if _, banded := ClassifyVATRate(rate); !banded {
				res.addWarning(CodeVATRateUnbanded, field+".vat",
					fmt.Sprintf("invoice %s has a nonstandard VAT rate of %s%%", inv.Number, FormatAmount(rate)))
			}
		}
	}
}

// checkSequence reports gaps between consecutive trailing numbers of the
// sales invoice series.
func checkSequence(res *ValidationResult, sales []model.Invoice) {
	var nums []int
	for _, inv := range sales {
		m := trailingDigits.FindStringSubmatch(inv.Number)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for i := 1; i < len(nums); i++ {
		if nums[i]-nums[i-1] > 1 {
			res.addWarning(CodeSequenceGap, "sales",
				fmt.Sprintf("invoice numbering gap between %d and %d", nums[i-1], nums[i]))
		}
	}
}

func validateMovements(res *ValidationResult, movements []model.GoodsMovement, now time.Time) {
	if len(movements) == 0 {
		return
	}
	weight, value := decimal.Zero, decimal.Zero
	today := truncateDay(now)
	for i, mv := range movements {
		field := fmt.Sprintf("movements[%d]", i)
		weight = weight.Add(mv.WeightKg)
		value = value.Add(mv.Value)

		if !ncCodePattern.MatchString(mv.NCCode) {
			res.AddError(CodeNCCodeInvalid, field+".nc_code", fmt.Sprintf("NC code %q is invalid", mv.NCCode))
		} else if isHighRiskNC(mv.NCCode) {
			res.addWarning(CodeHighRiskNC, field+".nc_code", fmt.Sprintf("NC code %s is on the high fiscal risk list", mv.NCCode))
		}
		if !now.IsZero() && truncateDay(mv.StartDate).Before(today) {
			res.addWarning(CodeMovementInPast, field+".start_date", "transport start date is in the past")
		}
		if mv.EndDate != nil && mv.EndDate.Before(mv.StartDate) {
			res.AddError(CodeMovementDates, field+".end_date", "transport ends before it starts")
		}
	}
	if weight.LessThanOrEqual(weightThreshold) && value.LessThanOrEqual(valueThreshold) {
		res.addWarning(CodeBelowThreshold, "movements",
			fmt.Sprintf("goods total %s kg and %s RON are below the reporting thresholds", weight.String(), FormatAmount(value)))
	}
}

func isHighRiskNC(code string) bool {
	for _, p := range highRiskNCPrefix {
		if strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

const taxIDControlKey = "753217532"

// NormalizeTaxID strips blanks and the RO prefix, leaving the numeric code
// the authority expects in its cif parameters.
func NormalizeTaxID(raw string) string {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	return strings.TrimPrefix(s, "RO")
}

// ValidTaxID checks a Romanian fiscal code: optional RO prefix, 2 to 10
// digits, last digit a control digit over the key 753217532.
func ValidTaxID(raw string) bool {
	s := NormalizeTaxID(raw)
	if len(s) < 2 || len(s) > 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	body := strings.Repeat("0", 10-len(s)) + s[:len(s)-1]
	sum := 0
	for i := 0; i < len(taxIDControlKey); i++ {
		sum += int(body[i]-'0') * int(taxIDControlKey[i]-'0')
	}
	control := sum * 10 % 11
	if control == 10 {
		control = 0
	}
	return control == int(s[len(s)-1]-'0')
}
