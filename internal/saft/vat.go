package saft

import "github.com/shopspring/decimal"

// VAT codes used in the tax table and on invoice lines.
const (
	VATStandard = "S"
	VATReduced1 = "R1"
	VATReduced2 = "R2"
	VATZero     = "Z"
	VATExempt   = "E"
)

// vatBand maps an effective rate range to a tax code. Bounds are the ones
// the authority has accepted so far; do not "correct" them.
type vatBand struct {
	code        string
	nominal     string
	description string
	min, max    decimal.Decimal
	maxOpen     bool // max excluded
}

var vatBands = []vatBand{
	{code: VATZero, nominal: "0.00", description: "TVA 0% - export/intracomunitar", min: decimal.Zero, max: decimal.NewFromInt(1), maxOpen: true},
	{code: VATReduced2, nominal: "5.00", description: "TVA redus 5% - locuinte sociale", min: decimal.NewFromInt(4), max: decimal.NewFromInt(6)},
	{code: VATReduced1, nominal: "11.00", description: "TVA redus 11% - alimente/medicamente", min: decimal.NewFromInt(10), max: decimal.NewFromInt(12)},
	{code: VATStandard, nominal: "21.00", description: "TVA standard 21%", min: decimal.NewFromInt(20), max: decimal.NewFromInt(22)},
}

var hundred = decimal.NewFromInt(100)

// EffectiveVATRate returns |vat| / |net| * 100, or zero when net is zero.
func EffectiveVATRate(net, vat decimal.Decimal) decimal.Decimal {
	if net.IsZero() {
		return decimal.Zero
	}
	return vat.Abs().Div(net.Abs()).Mul(hundred)
}

// ClassifyVATRate returns the band code for rate and whether rate fell
// inside an explicit band. Rates outside every band are coded standard.
func ClassifyVATRate(rate decimal.Decimal) (string, bool) {
	for _, b := range vatBands {
		if rate.LessThan(b.min) {
			continue
		}
		if b.maxOpen && rate.LessThan(b.max) || !b.maxOpen && rate.LessThanOrEqual(b.max) {
			return b.code, true
		}
	}
	return VATStandard, false
}

// InferVATCode picks the invoice line tax code: the explicit code when set,
// otherwise the band of the effective rate.
func InferVATCode(explicit string, net, vat decimal.Decimal) string {
	if explicit != "" {
		return explicit
	}
	code, _ := ClassifyVATRate(EffectiveVATRate(net, vat))
	return code
}
