package saft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

func validInput() ValidationInput {
	company := testCompany()
	return ValidationInput{
		Company:   &company,
		Period:    MustPeriod("2025-01"),
		Sales:     []model.Invoice{salesInvoice("FV-001", "1000", "210")},
		Purchases: []model.Invoice{purchaseInvoice("FA-100", "2000", "420")},
		Now:       day(2025, 2, 3),
	}
}

func codes(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}

func TestValidTaxID(t *testing.T) {
	for _, ok := range []string{"12345674", "RO12345674", "ro 12345674"} {
		assert.True(t, ValidTaxID(ok), ok)
	}
	for _, bad := range []string{"", "1", "12345678", "RO", "12345674X", "12345678901"} {
		assert.False(t, ValidTaxID(bad), bad)
	}
}

func TestValidateCleanLedger(t *testing.T) {
	res := Validate(validInput())
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.True(t, res.Summary.VATBalance.Equal(d("-210")))
}

func TestValidateCompanyAndPeriod(t *testing.T) {
	in := validInput()
	in.Company = nil
	in.Period = Period{}
	res := Validate(in)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{CodeCompanyMissing, CodePeriodMalformed}, res.ErrorCodes())

	in = validInput()
	in.Company.TaxID = "RO12345678"
	in.Company.Name = " "
	in.Period = Period{Start: day(2025, 1, 31), End: day(2025, 1, 1)}
	res = Validate(in)
	assert.Equal(t, []string{CodeTaxIDInvalid, CodeCompanyNameMissing, CodePeriodOrder}, res.ErrorCodes())
}

func TestValidateInvoices(t *testing.T) {
	in := validInput()
	in.Sales = nil
	in.Purchases = nil
	res := Validate(in)
	assert.Equal(t, []string{CodeNoInvoices}, res.ErrorCodes())

	in = validInput()
	zero := salesInvoice("FV-002", "0", "0")
	dup := salesInvoice("FV-001", "100", "21")
	dup.PartnerTaxID = ""
	mismatch := salesInvoice("FV-003", "100", "21")
	mismatch.VAT = d("21.50")
	odd := salesInvoice("FV-004", "100", "15")
	in.Sales = append(in.Sales, zero, dup, mismatch, odd)
	// same number on the other side is fine
	in.Purchases = append(in.Purchases, purchaseInvoice("FV-001", "10", "2.10"))

	res = Validate(in)
	assert.Equal(t, []string{CodeNonPositiveTotal, CodeDuplicateNumber}, res.ErrorCodes())
	assert.Equal(t, []string{CodePartnerTaxIDMissing, CodeVATMismatch, CodeVATRateUnbanded}, codes(res.Warnings))
}

func TestValidateCreditNoteMayBeNegative(t *testing.T) {
	in := validInput()
	credit := salesInvoice("FV-002", "-100", "-21")
	credit.DocumentType = model.DocumentCreditNote
	in.Sales = append(in.Sales, credit)

	res := Validate(in)
	assert.True(t, res.Valid, "%+v", res.Errors)
}

func TestValidateSequenceGap(t *testing.T) {
	in := validInput()
	in.Sales = []model.Invoice{
		salesInvoice("FV-001", "100", "21"),
		salesInvoice("FV-005", "100", "21"),
		salesInvoice("FV-002", "100", "21"),
	}
	res := Validate(in)
	require.Equal(t, []string{CodeSequenceGap}, codes(res.Warnings))
	assert.Contains(t, res.Warnings[0].Message, "between 2 and 5")
	assert.NotContains(t, res.Warnings[0].Message, "between 1 and 2")
}

func TestValidateMovements(t *testing.T) {
	in := validInput()
	end := day(2025, 2, 1)
	in.Movements = []model.GoodsMovement{
		{NCCode: "22083000", WeightKg: d("100"), Value: d("2000"), StartDate: day(2025, 2, 2), EndDate: &end},
		{NCCode: "8471", WeightKg: d("50"), Value: d("500"), StartDate: day(2025, 2, 10)},
	}
	res := Validate(in)
	assert.Equal(t, []string{CodeMovementDates}, res.ErrorCodes())
	assert.Equal(t, []string{CodeHighRiskNC, CodeMovementInPast, CodeBelowThreshold}, codes(res.Warnings))

	in.Movements = []model.GoodsMovement{
		{NCCode: "84X1", WeightKg: d("900"), Value: d("500"), StartDate: day(2025, 2, 3)},
	}
	res = Validate(in)
	assert.Equal(t, []string{CodeNCCodeInvalid}, res.ErrorCodes())
	assert.Empty(t, res.Warnings)
}

func TestValidateIsRepeatable(t *testing.T) {
	in := validInput()
	in.Sales = append(in.Sales, salesInvoice("FV-007", "100", "15"))
	in.Movements = []model.GoodsMovement{{NCCode: "2710", WeightKg: d("1"), Value: d("1"), StartDate: time.Time{}}}

	first := Validate(in)
	second := Validate(in)
	assert.Equal(t, first.ErrorCodes(), second.ErrorCodes())
	assert.Equal(t, codes(first.Warnings), codes(second.Warnings))
}
