package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

// Ledger reads the accounting tables owned by the bookkeeping product.
// Amounts are selected as text and parsed to keep full precision.
func (p *Postgres) Ledger(ctx context.Context, tenantID string, from, to time.Time) (*model.Ledger, error) {
	out := &model.Ledger{}

	company, err := p.companyProfile(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read company profile: %w", err)
	}
	out.Company = company

	invoices, err := p.invoices(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("read invoices: %w", err)
	}
	for _, inv := range invoices {
		if inv.Direction == model.DirectionPurchase {
			out.Purchases = append(out.Purchases, inv)
		} else {
			out.Sales = append(out.Sales, inv)
		}
	}

	if out.Payments, err = p.payments(ctx, tenantID, from, to); err != nil {
		return nil, fmt.Errorf("read payments: %w", err)
	}
	if out.Movements, err = p.movements(ctx, tenantID, from, to); err != nil {
		return nil, fmt.Errorf("read goods movements: %w", err)
	}
	return out, nil
}

func (p *Postgres) companyProfile(ctx context.Context, tenantID string) (*model.CompanyProfile, error) {
	query := `SELECT tax_id, name, address, city, postal_code, county, phone, email, website, iban, bank_name
              FROM company_profiles WHERE tenant_id = $1`
	var c model.CompanyProfile
	err := p.pool.QueryRow(ctx, query, tenantID).Scan(&c.TaxID, &c.Name, &c.Address, &c.City, &c.PostalCode,
		&c.County, &c.Phone, &c.Email, &c.Website, &c.IBAN, &c.BankName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Postgres) invoices(ctx context.Context, tenantID string, from, to time.Time) ([]model.Invoice, error) {
	query := `SELECT id, direction, number, issue_date, partner_tax_id, partner_name, partner_address,
                     net_amount::text, vat_amount::text, gross_amount::text, currency, description,
                     vat_code, document_type, created_at
              FROM invoices
              WHERE tenant_id = $1 AND issue_date >= $2 AND issue_date < $3
              ORDER BY issue_date, number`
	rows, err := p.pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Invoice
	for rows.Next() {
		var (
			inv             model.Invoice
			net, vat, gross string
		)
		if err := rows.Scan(&inv.ID, &inv.Direction, &inv.Number, &inv.IssueDate, &inv.PartnerTaxID, &inv.PartnerName,
			&inv.PartnerAddress, &net, &vat, &gross, &inv.Currency, &inv.Description, &inv.VATCode,
			&inv.DocumentType, &inv.CreatedAt); err != nil {
			return nil, err
		}
		if inv.Net, err = decimal.NewFromString(net); err != nil {
			return nil, fmt.Errorf("invoice %s net: %w", inv.Number, err)
		}
		if inv.VAT, err = decimal.NewFromString(vat); err != nil {
			return nil, fmt.Errorf("invoice %s vat: %w", inv.Number, err)
		}
		if inv.Gross, err = decimal.NewFromString(gross); err != nil {
			return nil, fmt.Errorf("invoice %s gross: %w", inv.Number, err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (p *Postgres) payments(ctx context.Context, tenantID string, from, to time.Time) ([]model.Payment, error) {
	query := `SELECT id, invoice_id, reference, payment_date, amount::text, currency, method, description
              FROM payments
              WHERE tenant_id = $1 AND payment_date >= $2 AND payment_date < $3
              ORDER BY payment_date, reference`
	rows, err := p.pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Payment
	for rows.Next() {
		var (
			pay    model.Payment
			amount string
		)
		if err := rows.Scan(&pay.ID, &pay.InvoiceID, &pay.Reference, &pay.Date, &amount, &pay.Currency,
			&pay.Method, &pay.Description); err != nil {
			return nil, err
		}
		if pay.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("payment %s amount: %w", pay.Reference, err)
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}

func (p *Postgres) movements(ctx context.Context, tenantID string, from, to time.Time) ([]model.GoodsMovement, error) {
	query := `SELECT nc_code, description, weight_kg::text, value::text, start_date, end_date
              FROM goods_movements
              WHERE tenant_id = $1 AND start_date >= $2 AND start_date < $3
              ORDER BY start_date`
	rows, err := p.pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GoodsMovement
	for rows.Next() {
		var (
			mv            model.GoodsMovement
			weight, value string
		)
		if err := rows.Scan(&mv.NCCode, &mv.Description, &weight, &value, &mv.StartDate, &mv.EndDate); err != nil {
			return nil, err
		}
		if mv.WeightKg, err = decimal.NewFromString(weight); err != nil {
			return nil, fmt.Errorf("movement %s weight: %w", mv.NCCode, err)
		}
		if mv.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("movement %s value: %w", mv.NCCode, err)
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}
