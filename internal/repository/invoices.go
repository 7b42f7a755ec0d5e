package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docparser/internal/entity"
)

type InvoiceRepository interface {
	Create(ctx context.Context, inv *entity.Invoice) error
	Get(ctx context.Context, id string) (*entity.Invoice, error)
	GetByIndex(ctx context.Context, documentID string, invoiceIndex int) (*entity.Invoice, error)
	ListByDocument(ctx context.Context, documentID string) ([]*entity.Invoice, error)
}

type invoiceRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewInvoiceRepository(db *DB, logger *slog.Logger) InvoiceRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &invoiceRepo{db: db, logger: logger}
}

var invoiceSelect = []string{
	"id", "document_id", "invoice_index", "start_page", "end_page", "document_number",
	"reference_numbers_json", "issue_date", "supplier_name", "customer_name", "gross_amount",
	"currency", "json_path", "result_json", "created_at",
}

func (r *invoiceRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = time.Now().UTC()
	refs := inv.ReferenceNumbers
	if refs == nil {
		refs = []string{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("encode reference numbers: %w", err)
	}
	var result any
	if len(inv.ResultJSON) > 0 {
		result = string(inv.ResultJSON)
	}

	q, args := r.db.builder().Insert(invoicesTable).
		Columns(invoiceSelect...).
		Values(inv.ID, inv.DocumentID, inv.InvoiceIndex, inv.StartPage, inv.EndPage,
			nullable(inv.DocumentNumber), string(refsJSON), nullable(inv.IssueDate),
			nullable(inv.SupplierName), nullable(inv.CustomerName), nullable(inv.GrossAmount),
			nullable(inv.Currency), nullable(inv.JSONPath), result, inv.CreatedAt).
		Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("failed to create invoice", "document_id", inv.DocumentID, "index", inv.InvoiceIndex, "error", err)
		return fmt.Errorf("create invoice: %w", err)
	}
	r.logger.Debug("invoice created", "invoice_id", inv.ID, "document_id", inv.DocumentID, "index", inv.InvoiceIndex)
	return nil
}

func (r *invoiceRepo) Get(ctx context.Context, id string) (*entity.Invoice, error) {
	invs, err := r.find(ctx, entsql.EQ("id", id))
	if err != nil {
		return nil, err
	}
	if len(invs) == 0 {
		return nil, notFound("invoice", id)
	}
	return invs[0], nil
}

func (r *invoiceRepo) GetByIndex(ctx context.Context, documentID string, invoiceIndex int) (*entity.Invoice, error) {
	invs, err := r.find(ctx, entsql.And(entsql.EQ("document_id", documentID), entsql.EQ("invoice_index", invoiceIndex)))
	if err != nil {
		return nil, err
	}
	if len(invs) == 0 {
		return nil, notFound("invoice", fmt.Sprintf("%s/%d", documentID, invoiceIndex))
	}
	return invs[0], nil
}

func (r *invoiceRepo) ListByDocument(ctx context.Context, documentID string) ([]*entity.Invoice, error) {
	return r.find(ctx, entsql.EQ("document_id", documentID))
}

func (r *invoiceRepo) find(ctx context.Context, where *entsql.Predicate) ([]*entity.Invoice, error) {
	b := r.db.builder()
	sel := b.Select(invoiceSelect...).From(b.Table(invoicesTable)).Where(where).OrderBy("invoice_index")
	rows, err := r.db.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	var out []*entity.Invoice
	for rows.Next() {
		var (
			inv                               entity.Invoice
			docNum, issue, supplier, customer sql.NullString
			currency, jsonPath                sql.NullString
			gross                             sql.NullFloat64
			refs, result                      []byte
		)
		if err := rows.Scan(&inv.ID, &inv.DocumentID, &inv.InvoiceIndex, &inv.StartPage, &inv.EndPage,
			&docNum, &refs, &issue, &supplier, &customer, &gross, &currency, &jsonPath, &result,
			&inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		inv.DocumentNumber = strPtr(docNum)
		inv.IssueDate = strPtr(issue)
		inv.SupplierName = strPtr(supplier)
		inv.CustomerName = strPtr(customer)
		inv.GrossAmount = floatPtr(gross)
		inv.Currency = strPtr(currency)
		inv.JSONPath = strPtr(jsonPath)
		inv.ReferenceNumbers = []string{}
		if len(refs) > 0 {
			if err := json.Unmarshal(refs, &inv.ReferenceNumbers); err != nil {
				r.logger.Warn("invalid reference_numbers_json", "invoice_id", inv.ID, "error", err)
			}
		}
		if len(result) > 0 {
			inv.ResultJSON = json.RawMessage(result)
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}
