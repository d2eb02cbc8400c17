// Package repository persists fee payments, assignments, and receipt
// counters inside the tenant schema bound to the request context.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/money"
)

// Payment is one row of fee_payments.
type Payment struct {
	ID                string      `json:"id" db:"id"`
	StudentID         string      `json:"student_id" db:"student_id"`
	FeeStructureID    string      `json:"fee_structure_id" db:"fee_structure_id"`
	AcademicSessionID string      `json:"academic_session_id" db:"academic_session_id"`
	ReceiptNumber     string      `json:"receipt_number" db:"receipt_number"`
	AmountPaid        money.Money `json:"amount_paid" db:"amount_paid"`
	LateFee           money.Money `json:"late_fee" db:"late_fee"`
	Mode              string      `json:"mode" db:"mode"`
	Reference         *string     `json:"reference,omitempty" db:"reference"`
	Status            string      `json:"status" db:"status"`
	IdempotencyKey    *string     `json:"idempotency_key,omitempty" db:"idempotency_key"`
	VoidedBy          *string     `json:"voided_by,omitempty" db:"voided_by"`
	VoidReason        *string     `json:"void_reason,omitempty" db:"void_reason"`
	Remarks           *string     `json:"remarks,omitempty" db:"remarks"`
	PaidAt            time.Time   `json:"paid_at" db:"paid_at"`
}

// Assignment is a student's binding to a fee structure, joined with the
// structure's billing terms.
type Assignment struct {
	ID            string      `db:"id"`
	StudentID     string      `db:"student_id"`
	StructureID   string      `db:"fee_structure_id"`
	FinalAmount   money.Money `db:"final_amount"`
	LateFeePerDay money.Money `db:"late_fee_per_day"`
	DueDay        int         `db:"due_day"`
	SessionID     string      `db:"academic_session_id"`
}

// PaymentStatus values.
const (
	StatusSuccess  = "success"
	StatusRefunded = "refunded"
)

// PaymentRepository runs fee persistence against the tenant schema carried
// in the context. Every method expects to be called inside a bound
// transaction (database.DB.BindTenantSchema); calling outside one still
// works for reads but forfeits the locking guarantees Collect depends on.
type PaymentRepository struct {
	db *database.DB
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(db *database.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByIdempotencyKey returns the payment recorded for key, or nil when no
// payment with that key exists.
func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM fee_payments WHERE idempotency_key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding payment by idempotency key: %w", err)
	}
	return &p, nil
}

// FindByID returns one payment or a NotFound error.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM fee_payments WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("payment")
	}
	if err != nil {
		return nil, fmt.Errorf("finding payment: %w", err)
	}
	return &p, nil
}

// LockPaymentByID loads one payment under a row-level exclusive lock so a
// concurrent refund of the same payment serializes behind this transaction.
func (r *PaymentRepository) LockPaymentByID(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM fee_payments WHERE id = $1 FOR UPDATE`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("payment")
	}
	if err != nil {
		return nil, fmt.Errorf("locking payment: %w", err)
	}
	return &p, nil
}

// LockAssignment loads the student's binding to a fee structure, with its
// billing terms, under a row-level exclusive lock. Two concurrent
// collections against the same assignment serialize here.
func (r *PaymentRepository) LockAssignment(ctx context.Context, studentID, structureID string) (*Assignment, error) {
	var a Assignment
	err := r.db.GetContext(ctx, &a, `
		SELECT fa.id, fa.student_id, fa.fee_structure_id, fa.final_amount,
		       fs.late_fee_per_day, fs.due_day, fs.academic_session_id
		FROM fee_assignments fa
		JOIN fee_structures fs ON fs.id = fa.fee_structure_id
		WHERE fa.student_id = $1 AND fa.fee_structure_id = $2
		FOR UPDATE OF fa`, studentID, structureID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("fee assignment")
	}
	if err != nil {
		return nil, fmt.Errorf("locking fee assignment: %w", err)
	}
	return &a, nil
}

// SumSuccessfulPayments totals the amounts already collected against a
// (student, structure) pair, excluding refunded payments.
func (r *PaymentRepository) SumSuccessfulPayments(ctx context.Context, studentID, structureID string) (money.Money, error) {
	var total money.Money
	err := r.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount_paid), 0)
		FROM fee_payments
		WHERE student_id = $1 AND fee_structure_id = $2 AND status = $3`,
		studentID, structureID, StatusSuccess)
	if err != nil {
		return money.Zero, fmt.Errorf("summing payments: %w", err)
	}
	return total, nil
}

// NextReceiptNumber atomically advances the per-institution, per-year
// receipt counter and returns the new sequence value. The upsert takes a
// row-level lock on the counter row for the rest of the transaction, so a
// concurrent collection for the same institution and year blocks until this
// transaction commits and then observes the incremented value: numbers are
// strictly increasing and never reused.
func (r *PaymentRepository) NextReceiptNumber(ctx context.Context, institutionID string, year int) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		INSERT INTO institution_receipt_counters (institution_id, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (institution_id, year)
		DO UPDATE SET last_number = institution_receipt_counters.last_number + 1
		RETURNING last_number`, institutionID, year)
	if err != nil {
		return 0, fmt.Errorf("advancing receipt counter: %w", err)
	}
	return n, nil
}

// Insert writes a new payment row.
func (r *PaymentRepository) Insert(ctx context.Context, p *Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fee_payments
			(id, student_id, fee_structure_id, academic_session_id, receipt_number,
			 amount_paid, late_fee, mode, reference, status, idempotency_key, remarks, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.StudentID, p.FeeStructureID, p.AcademicSessionID, p.ReceiptNumber,
		p.AmountPaid, p.LateFee, p.Mode, p.Reference, p.Status, p.IdempotencyKey, p.Remarks, p.PaidAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

// MarkRefunded flips a payment to refunded, recording who voided it and why.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, id, voidedBy, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE fee_payments
		SET status = $2, voided_by = $3, void_reason = $4
		WHERE id = $1`, id, StatusRefunded, voidedBy, reason)
	if err != nil {
		return fmt.Errorf("marking payment refunded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("payment")
	}
	return nil
}

// ListFilter narrows List.
type ListFilter struct {
	StudentID         string
	AcademicSessionID string
	Status            string
	Limit             int
	Offset            int
}

// List returns payments matching the filter, newest first.
func (r *PaymentRepository) List(ctx context.Context, f ListFilter) ([]Payment, error) {
	query := `SELECT * FROM fee_payments WHERE 1=1`
	var args []interface{}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		query += fmt.Sprintf(" AND student_id = $%d", len(args))
	}
	if f.AcademicSessionID != "" {
		args = append(args, f.AcademicSessionID)
		query += fmt.Sprintf(" AND academic_session_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY paid_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	payments := []Payment{}
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	return payments, nil
}
