// Package service implements fee collection and refunds: outstanding-dues
// math, late-fee accrual, receipt numbering, and the idempotency contract,
// all inside one managed transaction per mutation.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brightcampus/schoolcore/internal/audit"
	"github.com/brightcampus/schoolcore/internal/fees/repository"
	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/money"
	"github.com/brightcampus/schoolcore/pkg/tenant"
)

// allowedModes are the accepted payment modes.
var allowedModes = map[string]bool{
	"cash":     true,
	"card":     true,
	"upi":      true,
	"cheque":   true,
	"transfer": true,
}

// CollectRequest is the input to Collect. AcademicSessionID is the canonical
// field; the HTTP edge normalizes the legacy academic_year_id alias into it
// before the service ever sees the request.
type CollectRequest struct {
	InstitutionID     string      `json:"institution_id" validate:"required,uuid"`
	StudentID         string      `json:"student_id" validate:"required,uuid"`
	AcademicSessionID string      `json:"academic_session_id" validate:"required,uuid"`
	FeeStructureID    string      `json:"fee_structure_id" validate:"required,uuid"`
	AmountPaid        money.Money `json:"amount_paid"`
	Mode              string      `json:"mode" validate:"required"`
	Reference         string      `json:"reference,omitempty"`
	IdempotencyKey    string      `json:"idempotency_key,omitempty"`
}

// CollectResult carries the payment plus whether this call created it (201)
// or replayed an idempotent duplicate (200).
type CollectResult struct {
	Payment *repository.Payment
	Created bool
}

// FeeService orchestrates payment collection and refunds. Mutations run
// through the auditor's transaction runner so every committed money movement
// leaves an audit event, and none is emitted for a rolled-back one.
type FeeService struct {
	auditor *audit.Auditor
	repo    *repository.PaymentRepository
	log     *logger.Logger
	now     func() time.Time
}

// NewFeeService constructs a FeeService.
func NewFeeService(auditor *audit.Auditor, repo *repository.PaymentRepository, log *logger.Logger) *FeeService {
	return &FeeService{auditor: auditor, repo: repo, log: log, now: time.Now}
}

// Collect records a fee payment. The whole flow runs in one transaction
// against the tenant schema bound in ctx: idempotency replay, dues math
// under a row lock, late-fee accrual, receipt numbering, insert.
func (s *FeeService) Collect(ctx context.Context, req *CollectRequest) (*CollectResult, error) {
	if !req.AmountPaid.IsPositive() {
		return nil, errors.Validation(map[string]string{"amount_paid": "must be greater than zero"})
	}
	if !allowedModes[req.Mode] {
		return nil, errors.Validation(map[string]string{"mode": "unsupported payment mode"})
	}

	schema, err := tenant.TenantSchema(ctx)
	if err != nil {
		return nil, errors.TenantBindingMissing()
	}

	var result *CollectResult
	err = s.auditor.Transact(ctx, schema, func(txCtx context.Context) error {
		if req.IdempotencyKey != "" {
			existing, err := s.repo.FindByIdempotencyKey(txCtx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				result = &CollectResult{Payment: existing, Created: false}
				return nil
			}
		}

		assignment, err := s.repo.LockAssignment(txCtx, req.StudentID, req.FeeStructureID)
		if err != nil {
			return err
		}
		if assignment.SessionID != req.AcademicSessionID {
			return errors.Validation(map[string]string{
				"academic_session_id": "fee structure belongs to a different academic session",
			})
		}

		paid, err := s.repo.SumSuccessfulPayments(txCtx, req.StudentID, req.FeeStructureID)
		if err != nil {
			return err
		}
		outstanding := assignment.FinalAmount.Sub(paid)

		paymentDate := s.now()
		lateFee := accruedLateFee(assignment.LateFeePerDay, assignment.DueDay, paymentDate)

		if req.AmountPaid.GreaterThan(outstanding.Add(lateFee)) {
			return errors.Validation(map[string]string{
				"amount_paid": fmt.Sprintf("exceeds outstanding dues of %s plus late fee %s", outstanding, lateFee),
			})
		}

		seq, err := s.repo.NextReceiptNumber(txCtx, req.InstitutionID, paymentDate.Year())
		if err != nil {
			return err
		}

		p := &repository.Payment{
			ID:                uuid.NewString(),
			StudentID:         req.StudentID,
			FeeStructureID:    req.FeeStructureID,
			AcademicSessionID: req.AcademicSessionID,
			ReceiptNumber:     FormatReceiptNumber(paymentDate.Year(), seq),
			AmountPaid:        req.AmountPaid,
			LateFee:           lateFee,
			Mode:              req.Mode,
			Status:            repository.StatusSuccess,
			PaidAt:            paymentDate,
		}
		if req.Reference != "" {
			p.Reference = &req.Reference
		}
		if req.IdempotencyKey != "" {
			p.IdempotencyKey = &req.IdempotencyKey
		}
		if !lateFee.IsZero() {
			remarks := fmt.Sprintf("includes late fee of %s", lateFee)
			p.Remarks = &remarks
		}

		if err := s.repo.Insert(txCtx, p); err != nil {
			return err
		}
		audit.Record(txCtx, audit.Entry{
			Action:   "collect",
			Entity:   "fee_payment",
			EntityID: p.ID,
			Meta:     map[string]any{"receipt_number": p.ReceiptNumber, "amount": p.AmountPaid.String()},
		})
		result = &CollectResult{Payment: p, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refund voids a successful payment. Refunding an already-refunded payment
// returns ALREADY_REFUNDED; any other non-success status is a validation
// failure.
func (s *FeeService) Refund(ctx context.Context, paymentID, voidedBy, reason string) (*repository.Payment, error) {
	schema, err := tenant.TenantSchema(ctx)
	if err != nil {
		return nil, errors.TenantBindingMissing()
	}

	var refunded *repository.Payment
	err = s.auditor.Transact(ctx, schema, func(txCtx context.Context) error {
		p, err := s.repo.LockPaymentByID(txCtx, paymentID)
		if err != nil {
			return err
		}
		switch p.Status {
		case repository.StatusRefunded:
			return errors.AlreadyRefunded()
		case repository.StatusSuccess:
			// refundable
		default:
			return errors.Validation(map[string]string{"status": "only successful payments can be refunded"})
		}

		if err := s.repo.MarkRefunded(txCtx, paymentID, voidedBy, reason); err != nil {
			return err
		}
		audit.Record(txCtx, audit.Entry{
			ActorID:  voidedBy,
			Action:   "refund",
			Entity:   "fee_payment",
			EntityID: paymentID,
			Meta:     map[string]any{"reason": reason},
		})
		p.Status = repository.StatusRefunded
		p.VoidedBy = &voidedBy
		p.VoidReason = &reason
		refunded = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// List returns payments in the bound tenant schema matching the filter.
func (s *FeeService) List(ctx context.Context, f repository.ListFilter) ([]repository.Payment, error) {
	schema, err := tenant.TenantSchema(ctx)
	if err != nil {
		return nil, errors.TenantBindingMissing()
	}

	var payments []repository.Payment
	err = s.auditor.Transact(ctx, schema, func(txCtx context.Context) error {
		payments, err = s.repo.List(txCtx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// FormatReceiptNumber renders the canonical receipt format, zero-padded to
// five digits.
func FormatReceiptNumber(year, seq int) string {
	return fmt.Sprintf("RCP-%d-%05d", year, seq)
}

// accruedLateFee computes late_fee_per_day × days overdue. The due date is
// the structure's due day within the payment month, clamped to the month's
// length (a due_day of 31 means the last day of February in February).
func accruedLateFee(perDay money.Money, dueDay int, paymentDate time.Time) money.Money {
	if perDay.IsZero() || dueDay <= 0 {
		return money.Zero
	}
	due := effectiveDueDate(dueDay, paymentDate)
	days := int(paymentDate.Sub(due).Hours() / 24)
	return money.PerDay(perDay, days)
}

// effectiveDueDate clamps dueDay to the payment month's length.
func effectiveDueDate(dueDay int, paymentDate time.Time) time.Time {
	year, month, _ := paymentDate.Date()
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, paymentDate.Location()).Day()
	if dueDay > lastDay {
		dueDay = lastDay
	}
	return time.Date(year, month, dueDay, 0, 0, 0, 0, paymentDate.Location())
}
