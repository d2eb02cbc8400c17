package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/testutil"
)

func newTestAuditor(t *testing.T) (*Auditor, *testutil.MockDB, *testutil.MockPublisher) {
	mock := testutil.NewMockDB(t)
	t.Cleanup(func() { mock.Close() })
	pub := testutil.NewMockPublisher()
	return New(mock.Wrap(), pub, logger.New("audit-test", "test")), mock, pub
}

func TestTransactPublishesAfterCommit(t *testing.T) {
	a, mock, pub := newTestAuditor(t)

	mock.Mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL search_path TO "tenant_demo", public`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.Mock.ExpectCommit()

	err := a.Transact(context.Background(), "tenant_demo", func(ctx context.Context) error {
		Record(ctx, Entry{ActorID: "u-1", Action: "collect", Entity: "fee_payment", EntityID: "p-1"})
		// Nothing must be published while the transaction is still open.
		pub.AssertNoEventsPublished(t)
		return nil
	})
	require.NoError(t, err)

	pub.AssertEventPublished(t, "audit.fee_payment.collect")
	mock.ExpectationsWereMet(t)
}

func TestTransactDiscardsEntriesOnRollback(t *testing.T) {
	a, mock, pub := newTestAuditor(t)

	mock.Mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL search_path TO "tenant_demo", public`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.Mock.ExpectRollback()

	err := a.Transact(context.Background(), "tenant_demo", func(ctx context.Context) error {
		Record(ctx, Entry{ActorID: "u-1", Action: "refund", Entity: "fee_payment", EntityID: "p-1"})
		return errors.New("business rule failed")
	})
	require.Error(t, err)

	pub.AssertNoEventsPublished(t)
	mock.ExpectationsWereMet(t)
}

func TestRecordOutsideTransactIsNoOp(t *testing.T) {
	// Must not panic or leak anywhere.
	Record(context.Background(), Entry{Action: "noop", Entity: "x"})
	assert.True(t, true)
}
