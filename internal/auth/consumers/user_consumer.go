package consumers

import (
	"context"
	"fmt"

	"github.com/brightcampus/schoolcore/internal/auth/repository"
	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/messaging"
)

// lookupQueue is this process's durable queue for user lifecycle events.
const lookupQueue = "schoolcore.login-lookup"

// PermissionInvalidator evicts cached permission sets when a user's role or
// direct grants change. Satisfied by the RBAC resolver.
type PermissionInvalidator interface {
	Invalidate(ctx context.Context, tenantID, userID string) error
}

// UserEventHandler keeps the global login lookup table, live sessions, and
// the RBAC cache in step with user lifecycle events coming off the broker.
// It is separate from the consumer wiring so tests can drive it with
// in-memory events.
type UserEventHandler struct {
	lookupRepo  *repository.UserTenantLookupRepository
	sessions    *repository.SessionRepository
	invalidator PermissionInvalidator
	logger      *logger.Logger
}

// NewUserEventHandler builds a handler. sessions and invalidator may be nil
// when the corresponding subsystem is not running; those steps are skipped.
func NewUserEventHandler(lookupRepo *repository.UserTenantLookupRepository, sessions *repository.SessionRepository, invalidator PermissionInvalidator, log *logger.Logger) *UserEventHandler {
	return &UserEventHandler{lookupRepo: lookupRepo, sessions: sessions, invalidator: invalidator, logger: log}
}

// HandleEvent dispatches one event to its handler.
func (h *UserEventHandler) HandleEvent(ctx context.Context, event *messaging.Event) error {
	switch event.Type {
	case messaging.EventUserCreated:
		return h.handleUserCreated(ctx, event)
	case messaging.EventUserUpdated:
		return h.handleUserUpdated(ctx, event)
	case messaging.EventUserDeleted:
		return h.handleUserDeleted(ctx, event)
	case messaging.EventUserRoleChanged:
		return h.handleRoleChanged(ctx, event)
	case messaging.EventUserPermissionChanged:
		return h.handlePermissionChanged(ctx, event)
	default:
		h.logger.Warn().Str("event_type", event.Type).Msg("unhandled user event")
		return nil
	}
}

// UserEventConsumer binds the handler to the broker queue.
type UserEventConsumer struct {
	consumer *messaging.Consumer
	handler  *UserEventHandler
	logger   *logger.Logger
}

// NewUserEventConsumer declares the lookup queue, subscribes it to the user
// event exchange, and registers the sync handlers.
func NewUserEventConsumer(rmq *messaging.RabbitMQ, lookupRepo *repository.UserTenantLookupRepository, sessions *repository.SessionRepository, invalidator PermissionInvalidator, log *logger.Logger) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, lookupQueue, log)
	if err != nil {
		return nil, err
	}
	if err := consumer.Subscribe(messaging.ExchangeUserEvents, "user.#"); err != nil {
		return nil, err
	}

	handler := NewUserEventHandler(lookupRepo, sessions, invalidator, log)
	consumer.RegisterHandler(messaging.EventUserCreated, handler.handleUserCreated)
	consumer.RegisterHandler(messaging.EventUserUpdated, handler.handleUserUpdated)
	consumer.RegisterHandler(messaging.EventUserDeleted, handler.handleUserDeleted)
	consumer.RegisterHandler(messaging.EventUserRoleChanged, handler.handleRoleChanged)
	consumer.RegisterHandler(messaging.EventUserPermissionChanged, handler.handlePermissionChanged)

	return &UserEventConsumer{consumer: consumer, handler: handler, logger: log}, nil
}

// Start begins draining the queue; stops when ctx is cancelled.
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// handleUserCreated inserts the new account into the lookup table so the
// next login can resolve its tenant without scanning every schema.
func (h *UserEventHandler) handleUserCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	if data.TenantID == "" || data.TenantSchema == "" {
		// Without a tenant the row is unroutable; requeueing cannot fix it.
		h.logger.Warn().Str("user_id", data.UserID).Str("email", data.Email).
			Msg("user.created missing tenant context")
		return fmt.Errorf("user.created for %s has no tenant context", data.UserID)
	}

	err := h.lookupRepo.Upsert(ctx, &repository.UserTenantLookup{
		Email:        data.Email,
		Username:     data.Username,
		UserID:       data.UserID,
		TenantID:     data.TenantID,
		TenantSlug:   data.TenantSlug,
		TenantSchema: data.TenantSchema,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("email", data.Email).Msg("lookup upsert failed")
		return err
	}

	h.logger.Info().Str("email", data.Email).Str("tenant_slug", data.TenantSlug).
		Msg("login lookup entry created")
	return nil
}

// handleUserUpdated rewrites the lookup row when the account's email moved.
// Other field changes never touch the lookup table.
func (h *UserEventHandler) handleUserUpdated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserUpdatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	if data.OldEmail == nil || data.NewEmail == nil {
		return nil
	}
	if data.TenantID == "" || data.TenantSchema == "" {
		h.logger.Warn().Str("user_id", data.UserID).Msg("user.updated missing tenant context")
		return nil
	}

	// The old row may already be gone if the create event was never seen;
	// the upsert below still lands the current address.
	if err := h.lookupRepo.DeleteByEmail(ctx, *data.OldEmail); err != nil {
		h.logger.Warn().Err(err).Str("old_email", *data.OldEmail).Msg("stale lookup delete failed")
	}

	err := h.lookupRepo.Upsert(ctx, &repository.UserTenantLookup{
		Email:        *data.NewEmail,
		UserID:       data.UserID,
		TenantID:     data.TenantID,
		TenantSlug:   data.TenantSlug,
		TenantSchema: data.TenantSchema,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("new_email", *data.NewEmail).Msg("lookup upsert failed")
		return err
	}

	h.logger.Info().Str("old_email", *data.OldEmail).Str("new_email", *data.NewEmail).
		Msg("login lookup entry moved")
	return nil
}

// handleUserDeleted revokes the account's live sessions and removes it from
// the lookup table, falling back to a user-id sweep when the event carries
// no email.
func (h *UserEventHandler) handleUserDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	if h.sessions != nil && data.TenantSchema != "" {
		if err := h.sessions.RevokeAllForUser(ctx, data.TenantSchema, data.UserID); err != nil {
			h.logger.Warn().Err(err).Str("user_id", data.UserID).Msg("session revocation failed")
		}
	}

	if data.Email != "" {
		if err := h.lookupRepo.DeleteByEmail(ctx, data.Email); err == nil {
			h.logger.Info().Str("email", data.Email).Msg("login lookup entry deleted")
			return nil
		} else {
			h.logger.Warn().Err(err).Str("email", data.Email).Msg("lookup delete by email failed")
		}
	}

	if err := h.lookupRepo.DeleteByUserID(ctx, data.UserID); err != nil {
		h.logger.Error().Err(err).Str("user_id", data.UserID).Msg("lookup delete by user_id failed")
		return err
	}
	h.logger.Info().Str("user_id", data.UserID).Msg("login lookup entry deleted by user_id")
	return nil
}

// handleRoleChanged evicts the user's cached permission set so the next
// request resolves against the new role assignments.
func (h *UserEventHandler) handleRoleChanged(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserRoleChangedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	if h.invalidator == nil {
		return nil
	}
	if err := h.invalidator.Invalidate(ctx, data.TenantID, data.UserID); err != nil {
		h.logger.Error().Err(err).Str("user_id", data.UserID).Msg("rbac cache eviction failed")
		return err
	}
	h.logger.Info().Str("user_id", data.UserID).
		Str("old_role", data.OldRoleName).Str("new_role", data.NewRoleName).
		Msg("rbac cache evicted after role change")
	return nil
}

// handlePermissionChanged evicts on direct grant/revoke, same as a role move.
func (h *UserEventHandler) handlePermissionChanged(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserPermissionChangedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	if h.invalidator == nil {
		return nil
	}
	if err := h.invalidator.Invalidate(ctx, data.TenantID, data.UserID); err != nil {
		h.logger.Error().Err(err).Str("user_id", data.UserID).Msg("rbac cache eviction failed")
		return err
	}
	return nil
}
