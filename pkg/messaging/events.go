package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	// User events
	EventUserCreated           = "user.created"
	EventUserUpdated           = "user.updated"
	EventUserDeleted           = "user.deleted"
	EventUserRoleChanged       = "user.role.changed"
	EventUserPermissionChanged = "user.permission.changed"

	// Fee events
	EventPaymentCollected = "fees.payment.collected"
	EventPaymentRefunded  = "fees.payment.refunded"
	EventFeeAssigned      = "fees.assignment.created"

	// Attendance events
	EventAttendanceMarked    = "attendance.marked"
	EventAttendanceCorrected = "attendance.corrected"

	// Academic events
	EventStudentEnrolled   = "academic.student.enrolled"
	EventStudentWithdrawn  = "academic.student.withdrawn"
	EventExamScheduled     = "academic.exam.scheduled"
	EventMarksPublished    = "academic.marks.published"
	EventSessionRolledOver = "academic.session.rolled_over"

	// Notification events
	EventNotificationRequested = "notification.requested"

	// Tenant lifecycle events
	EventTenantProvisioned = "tenant.provisioned"
	EventTenantSuspended   = "tenant.suspended"

	// Audit events
	EventAuditLogCreated = "audit.log.created"
)

// Exchange names
const (
	ExchangeUserEvents       = "user.events"
	ExchangeFeeEvents        = "fees.events"
	ExchangeAttendanceEvents = "attendance.events"
	ExchangeAcademicEvents   = "academic.events"
	ExchangeAuditEvents      = "audit.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// User Events

// UserCreatedEvent is published when a user is created
type UserCreatedEvent struct {
	UserID    string  `json:"user_id"`
	Email     string  `json:"email"`
	Username  *string `json:"username,omitempty"` // Optional username for subdomain login
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	RoleName  string  `json:"role_name"`

	// Tenant context (required for user-tenant lookup table)
	TenantID     string `json:"tenant_id"`
	TenantSlug   string `json:"tenant_slug"`
	TenantSchema string `json:"tenant_schema"`
}

// FullName returns the user's full name
func (e *UserCreatedEvent) FullName() string {
	return e.FirstName + " " + e.LastName
}

// UserUpdatedEvent is published when a user is updated
type UserUpdatedEvent struct {
	UserID string         `json:"user_id"`
	Fields map[string]any `json:"fields"` // Changed fields

	// Email change tracking (for updating user-tenant lookup table)
	OldEmail *string `json:"old_email,omitempty"`
	NewEmail *string `json:"new_email,omitempty"`

	// Tenant context (required for user-tenant lookup table)
	TenantID     string `json:"tenant_id"`
	TenantSlug   string `json:"tenant_slug"`
	TenantSchema string `json:"tenant_schema"`
}

// UserDeletedEvent is published when a user is deleted
type UserDeletedEvent struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"` // Required for removing from user-tenant lookup table

	// Tenant context (required for user-tenant lookup table)
	TenantID     string `json:"tenant_id"`
	TenantSlug   string `json:"tenant_slug"`
	TenantSchema string `json:"tenant_schema"`
}

// UserRoleChangedEvent is published when a user's role changes. The RBAC
// cache invalidates the affected user's entry on receipt.
type UserRoleChangedEvent struct {
	UserID      string `json:"user_id"`
	OldRoleName string `json:"old_role_name"`
	NewRoleName string `json:"new_role_name"`
	TenantID    string `json:"tenant_id"`
}

// UserPermissionChangedEvent is published when a user's permissions change
type UserPermissionChangedEvent struct {
	UserID             string   `json:"user_id"`
	GrantedPermissions []string `json:"granted_permissions,omitempty"`
	RevokedPermissions []string `json:"revoked_permissions,omitempty"`
	TenantID           string   `json:"tenant_id"`
}

// Fee Events

// PaymentCollectedEvent is published after a fee payment commits
type PaymentCollectedEvent struct {
	PaymentID     string `json:"payment_id"`
	StudentID     string `json:"student_id"`
	ReceiptNumber string `json:"receipt_number"`
	Amount        string `json:"amount"` // two-fractional-digit decimal string
	LateFee       string `json:"late_fee,omitempty"`
	Mode          string `json:"mode"`
	CollectedBy   string `json:"collected_by"`
	TenantID      string `json:"tenant_id"`
}

// PaymentRefundedEvent is published when a payment is voided
type PaymentRefundedEvent struct {
	PaymentID string `json:"payment_id"`
	VoidedBy  string `json:"voided_by"`
	Reason    string `json:"reason"`
	TenantID  string `json:"tenant_id"`
}

// Attendance Events

// AttendanceMarkedEvent is published when a day's attendance is recorded
type AttendanceMarkedEvent struct {
	StudentID string    `json:"student_id"`
	SectionID string    `json:"section_id"`
	MarkedOn  time.Time `json:"marked_on"`
	Status    string    `json:"status"`
	MarkedBy  string    `json:"marked_by"`
	TenantID  string    `json:"tenant_id"`
}

// Academic Events

// StudentEnrolledEvent is published when a student joins a section
type StudentEnrolledEvent struct {
	StudentID string `json:"student_id"`
	SectionID string `json:"section_id"`
	SessionID string `json:"academic_session_id"`
	TenantID  string `json:"tenant_id"`
}

// MarksPublishedEvent is published when an exam's marks become visible
type MarksPublishedEvent struct {
	ExamID    string `json:"exam_id"`
	SubjectID string `json:"subject_id,omitempty"`
	TenantID  string `json:"tenant_id"`
}

// Notification Events

// NotificationRequestedEvent asks the delivery workers to fan a message out
// to its recipients. Delivery itself is at-least-once; consumers dedupe on
// the idempotency key.
type NotificationRequestedEvent struct {
	Channel        string         `json:"channel"` // email | sms | push
	TemplateKey    string         `json:"template_key"`
	RecipientIDs   []string       `json:"recipient_ids"`
	Params         map[string]any `json:"params,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	TenantID       string         `json:"tenant_id"`
}

// Tenant Events

// TenantProvisionedEvent is published after a provisioning run completes
type TenantProvisionedEvent struct {
	Schema     string `json:"schema"`
	TableCount int    `json:"table_count"`
	Ready      bool   `json:"ready"`
}

// Audit Events

// AuditLogCreatedEvent is published when an audit log entry is created
type AuditLogCreatedEvent struct {
	LogID      string         `json:"log_id"`
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Changes    map[string]any `json:"changes,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
