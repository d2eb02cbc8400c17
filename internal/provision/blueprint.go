package provision

// blueprint.go holds the static per-tenant schema blueprint: table
// definitions in dependency order, the critical-set required for a tenant to
// be declared ready, and the seed rows inserted on every provision run.

// TableDef describes one tenant-scoped table to materialize.
type TableDef struct {
	Name string
	DDL  string
}

// tables lists every tenant-scoped table in dependency order (topological:
// a table only references tables earlier in this list). Global/shared
// entities (institutions, plans, modules, features, permissions,
// role_templates) are intentionally excluded — they live in the public
// schema and are never materialized per-tenant.
var tables = []TableDef{
	{Name: "roles", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.roles (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		role_type TEXT NOT NULL DEFAULT 'custom',
		is_system BOOLEAN NOT NULL DEFAULT FALSE,
		asset_type TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`},
	{Name: "users", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		username TEXT UNIQUE,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		must_change_password BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'active',
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`},
	{Name: "user_roles", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.user_roles (
		user_id UUID NOT NULL REFERENCES %[1]s.users(id),
		role_id UUID NOT NULL REFERENCES %[1]s.roles(id),
		PRIMARY KEY (user_id, role_id)
	)`},
	{Name: "role_permissions", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.role_permissions (
		role_id UUID NOT NULL REFERENCES %[1]s.roles(id),
		permission TEXT NOT NULL,
		PRIMARY KEY (role_id, permission)
	)`},
	{Name: "user_permissions", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.user_permissions (
		user_id UUID NOT NULL REFERENCES %[1]s.users(id),
		permission TEXT NOT NULL,
		PRIMARY KEY (user_id, permission)
	)`},
	{Name: "academic_sessions", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.academic_sessions (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		starts_on DATE NOT NULL,
		ends_on DATE NOT NULL,
		is_current BOOLEAN NOT NULL DEFAULT FALSE
	)`},
	{Name: "classes", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.classes (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL
	)`},
	{Name: "sections", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.sections (
		id UUID PRIMARY KEY,
		class_id UUID NOT NULL REFERENCES %[1]s.classes(id),
		name TEXT NOT NULL
	)`},
	{Name: "subjects", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.subjects (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT
	)`},
	{Name: "teachers", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.teachers (
		id UUID PRIMARY KEY,
		user_id UUID REFERENCES %[1]s.users(id),
		employee_number TEXT UNIQUE
	)`},
	{Name: "students", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.students (
		id UUID PRIMARY KEY,
		admission_number TEXT NOT NULL UNIQUE,
		section_id UUID REFERENCES %[1]s.sections(id),
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL
	)`},
	{Name: "enrollments", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.enrollments (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		academic_session_id UUID NOT NULL REFERENCES %[1]s.academic_sessions(id),
		section_id UUID NOT NULL REFERENCES %[1]s.sections(id)
	)`},
	{Name: "attendance_settings", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.attendance_settings (
		id UUID PRIMARY KEY,
		grace_period_minutes INT NOT NULL DEFAULT 10,
		half_day_threshold_minutes INT NOT NULL DEFAULT 240
	)`},
	{Name: "student_attendance", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.student_attendance (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		marked_on DATE NOT NULL,
		status TEXT NOT NULL
	)`},
	{Name: "exams", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.exams (
		id UUID PRIMARY KEY,
		academic_session_id UUID NOT NULL REFERENCES %[1]s.academic_sessions(id),
		name TEXT NOT NULL
	)`},
	{Name: "marks", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.marks (
		id UUID PRIMARY KEY,
		exam_id UUID NOT NULL REFERENCES %[1]s.exams(id),
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		subject_id UUID NOT NULL REFERENCES %[1]s.subjects(id),
		marks_obtained NUMERIC(6,2)
	)`},
	{Name: "fee_structures", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.fee_structures (
		id UUID PRIMARY KEY,
		academic_session_id UUID NOT NULL REFERENCES %[1]s.academic_sessions(id),
		category TEXT NOT NULL,
		final_amount NUMERIC(14,2) NOT NULL,
		late_fee_per_day NUMERIC(14,2) NOT NULL DEFAULT 0,
		due_day INT NOT NULL DEFAULT 10
	)`},
	{Name: "fee_assignments", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.fee_assignments (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		fee_structure_id UUID NOT NULL REFERENCES %[1]s.fee_structures(id),
		final_amount NUMERIC(14,2) NOT NULL
	)`},
	{Name: "fee_payments", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.fee_payments (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		fee_structure_id UUID NOT NULL REFERENCES %[1]s.fee_structures(id),
		academic_session_id UUID NOT NULL REFERENCES %[1]s.academic_sessions(id),
		receipt_number TEXT NOT NULL UNIQUE,
		amount_paid NUMERIC(14,2) NOT NULL,
		late_fee NUMERIC(14,2) NOT NULL DEFAULT 0,
		mode TEXT NOT NULL,
		reference TEXT,
		status TEXT NOT NULL DEFAULT 'success',
		idempotency_key TEXT UNIQUE,
		voided_by UUID,
		void_reason TEXT,
		remarks TEXT,
		paid_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`},
	{Name: "institution_receipt_counters", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.institution_receipt_counters (
		institution_id UUID NOT NULL,
		year INT NOT NULL,
		last_number INT NOT NULL DEFAULT 0,
		PRIMARY KEY (institution_id, year)
	)`},
	{Name: "audit_log", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.audit_log (
		id UUID PRIMARY KEY,
		actor_id UUID,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`},

	// --- sessions / credential lifecycle ---
	{Name: "sessions", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.sessions (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES %[1]s.users(id),
		refresh_token_hash TEXT NOT NULL,
		user_agent TEXT,
		ip_address TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
	)`},
	{Name: "password_reset_tokens", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.password_reset_tokens (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES %[1]s.users(id),
		token_hash TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		used_at TIMESTAMPTZ
	)`},
	{Name: "rbac_epoch", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.rbac_epoch (
		id SMALLINT PRIMARY KEY DEFAULT 1,
		epoch BIGINT NOT NULL DEFAULT 1,
		bumped_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT rbac_epoch_singleton CHECK (id = 1)
	)`},

	// --- org structure ---
	{Name: "departments", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.departments (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL
	)`},
	{Name: "staff_members", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.staff_members (
		id UUID PRIMARY KEY,
		user_id UUID REFERENCES %[1]s.users(id),
		department_id UUID REFERENCES %[1]s.departments(id),
		employee_number TEXT UNIQUE
	)`},
	{Name: "parents", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.parents (
		id UUID PRIMARY KEY,
		user_id UUID REFERENCES %[1]s.users(id),
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		phone TEXT
	)`},
	{Name: "student_guardians", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.student_guardians (
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		parent_id UUID NOT NULL REFERENCES %[1]s.parents(id),
		relation TEXT NOT NULL DEFAULT 'guardian',
		PRIMARY KEY (student_id, parent_id)
	)`},

	// --- timetable & coursework ---
	{Name: "timetable_periods", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.timetable_periods (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		start_time TIME NOT NULL,
		end_time TIME NOT NULL,
		sequence INT NOT NULL
	)`},
	{Name: "timetable_slots", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.timetable_slots (
		id UUID PRIMARY KEY,
		section_id UUID NOT NULL REFERENCES %[1]s.sections(id),
		subject_id UUID NOT NULL REFERENCES %[1]s.subjects(id),
		teacher_id UUID REFERENCES %[1]s.teachers(id),
		period_id UUID NOT NULL REFERENCES %[1]s.timetable_periods(id),
		day_of_week SMALLINT NOT NULL
	)`},
	{Name: "homework", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.homework (
		id UUID PRIMARY KEY,
		section_id UUID NOT NULL REFERENCES %[1]s.sections(id),
		subject_id UUID NOT NULL REFERENCES %[1]s.subjects(id),
		teacher_id UUID REFERENCES %[1]s.teachers(id),
		title TEXT NOT NULL,
		description TEXT,
		due_date DATE NOT NULL
	)`},
	{Name: "homework_submissions", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.homework_submissions (
		id UUID PRIMARY KEY,
		homework_id UUID NOT NULL REFERENCES %[1]s.homework(id),
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		submitted_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'pending'
	)`},

	// --- notices & notifications ---
	{Name: "notices", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.notices (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		audience TEXT NOT NULL DEFAULT 'all',
		published_at TIMESTAMPTZ
	)`},
	{Name: "notification_preferences", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.notification_preferences (
		user_id UUID PRIMARY KEY REFERENCES %[1]s.users(id),
		email_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		sms_enabled BOOLEAN NOT NULL DEFAULT FALSE
	)`},

	// --- staff leave ---
	{Name: "leave_requests", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.leave_requests (
		id UUID PRIMARY KEY,
		staff_id UUID NOT NULL REFERENCES %[1]s.staff_members(id),
		starts_on DATE NOT NULL,
		ends_on DATE NOT NULL,
		reason TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
	)`},
	{Name: "leave_balances", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.leave_balances (
		staff_id UUID NOT NULL REFERENCES %[1]s.staff_members(id),
		academic_session_id UUID NOT NULL REFERENCES %[1]s.academic_sessions(id),
		days_remaining NUMERIC(5,1) NOT NULL DEFAULT 0,
		PRIMARY KEY (staff_id, academic_session_id)
	)`},

	// --- library ---
	{Name: "library_books", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.library_books (
		id UUID PRIMARY KEY,
		isbn TEXT,
		title TEXT NOT NULL,
		author TEXT,
		copies_total INT NOT NULL DEFAULT 1,
		copies_available INT NOT NULL DEFAULT 1
	)`},
	{Name: "library_issues", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.library_issues (
		id UUID PRIMARY KEY,
		book_id UUID NOT NULL REFERENCES %[1]s.library_books(id),
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		issued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		due_at TIMESTAMPTZ NOT NULL,
		returned_at TIMESTAMPTZ
	)`},

	// --- transport ---
	{Name: "transport_routes", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.transport_routes (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL
	)`},
	{Name: "transport_stops", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.transport_stops (
		id UUID PRIMARY KEY,
		route_id UUID NOT NULL REFERENCES %[1]s.transport_routes(id),
		name TEXT NOT NULL,
		sequence INT NOT NULL
	)`},
	{Name: "student_transport", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.student_transport (
		student_id UUID PRIMARY KEY REFERENCES %[1]s.students(id),
		stop_id UUID NOT NULL REFERENCES %[1]s.transport_stops(id)
	)`},

	// --- hostel ---
	{Name: "hostel_rooms", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.hostel_rooms (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		capacity INT NOT NULL DEFAULT 1
	)`},
	{Name: "hostel_allocations", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.hostel_allocations (
		id UUID PRIMARY KEY,
		room_id UUID NOT NULL REFERENCES %[1]s.hostel_rooms(id),
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		allocated_on DATE NOT NULL DEFAULT CURRENT_DATE
	)`},

	// --- fees extensions ---
	{Name: "fee_categories", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.fee_categories (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE
	)`},
	{Name: "fee_discounts", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.fee_discounts (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		fee_structure_id UUID NOT NULL REFERENCES %[1]s.fee_structures(id),
		amount NUMERIC(14,2) NOT NULL,
		reason TEXT
	)`},
	{Name: "fee_late_fee_waivers", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.fee_late_fee_waivers (
		id UUID PRIMARY KEY,
		fee_payment_id UUID NOT NULL REFERENCES %[1]s.fee_payments(id),
		waived_amount NUMERIC(14,2) NOT NULL,
		reason TEXT
	)`},

	// --- exams extensions ---
	{Name: "exam_schedules", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.exam_schedules (
		id UUID PRIMARY KEY,
		exam_id UUID NOT NULL REFERENCES %[1]s.exams(id),
		subject_id UUID NOT NULL REFERENCES %[1]s.subjects(id),
		scheduled_on DATE NOT NULL,
		start_time TIME NOT NULL
	)`},
	{Name: "grade_scales", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.grade_scales (
		id UUID PRIMARY KEY,
		min_percentage NUMERIC(5,2) NOT NULL,
		max_percentage NUMERIC(5,2) NOT NULL,
		grade_label TEXT NOT NULL
	)`},
	{Name: "exam_result_summaries", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.exam_result_summaries (
		id UUID PRIMARY KEY,
		exam_id UUID NOT NULL REFERENCES %[1]s.exams(id),
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		total_marks NUMERIC(8,2) NOT NULL,
		percentage NUMERIC(5,2) NOT NULL,
		grade TEXT
	)`},
	{Name: "certificates", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.certificates (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		certificate_type TEXT NOT NULL,
		serial_number TEXT NOT NULL UNIQUE,
		issued_on DATE NOT NULL DEFAULT CURRENT_DATE
	)`},

	// --- documents ---
	{Name: "student_documents", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.student_documents (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL REFERENCES %[1]s.students(id),
		document_type TEXT NOT NULL,
		file_ref TEXT NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`},
	{Name: "staff_documents", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.staff_documents (
		id UUID PRIMARY KEY,
		staff_id UUID NOT NULL REFERENCES %[1]s.staff_members(id),
		document_type TEXT NOT NULL,
		file_ref TEXT NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`},

	// --- calendar ---
	{Name: "holidays", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.holidays (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		observed_on DATE NOT NULL
	)`},
	{Name: "academic_calendar_events", DDL: `CREATE TABLE IF NOT EXISTS %[1]s.academic_calendar_events (
		id UUID PRIMARY KEY,
		academic_session_id UUID NOT NULL REFERENCES %[1]s.academic_sessions(id),
		title TEXT NOT NULL,
		starts_on DATE NOT NULL,
		ends_on DATE NOT NULL
	)`},
}

// criticalSet is the minimum table list required for a tenant to be
// declared ready.
var criticalSet = []string{
	"users", "roles", "user_roles", "user_permissions", "role_permissions",
	"students", "student_attendance", "attendance_settings",
	"classes", "sections", "subjects", "teachers", "academic_sessions",
	"exams", "marks",
}

// minReadyTableCount is the floor on total tenant table count for readiness.
const minReadyTableCount = 50

// seedRole is one of the three well-known roles seeded into every tenant.
type seedRole struct {
	ID       string
	Name     string
	Slug     string
	IsSystem bool
}

// wellKnownRoles uses fixed UUIDs so re-running the seed step is a pure
// upsert: the same role always gets the same id across tenants and across
// repeated provision() calls.
var wellKnownRoles = []seedRole{
	{ID: "00000000-0000-0000-0000-0000000000a1", Name: "Admin", Slug: "admin", IsSystem: true},
	{ID: "00000000-0000-0000-0000-0000000000a2", Name: "Teacher", Slug: "teacher", IsSystem: false},
	{ID: "00000000-0000-0000-0000-0000000000a3", Name: "Student", Slug: "student", IsSystem: false},
}
