package account

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/shule/core"
)

// Roles
const (
	RoleAdmin     = "admin"
	RolePrincipal = "principal"
	RoleSubadmin  = "subadmin"
	RoleTeacher   = "teacher"
	RoleStudent   = "student"
)

// Account statuses
const (
	StatusPending   = "pending"
	StatusTrial     = "trial"
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusSuspended = "suspended"
	StatusRejected  = "rejected"
)

// Payment slip statuses
const (
	PaymentPending  = "pending"
	PaymentVerified = "verified"
	PaymentRejected = "rejected"
)

// Subscription plans
const (
	PlanBasic    = "basic"
	PlanStandard = "standard"
	PlanPremium  = "premium"
)

var (
	AllRoles = []string{RoleAdmin, RolePrincipal, RoleSubadmin, RoleTeacher, RoleStudent}
	AllPlans = []string{PlanBasic, PlanStandard, PlanPremium}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Sub Admin", Value: RoleSubadmin},
		{Name: "Principal", Value: RolePrincipal},
		{Name: "Admin", Value: RoleAdmin},
	}

	rolePriorities = map[string]int{
		RoleAdmin:     30,
		RolePrincipal: 20,
		RoleSubadmin:  15,
		RoleTeacher:   10,
		RoleStudent:   1,
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ClassAssignment is a class/section pair a teacher is assigned to.
type ClassAssignment struct {
	Class   int    `json:"class" validate:"required,min=1,max=12"`
	Section string `json:"section"`
}

type Account struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	FullName string `json:"full_name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Avatar   string `json:"avatar,omitempty"`

	// access control
	Status            string    `json:"status"`
	IsActive          bool      `json:"is_active"`
	IsSuspended       bool      `json:"is_suspended"`
	SuspensionReason  string    `json:"suspension_reason,omitempty"`
	SuspensionExpires time.Time `json:"suspension_expires,omitempty"` // UTC; zero: indefinite

	// trial & subscription windows (UTC; zero: unset)
	TrialStartDate        time.Time `json:"trial_start_date,omitempty"`
	TrialEndDate          time.Time `json:"trial_end_date,omitempty"`
	Plan                  string    `json:"plan,omitempty"`
	SubscriptionStartDate time.Time `json:"subscription_start_date,omitempty"`
	SubscriptionEndDate   time.Time `json:"subscription_end_date,omitempty"`

	// payment evidence
	PaymentSlip            string    `json:"payment_slip,omitempty"`
	PaymentSlipUploadedAt  time.Time `json:"payment_slip_uploaded_at,omitempty"`
	PaymentStatus          string    `json:"payment_status,omitempty"`
	PaymentVerifiedBy      string    `json:"payment_verified_by,omitempty"`
	PaymentVerifiedAt      time.Time `json:"payment_verified_at,omitempty"`
	PaymentRejectionReason string    `json:"payment_rejection_reason,omitempty"`

	// admin workflow audit trail
	ApprovedBy      string    `json:"approved_by,omitempty"`
	ApprovedAt      time.Time `json:"approved_at,omitempty"`
	RejectionReason string    `json:"rejection_reason,omitempty"`

	// principal attributes; PrincipalID links students/teachers/subadmins
	// to the principal account that owns them.
	PrincipalID     string `json:"principal_id,omitempty"`
	InstitutionName string `json:"institution_name,omitempty"`
	MaxStudents     int    `json:"max_students,omitempty"`
	StudentCount    int    `json:"student_count,omitempty"`

	// student attributes
	StudentID  string `json:"student_id,omitempty"`
	Class      int    `json:"class,omitempty"`
	Section    string `json:"section,omitempty"`
	RollNumber string `json:"roll_number,omitempty"`

	// teacher attributes
	TeacherID       string            `json:"teacher_id,omitempty"`
	Subjects        []string          `json:"subjects,omitempty"`
	ClassesAssigned []ClassAssignment `json:"classes_assigned,omitempty"`

	PasswordHash []byte `json:"-"`
	RefreshToken string `json:"-"`

	LastLogin time.Time `json:"last_login"` // UTC
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (a *Account) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (a *Account) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(pwd))
}

func (a *Account) IsAdmin() bool     { return a.Role == RoleAdmin }
func (a *Account) IsPrincipal() bool { return a.Role == RolePrincipal }
func (a *Account) IsSubadmin() bool  { return a.Role == RoleSubadmin }
func (a *Account) IsTeacher() bool   { return a.Role == RoleTeacher }
func (a *Account) IsStudent() bool   { return a.Role == RoleStudent }

// IsPrincipalStaff reports whether the account belongs to a school's management
// (the principal themselves or one of their subadmins).
func (a *Account) IsPrincipalStaff() bool {
	return a.IsPrincipal() || a.IsSubadmin()
}

// EffectivePrincipalID resolves the principal account that owns this account:
// the account itself for principals, the linked principal for everyone else.
func (a *Account) EffectivePrincipalID() string {
	if a.IsPrincipal() {
		return a.ID
	}
	return a.PrincipalID
}

// NewPrincipal contains information needed to register a new principal Account.
// Registration always lands in StatusPending awaiting admin approval.
type NewPrincipal struct {
	FullName        string `json:"full_name" validate:"required"`
	Username        string `json:"username" validate:"required,min=4,alphanum_"`
	Email           string `json:"email" validate:"required,email"`
	Phone           string `json:"phone" validate:"omitempty,min=7"`
	InstitutionName string `json:"institution_name" validate:"required"`
	Address         string `json:"address"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (np *NewPrincipal) Validate(ctx context.Context, svc Service) error {
	np.FullName = core.CleanString(np.FullName)
	np.Username = core.CleanString(np.Username, true /* lower */)
	np.Email = core.CleanString(np.Email, true /* lower */)
	np.InstitutionName = core.CleanString(np.InstitutionName)

	if err := core.Validate.Struct(np); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, np.Username, np.Email)
}

// NewStudent contains information needed for a principal or subadmin to
// enroll a new student Account under their school.
type NewStudent struct {
	FullName        string `json:"full_name" validate:"required"`
	Username        string `json:"username" validate:"required,min=4,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	StudentID       string `json:"student_id" validate:"required"`
	Class           int    `json:"class" validate:"required,min=1,max=12"`
	Section         string `json:"section"`
	RollNumber      string `json:"roll_number"`
	Phone           string `json:"phone" validate:"omitempty,min=7"`
}

func (ns *NewStudent) Validate(ctx context.Context, svc Service) error {
	ns.FullName = core.CleanString(ns.FullName)
	ns.Username = core.CleanString(ns.Username, true /* lower */)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	ns.StudentID = core.CleanString(ns.StudentID)
	ns.Section = core.CleanString(ns.Section, true /* lower */)

	if err := core.Validate.Struct(ns); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, ns.Username, ns.Email)
}

// NewTeacher contains information needed for a principal or subadmin to
// add a new teacher Account under their school.
type NewTeacher struct {
	FullName        string            `json:"full_name" validate:"required"`
	Username        string            `json:"username" validate:"required,min=4,alphanum_"`
	Email           string            `json:"email" validate:"omitempty,email"`
	Password        string            `json:"password" validate:"required"`
	PasswordConfirm string            `json:"password_confirm" validate:"required,eqfield=Password"`
	TeacherID       string            `json:"teacher_id"`
	Subjects        []string          `json:"subjects"`
	ClassesAssigned []ClassAssignment `json:"classes_assigned" validate:"omitempty,dive"`
	Phone           string            `json:"phone" validate:"omitempty,min=7"`
}

func (nt *NewTeacher) Validate(ctx context.Context, svc Service) error {
	nt.FullName = core.CleanString(nt.FullName)
	nt.Username = core.CleanString(nt.Username, true /* lower */)
	nt.Email = core.CleanString(nt.Email, true /* lower */)
	for i, subj := range nt.Subjects {
		nt.Subjects[i] = core.CleanString(subj)
	}

	if err := core.Validate.Struct(nt); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nt.Username, nt.Email)
}

// NewSubadmin contains information needed for a principal to delegate
// school administration to a new subadmin Account.
type NewSubadmin struct {
	FullName        string `json:"full_name" validate:"required"`
	Username        string `json:"username" validate:"required,min=4,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Phone           string `json:"phone" validate:"omitempty,min=7"`
}

func (na *NewSubadmin) Validate(ctx context.Context, svc Service) error {
	na.FullName = core.CleanString(na.FullName)
	na.Username = core.CleanString(na.Username, true /* lower */)
	na.Email = core.CleanString(na.Email, true /* lower */)

	if err := core.Validate.Struct(na); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, na.Username, na.Email)
}

// NewAdmin contains information needed to create a platform administrator
// Account. Only the admin CLI may use it.
type NewAdmin struct {
	FullName        string `json:"full_name" validate:"required"`
	Username        string `json:"username" validate:"required,min=4,alphanum_"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (na *NewAdmin) Validate(ctx context.Context, svc Service) error {
	na.FullName = core.CleanString(na.FullName)
	na.Username = core.CleanString(na.Username, true /* lower */)
	na.Email = core.CleanString(na.Email, true /* lower */)

	if err := core.Validate.Struct(na); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, na.Username, na.Email)
}

// UpdateStudent defines what information may be provided to modify an
// existing student Account. Zero values are left unchanged.
type UpdateStudent struct {
	FullName        string `json:"full_name"`
	Email           string `json:"email" validate:"omitempty,email"`
	Class           int    `json:"class" validate:"omitempty,min=1,max=12"`
	Section         string `json:"section"`
	RollNumber      string `json:"roll_number"`
	Phone           string `json:"phone" validate:"omitempty,min=7"`
	IsActive        *bool  `json:"is_active"`
	Password        string `json:"password" validate:"omitempty"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (us *UpdateStudent) Validate(ctx context.Context, orig Account, svc Service) error {
	us.FullName = core.CleanString(us.FullName)
	us.Section = core.CleanString(us.Section, true /* lower */)

	email := core.CleanString(us.Email, true /* lower */)
	if email == "" {
		email = orig.Email
	}
	us.Email = email

	if err := core.Validate.Struct(us); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, orig.Username, us.Email, orig)
}

// UpdateProfile defines the self-service profile fields any authenticated
// account may change.
type UpdateProfile struct {
	FullName string `json:"full_name"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,min=7"`
	Address  string `json:"address"`
}

func (up *UpdateProfile) Validate(ctx context.Context, orig Account, svc Service) error {
	up.FullName = core.CleanString(up.FullName)

	email := core.CleanString(up.Email, true /* lower */)
	if email == "" {
		email = orig.Email
	}
	up.Email = email

	if err := core.Validate.Struct(up); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, orig.Username, up.Email, orig)
}

// ChangePassword defines the payload for an authenticated password change.
type ChangePassword struct {
	OldPassword     string `json:"old_password" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (cp *ChangePassword) Validate() error { return core.Validate.Struct(cp) }

// ResetAccountPassword defines the payload for a password reset confirmation.
type ResetAccountPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetAccountPassword) Validate() error { return core.Validate.Struct(rp) }

type QueryFilter struct {
	Search         string    `query:"search"`
	Role           string    `query:"role"`
	Status         string    `query:"status"`
	PrincipalID    string    `query:"-"`
	Class          int       `query:"class"`
	Section        string    `query:"section"`
	IsActive       *bool     `query:"is_active"`
	HasPaymentSlip bool      `query:"-"`
	PaymentStatus  string    `query:"payment_status"`
	CreatedFrom    time.Time `query:"created_from"`
	CreatedTo      time.Time `query:"created_to"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Role = core.CleanString(qf.Role, true /* lower */)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.Section = core.CleanString(qf.Section, true /* lower */)
	qf.PaymentStatus = core.CleanString(qf.PaymentStatus, true /* lower */)
}

// GetFilter looks an Account up by exactly one of its unique attributes.
type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail []string // 1: both checked against it; 2: (username, email)
}
