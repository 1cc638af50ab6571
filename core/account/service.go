package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/trezcool/shule/core"
)

var (
	// errors
	ErrNotFound            = errors.New("account not found")
	ErrEmailExists         = errors.New("an account with this email already exists")
	ErrUsernameExists      = errors.New("an account with this username already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStudentLimitReached = errors.New("student limit reached for this school")
)

type (
	Repository interface {
		CheckUniqueness(ctx context.Context, username, email string, excluded ...Account) error
		CreateAccount(ctx context.Context, acct Account) (Account, error)
		GetAccount(ctx context.Context, filter GetFilter) (Account, error)
		// FilterAccounts applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of
		// Account.FullName, Account.Username or Account.Email.
		FilterAccounts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error)
		CountAccounts(ctx context.Context, filter *QueryFilter) (int, error)
		UpdateAccount(ctx context.Context, acct Account) (Account, error)
		DeleteAccountsByID(ctx context.Context, ids ...string) (int, error)
		// ReserveStudentSlot atomically increments a principal's student count
		// if and only if it is still below MaxStudents; it returns
		// ErrStudentLimitReached otherwise.
		ReserveStudentSlot(ctx context.Context, principalID string) error
		ReleaseStudentSlot(ctx context.Context, principalID string) error
	}

	Service interface {
		CheckUniqueness(ctx context.Context, uname, email string, excluded ...Account) error
		Register(ctx context.Context, data NewPrincipal) (Account, error)
		CreateAdmin(ctx context.Context, data NewAdmin) (Account, error)
		Authenticate(ctx context.Context, uname, pwd string) (Account, error)
		// CheckAccess evaluates the access gate for an authenticated Account,
		// resolving the effective principal for school-scoped roles. It
		// returns an AccessDeniedError when access is blocked.
		CheckAccess(ctx context.Context, acct Account) error
		GetByID(ctx context.Context, id string) (Account, error)
		GetByUsername(ctx context.Context, uname string) (Account, error)
		GetByEmail(ctx context.Context, email string) (Account, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (Account, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error)

		AddStudent(ctx context.Context, actor Account, data NewStudent) (Account, error)
		AddTeacher(ctx context.Context, actor Account, data NewTeacher) (Account, error)
		AddSubadmin(ctx context.Context, actor Account, data NewSubadmin) (Account, error)
		UpdateStudent(ctx context.Context, actor Account, id string, data UpdateStudent) (Account, error)
		DeleteStudent(ctx context.Context, actor Account, id string) error
		Students(ctx context.Context, actor Account, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error)
		Teachers(ctx context.Context, actor Account, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error)

		UpdateProfile(ctx context.Context, acct Account, data UpdateProfile) (Account, error)
		SetAvatar(ctx context.Context, acct Account, url string) (Account, error)
		ChangePassword(ctx context.Context, acct Account, data ChangePassword) (Account, error)
		AttachPaymentSlip(ctx context.Context, acct Account, url string) (Account, error)
		SubscriptionDetails(ctx context.Context, acct Account) (SubscriptionDetails, error)

		SetLastLogin(ctx context.Context, acct Account) (Account, error)
		SetRefreshToken(ctx context.Context, acct Account, token string) (Account, error)
		ClearRefreshToken(ctx context.Context, acct Account) (Account, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetAccountPassword) error
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(repo Repository, mailSvc core.EmailService) Service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, excluded ...Account) error {
	if err := svc.repo.CheckUniqueness(ctx, uname, email, excluded...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// Register creates a new principal Account in StatusPending, awaiting admin
// approval before any access is granted.
func (svc *service) Register(ctx context.Context, data NewPrincipal) (Account, error) {
	now := NowFunc().UTC()
	acct := Account{
		Role:            RolePrincipal,
		FullName:        data.FullName,
		Username:        data.Username,
		Email:           data.Email,
		Phone:           data.Phone,
		Address:         data.Address,
		InstitutionName: data.InstitutionName,
		Status:          StatusPending,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := acct.SetPassword(data.Password); err != nil {
		return Account{}, err
	}

	acct, err := svc.repo.CreateAccount(ctx, acct)
	if err != nil {
		return Account{}, err
	}
	svc.sendRegistrationReceivedMail(acct)
	return acct, nil
}

// CreateAdmin creates a platform administrator Account with immediate access.
// It is only reachable from the admin CLI.
func (svc *service) CreateAdmin(ctx context.Context, data NewAdmin) (Account, error) {
	now := NowFunc().UTC()
	acct := Account{
		Role:      RoleAdmin,
		FullName:  data.FullName,
		Username:  data.Username,
		Email:     data.Email,
		Status:    StatusActive,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// admins bypass the subscription gate but keep a far-off window so that
	// RemainingDays stays meaningful
	acct.SubscriptionStartDate = now
	acct.SubscriptionEndDate = now.AddDate(100, 0, 0)
	if err := acct.SetPassword(data.Password); err != nil {
		return Account{}, err
	}
	return svc.repo.CreateAccount(ctx, acct)
}

func (svc *service) Authenticate(ctx context.Context, uname, pwd string) (Account, error) {
	acct, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return Account{}, err
	}
	if err := svc.CheckAccess(ctx, acct); err != nil {
		return Account{}, err
	}
	if err := acct.CheckPassword(pwd); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return svc.SetLastLogin(ctx, acct)
}

func (svc *service) CheckAccess(ctx context.Context, acct Account) error {
	if acct.IsAdmin() {
		if !acct.IsActive || acct.IsSuspended {
			return AccessDeniedError{Reason: acct.AccessDeniedReason()}
		}
		return nil
	}
	// a blocked account never gets in, whatever its school's standing
	if !acct.IsActive || acct.IsSuspended || acct.Status == StatusSuspended ||
		acct.Status == StatusPending || acct.Status == StatusRejected {
		return AccessDeniedError{Reason: acct.AccessDeniedReason()}
	}

	// school-scoped roles inherit their access window from the owning
	// principal; resolved on every check, never copied onto the child
	gate := acct
	if !acct.IsPrincipal() && acct.PrincipalID != "" {
		principal, err := svc.repo.GetAccount(ctx, GetFilter{ID: acct.PrincipalID})
		if err != nil {
			return err
		}
		gate = principal
	}
	if !gate.CanAccessSystem() {
		return AccessDeniedError{Reason: gate.AccessDeniedReason()}
	}
	return nil
}

func (svc *service) GetByID(ctx context.Context, id string) (Account, error) {
	return svc.repo.GetAccount(ctx, GetFilter{ID: id})
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (Account, error) {
	return svc.repo.GetAccount(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *service) GetByEmail(ctx context.Context, email string) (Account, error) {
	return svc.repo.GetAccount(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (Account, error) {
	return svc.repo.GetAccount(ctx, GetFilter{UsernameOrEmail: []string{core.CleanString(uname, true /* lower */)}})
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error) {
	return svc.repo.FilterAccounts(ctx, filter, ordering)
}

// AddStudent enrolls a new student under the actor's school. The seat is
// reserved with a conditional increment so that two concurrent enrollments
// can never overshoot the school's student limit.
func (svc *service) AddStudent(ctx context.Context, actor Account, data NewStudent) (Account, error) {
	principal, err := svc.GetByID(ctx, actor.EffectivePrincipalID())
	if err != nil {
		return Account{}, err
	}

	if err := svc.repo.ReserveStudentSlot(ctx, principal.ID); err != nil {
		if err == ErrStudentLimitReached {
			return Account{}, core.NewValidationError(err)
		}
		return Account{}, err
	}

	now := NowFunc().UTC()
	acct := Account{
		Role:        RoleStudent,
		FullName:    data.FullName,
		Username:    data.Username,
		Email:       data.Email,
		Phone:       data.Phone,
		PrincipalID: principal.ID,
		StudentID:   data.StudentID,
		Class:       data.Class,
		Section:     data.Section,
		RollNumber:  data.RollNumber,
		Status:      StatusActive, // pre-approved; window inherited from principal
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := acct.SetPassword(data.Password); err != nil {
		svc.releaseStudentSlot(ctx, principal.ID)
		return Account{}, err
	}

	acct, err = svc.repo.CreateAccount(ctx, acct)
	if err != nil {
		svc.releaseStudentSlot(ctx, principal.ID)
		return Account{}, err
	}
	return acct, nil
}

func (svc *service) releaseStudentSlot(ctx context.Context, principalID string) {
	// best effort; a leaked slot is reconciled by the next delete
	_ = svc.repo.ReleaseStudentSlot(ctx, principalID)
}

func (svc *service) AddTeacher(ctx context.Context, actor Account, data NewTeacher) (Account, error) {
	now := NowFunc().UTC()
	acct := Account{
		Role:            RoleTeacher,
		FullName:        data.FullName,
		Username:        data.Username,
		Email:           data.Email,
		Phone:           data.Phone,
		PrincipalID:     actor.EffectivePrincipalID(),
		TeacherID:       data.TeacherID,
		Subjects:        data.Subjects,
		ClassesAssigned: data.ClassesAssigned,
		Status:          StatusActive,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := acct.SetPassword(data.Password); err != nil {
		return Account{}, err
	}
	return svc.repo.CreateAccount(ctx, acct)
}

func (svc *service) AddSubadmin(ctx context.Context, actor Account, data NewSubadmin) (Account, error) {
	now := NowFunc().UTC()
	acct := Account{
		Role:        RoleSubadmin,
		FullName:    data.FullName,
		Username:    data.Username,
		Email:       data.Email,
		Phone:       data.Phone,
		PrincipalID: actor.EffectivePrincipalID(),
		Status:      StatusActive,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := acct.SetPassword(data.Password); err != nil {
		return Account{}, err
	}
	return svc.repo.CreateAccount(ctx, acct)
}

// getOwnedStudent looks a student up and checks that it belongs to the
// actor's school. Out-of-scope students are reported as absent.
func (svc *service) getOwnedStudent(ctx context.Context, actor Account, id string) (Account, error) {
	student, err := svc.GetByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if !student.IsStudent() || student.PrincipalID != actor.EffectivePrincipalID() {
		return Account{}, ErrNotFound
	}
	return student, nil
}

func (svc *service) UpdateStudent(ctx context.Context, actor Account, id string, data UpdateStudent) (Account, error) {
	student, err := svc.getOwnedStudent(ctx, actor, id)
	if err != nil {
		return Account{}, err
	}

	if data.FullName != "" {
		student.FullName = data.FullName
	}
	if data.Email != "" {
		student.Email = data.Email
	}
	if data.Class != 0 {
		student.Class = data.Class
	}
	if data.Section != "" {
		student.Section = data.Section
	}
	if data.RollNumber != "" {
		student.RollNumber = data.RollNumber
	}
	if data.Phone != "" {
		student.Phone = data.Phone
	}
	if data.IsActive != nil {
		student.IsActive = *data.IsActive
	}
	if data.Password != "" {
		if err := student.SetPassword(data.Password); err != nil {
			return Account{}, err
		}
	}
	student.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateAccount(ctx, student)
}

func (svc *service) DeleteStudent(ctx context.Context, actor Account, id string) error {
	student, err := svc.getOwnedStudent(ctx, actor, id)
	if err != nil {
		return err
	}
	if _, err := svc.repo.DeleteAccountsByID(ctx, student.ID); err != nil {
		return err
	}
	return svc.repo.ReleaseStudentSlot(ctx, student.PrincipalID)
}

func (svc *service) Students(ctx context.Context, actor Account, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Role = RoleStudent
	filter.PrincipalID = actor.EffectivePrincipalID()
	return svc.repo.FilterAccounts(ctx, filter, ordering)
}

func (svc *service) Teachers(ctx context.Context, actor Account, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Role = RoleTeacher
	filter.PrincipalID = actor.EffectivePrincipalID()
	return svc.repo.FilterAccounts(ctx, filter, ordering)
}

func (svc *service) UpdateProfile(ctx context.Context, acct Account, data UpdateProfile) (Account, error) {
	if data.FullName != "" {
		acct.FullName = data.FullName
	}
	if data.Email != "" {
		acct.Email = data.Email
	}
	if data.Phone != "" {
		acct.Phone = data.Phone
	}
	if data.Address != "" {
		acct.Address = data.Address
	}
	acct.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateAccount(ctx, acct)
}

func (svc *service) SetAvatar(ctx context.Context, acct Account, url string) (Account, error) {
	acct.Avatar = url
	acct.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateAccount(ctx, acct)
}

func (svc *service) ChangePassword(ctx context.Context, acct Account, data ChangePassword) (Account, error) {
	if err := acct.CheckPassword(data.OldPassword); err != nil {
		return Account{}, core.NewValidationError(
			errors.New("invalid old password"),
			core.FieldError{Field: "old_password", Error: "invalid old password"},
		)
	}
	if err := acct.SetPassword(data.Password); err != nil {
		return Account{}, err
	}
	// a password change revokes any outstanding refresh token
	acct.RefreshToken = ""
	acct.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateAccount(ctx, acct)
}

// AttachPaymentSlip records uploaded payment evidence. It is only allowed
// while on trial or after expiry, and resets any previous verification.
func (svc *service) AttachPaymentSlip(ctx context.Context, acct Account, url string) (Account, error) {
	if !(acct.Status == StatusTrial || acct.Status == StatusExpired) {
		return Account{}, core.NewValidationError(
			errors.New("a payment slip can only be uploaded during the trial period or after expiry"))
	}
	now := NowFunc().UTC()
	acct.PaymentSlip = url
	acct.PaymentSlipUploadedAt = now
	acct.PaymentStatus = PaymentPending
	acct.PaymentVerifiedBy = ""
	acct.PaymentVerifiedAt = time.Time{}
	acct.PaymentRejectionReason = ""
	acct.UpdatedAt = now
	return svc.repo.UpdateAccount(ctx, acct)
}

// SubscriptionDetails reports the account's current standing against its
// effective access window.
type SubscriptionDetails struct {
	Status              string    `json:"status"`
	Plan                string    `json:"plan,omitempty"`
	TrialEndDate        time.Time `json:"trial_end_date,omitempty"`
	SubscriptionEndDate time.Time `json:"subscription_end_date,omitempty"`
	RemainingDays       int       `json:"remaining_days"`
	CanAccess           bool      `json:"can_access"`
	PaymentStatus       string    `json:"payment_status,omitempty"`
	MaxStudents         int       `json:"max_students,omitempty"`
	StudentCount        int       `json:"student_count,omitempty"`
}

func (svc *service) SubscriptionDetails(ctx context.Context, acct Account) (SubscriptionDetails, error) {
	gate := acct
	if !acct.IsPrincipal() && !acct.IsAdmin() && acct.PrincipalID != "" {
		principal, err := svc.GetByID(ctx, acct.PrincipalID)
		if err != nil {
			return SubscriptionDetails{}, err
		}
		gate = principal
	}
	return SubscriptionDetails{
		Status:              gate.Status,
		Plan:                gate.Plan,
		TrialEndDate:        gate.TrialEndDate,
		SubscriptionEndDate: gate.SubscriptionEndDate,
		RemainingDays:       gate.RemainingDays(),
		CanAccess:           gate.CanAccessSystem() && acct.IsActive && !acct.IsSuspended,
		PaymentStatus:       gate.PaymentStatus,
		MaxStudents:         gate.MaxStudents,
		StudentCount:        gate.StudentCount,
	}, nil
}

func (svc *service) SetLastLogin(ctx context.Context, acct Account) (Account, error) {
	acct.LastLogin = NowFunc().UTC()
	return svc.repo.UpdateAccount(ctx, acct)
}

func (svc *service) SetRefreshToken(ctx context.Context, acct Account, token string) (Account, error) {
	acct.RefreshToken = token
	return svc.repo.UpdateAccount(ctx, acct)
}

func (svc *service) ClearRefreshToken(ctx context.Context, acct Account) (Account, error) {
	acct.RefreshToken = ""
	return svc.repo.UpdateAccount(ctx, acct)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	acct, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	go svc.sendPasswordResetMail(acct)
	return nil
}

func (svc *service) ResetPassword(ctx context.Context, data ResetAccountPassword) error {
	id, err := decodeUID(data.UID)
	if err != nil {
		return core.NewValidationError(errInvalidToken)
	}
	acct, err := svc.GetByID(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			return core.NewValidationError(errInvalidToken)
		}
		return err
	}
	if err := verifyToken(acct, data.Token); err != nil {
		return core.NewValidationError(err)
	}

	if err := acct.SetPassword(data.Password); err != nil {
		return err
	}
	acct.RefreshToken = ""
	acct.UpdatedAt = NowFunc().UTC()
	if _, err := svc.repo.UpdateAccount(ctx, acct); err != nil {
		return err
	}
	svc.sendPasswordResetSuccessMail(acct)
	return nil
}

// Mails

func (svc *service) sendRegistrationReceivedMail(acct Account) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: acct.FullName, Address: acct.Email}},
		Subject:      fmt.Sprintf("Welcome to %s! Your access request was received", core.Conf.AppName),
		TemplateName: "registration-received",
		TemplateData: struct {
			FullName        string
			InstitutionName string
		}{acct.FullName, acct.InstitutionName},
	})
}

func (svc *service) sendPasswordResetMail(acct Account) {
	token, err := MakeToken(acct)
	if err != nil {
		return
	}
	url := fmt.Sprintf("%s/reset-password?uid=%s&token=%s", core.Conf.FrontendBaseURL, EncodeUID(acct), token)
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: acct.FullName, Address: acct.Email}},
		Subject:      fmt.Sprintf("Password reset on %s", core.Conf.AppName),
		TemplateName: "password-reset",
		TemplateData: struct {
			FullName string
			URL      string
		}{acct.FullName, url},
	})
}

func (svc *service) sendPasswordResetSuccessMail(acct Account) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: acct.FullName, Address: acct.Email}},
		Subject:      fmt.Sprintf("Your password on %s was changed", core.Conf.AppName),
		TemplateName: "password-reset-success",
		TemplateData: struct{ FullName string }{acct.FullName},
	})
}
