package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/trezcool/shule/core"
)

// DefaultMaxStudents is the student seat allowance granted on approval when
// the admin does not override it.
const DefaultMaxStudents = 50

var (
	errNotPendingApproval  = errors.New("account is not pending approval")
	errNoPaymentSlip       = errors.New("no payment slip is awaiting verification on this account")
	errNotExtendable       = errors.New("only active or expired subscriptions can be extended")
	errSuspensionReasonReq = errors.New("a reason is required to suspend an account")
)

type (
	// ApproveAccount carries the optional overrides an admin may apply when
	// approving a pending access request.
	ApproveAccount struct {
		Plan        string `json:"plan" validate:"omitempty,plan"`
		MaxStudents int    `json:"max_students" validate:"omitempty,min=1"`
	}

	// RejectAccount carries the reason communicated to a rejected applicant.
	RejectAccount struct {
		Reason string `json:"reason" validate:"required"`
	}

	// VerifyPayment sets the length of the subscription window opened when an
	// admin verifies uploaded payment evidence.
	VerifyPayment struct {
		DurationMonths int `json:"duration_months" validate:"required,min=1,max=60"`
	}

	// RejectPayment carries the reason a payment slip was declined.
	RejectPayment struct {
		Reason string `json:"reason" validate:"required"`
	}

	// ToggleSuspension suspends an account (reason required, optional expiry
	// in days) or lifts an existing suspension.
	ToggleSuspension struct {
		Reason       string `json:"reason"`
		DurationDays int    `json:"duration_days" validate:"omitempty,min=1"`
	}

	// ExtendSubscriptionData extends a subscription by whole calendar months.
	ExtendSubscriptionData struct {
		Months int `json:"months" validate:"required,min=1,max=60"`
	}

	// DashboardStats summarizes the platform for the admin dashboard.
	DashboardStats struct {
		TotalAccounts     int `json:"total_accounts"`
		PendingApprovals  int `json:"pending_approvals"`
		PendingPayments   int `json:"pending_payments"`
		TrialAccounts     int `json:"trial_accounts"`
		ActiveAccounts    int `json:"active_accounts"`
		ExpiredAccounts   int `json:"expired_accounts"`
		SuspendedAccounts int `json:"suspended_accounts"`
		Principals        int `json:"principals"`
		Teachers          int `json:"teachers"`
		Students          int `json:"students"`
	}

	// AdminService orchestrates the admin approval, payment verification,
	// suspension, subscription and bulk deletion workflows.
	AdminService interface {
		Accounts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error)
		PendingAccounts(ctx context.Context, ordering []core.DBOrdering) ([]Account, error)
		PaymentSlipAccounts(ctx context.Context, ordering []core.DBOrdering) ([]Account, error)
		Approve(ctx context.Context, admin Account, id string, data ApproveAccount) (Account, error)
		Reject(ctx context.Context, admin Account, id string, data RejectAccount) (Account, error)
		VerifyPayment(ctx context.Context, admin Account, id string, data VerifyPayment) (Account, error)
		RejectPayment(ctx context.Context, admin Account, id string, data RejectPayment) (Account, error)
		ToggleSuspension(ctx context.Context, id string, data ToggleSuspension) (Account, error)
		ExtendSubscription(ctx context.Context, id string, data ExtendSubscriptionData) (Account, error)
		DeleteAccounts(ctx context.Context, ids ...string) (int, error)
		DashboardStats(ctx context.Context) (DashboardStats, error)
	}

	adminService struct {
		repo    Repository
		mailSvc core.EmailService
	}
)

var _ AdminService = (*adminService)(nil) // interface compliance check

func (aa *ApproveAccount) Validate() error {
	aa.Plan = core.CleanString(aa.Plan, true /* lower */)
	return core.Validate.Struct(aa)
}

func (ra *RejectAccount) Validate() error {
	ra.Reason = core.CleanString(ra.Reason)
	return core.Validate.Struct(ra)
}

func (vp *VerifyPayment) Validate() error { return core.Validate.Struct(vp) }

func (rp *RejectPayment) Validate() error {
	rp.Reason = core.CleanString(rp.Reason)
	return core.Validate.Struct(rp)
}

func (ts *ToggleSuspension) Validate() error {
	ts.Reason = core.CleanString(ts.Reason)
	return core.Validate.Struct(ts)
}

func (es *ExtendSubscriptionData) Validate() error { return core.Validate.Struct(es) }

func NewAdminService(repo Repository, mailSvc core.EmailService) AdminService {
	return &adminService{
		repo:    repo,
		mailSvc: mailSvc,
	}
}

func (svc *adminService) Accounts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error) {
	return svc.repo.FilterAccounts(ctx, filter, ordering)
}

func (svc *adminService) PendingAccounts(ctx context.Context, ordering []core.DBOrdering) ([]Account, error) {
	return svc.repo.FilterAccounts(ctx, &QueryFilter{Role: RolePrincipal, Status: StatusPending}, ordering)
}

func (svc *adminService) PaymentSlipAccounts(ctx context.Context, ordering []core.DBOrdering) ([]Account, error) {
	return svc.repo.FilterAccounts(ctx, &QueryFilter{HasPaymentSlip: true, PaymentStatus: PaymentPending}, ordering)
}

// Approve grants a pending principal their trial window and records the
// approval trail. Approving a non-pending account is a wrong-state error.
func (svc *adminService) Approve(ctx context.Context, admin Account, id string, data ApproveAccount) (Account, error) {
	acct, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		return Account{}, err
	}
	if acct.Status != StatusPending {
		return Account{}, core.NewValidationError(errNotPendingApproval)
	}

	acct = StartTrial(acct)
	acct.ApprovedBy = admin.ID
	acct.ApprovedAt = NowFunc().UTC()
	acct.RejectionReason = ""
	if acct.IsPrincipal() {
		acct.Plan = data.Plan
		if acct.Plan == "" {
			acct.Plan = PlanBasic
		}
		acct.MaxStudents = data.MaxStudents
		if acct.MaxStudents == 0 {
			acct.MaxStudents = DefaultMaxStudents
		}
	}
	acct.UpdatedAt = acct.ApprovedAt

	acct, err = svc.repo.UpdateAccount(ctx, acct)
	if err != nil {
		return Account{}, err
	}
	svc.sendApprovedMail(acct)
	return acct, nil
}

// Reject declines a pending access request. Rejection is terminal.
func (svc *adminService) Reject(ctx context.Context, admin Account, id string, data RejectAccount) (Account, error) {
	acct, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		return Account{}, err
	}
	if acct.Status != StatusPending {
		return Account{}, core.NewValidationError(errNotPendingApproval)
	}

	acct.Status = StatusRejected
	acct.RejectionReason = data.Reason
	acct.ApprovedBy = admin.ID
	acct.ApprovedAt = NowFunc().UTC()
	acct.UpdatedAt = acct.ApprovedAt

	acct, err = svc.repo.UpdateAccount(ctx, acct)
	if err != nil {
		return Account{}, err
	}
	svc.sendRejectedMail(acct)
	return acct, nil
}

// VerifyPayment accepts uploaded payment evidence and opens the paid
// subscription window.
func (svc *adminService) VerifyPayment(ctx context.Context, admin Account, id string, data VerifyPayment) (Account, error) {
	acct, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		return Account{}, err
	}
	if acct.PaymentSlip == "" || acct.PaymentStatus != PaymentPending {
		return Account{}, core.NewValidationError(errNoPaymentSlip)
	}

	acct = ActivateSubscription(acct, data.DurationMonths)
	acct.PaymentVerifiedBy = admin.ID
	acct.PaymentVerifiedAt = NowFunc().UTC()
	acct.PaymentRejectionReason = ""
	acct.UpdatedAt = acct.PaymentVerifiedAt

	acct, err = svc.repo.UpdateAccount(ctx, acct)
	if err != nil {
		return Account{}, err
	}
	svc.sendPaymentVerifiedMail(acct)
	return acct, nil
}

// RejectPayment declines uploaded payment evidence; the account keeps its
// current status and may upload a new slip.
func (svc *adminService) RejectPayment(ctx context.Context, admin Account, id string, data RejectPayment) (Account, error) {
	acct, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		return Account{}, err
	}
	if acct.PaymentSlip == "" || acct.PaymentStatus != PaymentPending {
		return Account{}, core.NewValidationError(errNoPaymentSlip)
	}

	acct.PaymentStatus = PaymentRejected
	acct.PaymentRejectionReason = data.Reason
	acct.PaymentVerifiedBy = admin.ID
	acct.PaymentVerifiedAt = NowFunc().UTC()
	acct.UpdatedAt = acct.PaymentVerifiedAt

	acct, err = svc.repo.UpdateAccount(ctx, acct)
	if err != nil {
		return Account{}, err
	}
	svc.sendPaymentRejectedMail(acct)
	return acct, nil
}

// ToggleSuspension suspends the account or lifts an existing suspension.
// The lifecycle status is untouched, so unsuspending restores the account
// to its pre-suspension standing.
func (svc *adminService) ToggleSuspension(ctx context.Context, id string, data ToggleSuspension) (Account, error) {
	acct, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		return Account{}, err
	}

	if acct.IsSuspended {
		acct = Unsuspend(acct)
	} else {
		if data.Reason == "" {
			return Account{}, core.NewValidationError(errSuspensionReasonReq,
				core.FieldError{Field: "reason", Error: errSuspensionReasonReq.Error()})
		}
		acct = Suspend(acct, data.Reason, data.DurationDays)
	}
	acct.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateAccount(ctx, acct)
}

// ExtendSubscription pushes an active or expired subscription out by whole
// calendar months, counting from the later of the current end and now.
func (svc *adminService) ExtendSubscription(ctx context.Context, id string, data ExtendSubscriptionData) (Account, error) {
	acct, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		return Account{}, err
	}
	if !(acct.Status == StatusActive || acct.Status == StatusExpired) {
		return Account{}, core.NewValidationError(errNotExtendable)
	}

	acct = ExtendSubscription(acct, data.Months)
	acct.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateAccount(ctx, acct)
}

func (svc *adminService) DeleteAccounts(ctx context.Context, ids ...string) (int, error) {
	return svc.repo.DeleteAccountsByID(ctx, ids...)
}

func (svc *adminService) DashboardStats(ctx context.Context) (DashboardStats, error) {
	var stats DashboardStats
	counts := []struct {
		dst    *int
		filter *QueryFilter
	}{
		{&stats.TotalAccounts, nil},
		{&stats.PendingApprovals, &QueryFilter{Status: StatusPending}},
		{&stats.PendingPayments, &QueryFilter{HasPaymentSlip: true, PaymentStatus: PaymentPending}},
		{&stats.TrialAccounts, &QueryFilter{Status: StatusTrial}},
		{&stats.ActiveAccounts, &QueryFilter{Status: StatusActive}},
		{&stats.ExpiredAccounts, &QueryFilter{Status: StatusExpired}},
		{&stats.SuspendedAccounts, &QueryFilter{Status: StatusSuspended}},
		{&stats.Principals, &QueryFilter{Role: RolePrincipal}},
		{&stats.Teachers, &QueryFilter{Role: RoleTeacher}},
		{&stats.Students, &QueryFilter{Role: RoleStudent}},
	}
	for _, c := range counts {
		n, err := svc.repo.CountAccounts(ctx, c.filter)
		if err != nil {
			return DashboardStats{}, err
		}
		*c.dst = n
	}
	return stats, nil
}

// Mails

func (svc *adminService) sendApprovedMail(acct Account) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: acct.FullName, Address: acct.Email}},
		Subject:      fmt.Sprintf("Your %s access request was approved", core.Conf.AppName),
		TemplateName: "account-approved",
		TemplateData: struct {
			FullName  string
			TrialDays int
		}{acct.FullName, TrialDays},
	})
}

func (svc *adminService) sendRejectedMail(acct Account) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: acct.FullName, Address: acct.Email}},
		Subject:      fmt.Sprintf("Your %s access request was declined", core.Conf.AppName),
		TemplateName: "account-rejected",
		TemplateData: struct {
			FullName string
			Reason   string
		}{acct.FullName, acct.RejectionReason},
	})
}

func (svc *adminService) sendPaymentVerifiedMail(acct Account) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: acct.FullName, Address: acct.Email}},
		Subject:      "Your payment was verified",
		TemplateName: "payment-verified",
		TemplateData: struct {
			FullName string
			EndDate  string
		}{acct.FullName, acct.SubscriptionEndDate.Format("Jan 2, 2006")},
	})
}

func (svc *adminService) sendPaymentRejectedMail(acct Account) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: acct.FullName, Address: acct.Email}},
		Subject:      "Your payment could not be verified",
		TemplateName: "payment-rejected",
		TemplateData: struct {
			FullName string
			Reason   string
		}{acct.FullName, acct.PaymentRejectionReason},
	})
}
