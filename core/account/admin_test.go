package account

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/shule/core"
	appfs "github.com/trezcool/shule/fs"
	emailsvc "github.com/trezcool/shule/services/email"
)

func newTestAdminService(t *testing.T) (AdminService, *fakeRepo) {
	t.Helper()
	core.SetMailTemplatesFS(appfs.FS)
	emailsvc.SentMessages = emailsvc.SentMessages[:0]
	repo := newFakeRepo()
	return NewAdminService(repo, emailsvc.NewConsoleServiceMock()), repo
}

func seedAdmin(t *testing.T, repo *fakeRepo) Account {
	t.Helper()
	now := NowFunc().UTC()
	acct := Account{
		Role:      RoleAdmin,
		FullName:  "Root Admin",
		Username:  "root",
		Email:     "root@test.test",
		Status:    StatusActive,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	acct, err := repo.CreateAccount(context.Background(), acct)
	if err != nil {
		t.Fatal(err)
	}
	return acct
}

func seedPendingPrincipal(t *testing.T, repo *fakeRepo, uname string) Account {
	t.Helper()
	now := NowFunc().UTC()
	acct := Account{
		Role:            RolePrincipal,
		FullName:        "Jane Principal",
		Username:        uname,
		Email:           uname + "@test.test",
		InstitutionName: "Acme School",
		Status:          StatusPending,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_ = acct.SetPassword("Sup3r$ecret")
	acct, err := repo.CreateAccount(context.Background(), acct)
	if err != nil {
		t.Fatal(err)
	}
	return acct
}

func TestAdminApprove(t *testing.T) {
	svc, repo := newTestAdminService(t)
	ctx := context.Background()
	now := time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC)
	mockNow(t, now)

	admin := seedAdmin(t, repo)
	pending := seedPendingPrincipal(t, repo, "acmejane")

	acct, err := svc.Approve(ctx, admin, pending.ID, ApproveAccount{})
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	if acct.Status != StatusTrial {
		t.Errorf("Status = %v, want %v", acct.Status, StatusTrial)
	}
	if want := now.AddDate(0, 0, TrialDays); !acct.TrialEndDate.Equal(want) {
		t.Errorf("TrialEndDate = %v, want %v", acct.TrialEndDate, want)
	}
	if acct.ApprovedBy != admin.ID {
		t.Errorf("ApprovedBy = %v, want %v", acct.ApprovedBy, admin.ID)
	}
	if acct.Plan != PlanBasic {
		t.Errorf("Plan = %v, want default %v", acct.Plan, PlanBasic)
	}
	if acct.MaxStudents != DefaultMaxStudents {
		t.Errorf("MaxStudents = %d, want default %d", acct.MaxStudents, DefaultMaxStudents)
	}
	if !acct.CanAccessSystem() {
		t.Error("CanAccessSystem() = false right after approval")
	}
	if len(emailsvc.SentMessages) != 1 || emailsvc.SentMessages[0].TemplateName != "account-approved" {
		t.Errorf("approval mail not sent: %+v", emailsvc.SentMessages)
	}

	// approving twice is a wrong-state error
	if _, err := svc.Approve(ctx, admin, pending.ID, ApproveAccount{}); err == nil {
		t.Error("Approve() on a non-pending account = nil, want ValidationError")
	}
}

func TestAdminApproveWithOverrides(t *testing.T) {
	svc, repo := newTestAdminService(t)
	ctx := context.Background()
	admin := seedAdmin(t, repo)
	pending := seedPendingPrincipal(t, repo, "acmejane")

	acct, err := svc.Approve(ctx, admin, pending.ID, ApproveAccount{Plan: PlanPremium, MaxStudents: 500})
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if acct.Plan != PlanPremium {
		t.Errorf("Plan = %v, want %v", acct.Plan, PlanPremium)
	}
	if acct.MaxStudents != 500 {
		t.Errorf("MaxStudents = %d, want 500", acct.MaxStudents)
	}
}

func TestAdminReject(t *testing.T) {
	svc, repo := newTestAdminService(t)
	ctx := context.Background()
	admin := seedAdmin(t, repo)
	pending := seedPendingPrincipal(t, repo, "acmejane")

	acct, err := svc.Reject(ctx, admin, pending.ID, RejectAccount{Reason: "unverifiable institution"})
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if acct.Status != StatusRejected {
		t.Errorf("Status = %v, want %v", acct.Status, StatusRejected)
	}
	if acct.RejectionReason != "unverifiable institution" {
		t.Errorf("RejectionReason = %q", acct.RejectionReason)
	}
	if len(emailsvc.SentMessages) != 1 || emailsvc.SentMessages[0].TemplateName != "account-rejected" {
		t.Errorf("rejection mail not sent: %+v", emailsvc.SentMessages)
	}

	// rejection is terminal
	if _, err := svc.Approve(ctx, admin, pending.ID, ApproveAccount{}); err == nil {
		t.Error("Approve() on a rejected account = nil, want ValidationError")
	}
}

func TestAdminVerifyPayment(t *testing.T) {
	svc, repo := newTestAdminService(t)
	ctx := context.Background()
	now := time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC)
	mockNow(t, now)

	admin := seedAdmin(t, repo)
	pending := seedPendingPrincipal(t, repo, "acmejane")

	// no slip on file yet
	if _, err := svc.VerifyPayment(ctx, admin, pending.ID, VerifyPayment{DurationMonths: 12}); err == nil {
		t.Error("VerifyPayment() without a slip = nil, want ValidationError")
	}

	acct, _ := repo.GetAccount(ctx, GetFilter{ID: pending.ID})
	acct.Status = StatusTrial
	acct.PaymentSlip = "/media/slips/1.png"
	acct.PaymentSlipUploadedAt = now
	acct.PaymentStatus = PaymentPending
	if _, err := repo.UpdateAccount(ctx, acct); err != nil {
		t.Fatal(err)
	}

	acct, err := svc.VerifyPayment(ctx, admin, acct.ID, VerifyPayment{DurationMonths: 12})
	if err != nil {
		t.Fatalf("VerifyPayment() error = %v", err)
	}
	if acct.Status != StatusActive {
		t.Errorf("Status = %v, want %v", acct.Status, StatusActive)
	}
	if acct.PaymentStatus != PaymentVerified {
		t.Errorf("PaymentStatus = %v, want %v", acct.PaymentStatus, PaymentVerified)
	}
	if want := now.AddDate(0, 12, 0); !acct.SubscriptionEndDate.Equal(want) {
		t.Errorf("SubscriptionEndDate = %v, want %v", acct.SubscriptionEndDate, want)
	}
	if acct.PaymentVerifiedBy != admin.ID {
		t.Errorf("PaymentVerifiedBy = %v, want %v", acct.PaymentVerifiedBy, admin.ID)
	}
	if len(emailsvc.SentMessages) != 1 || emailsvc.SentMessages[0].TemplateName != "payment-verified" {
		t.Errorf("verification mail not sent: %+v", emailsvc.SentMessages)
	}

	// the slip was consumed
	if _, err := svc.VerifyPayment(ctx, admin, acct.ID, VerifyPayment{DurationMonths: 12}); err == nil {
		t.Error("VerifyPayment() twice = nil, want ValidationError")
	}
}

func TestAdminRejectPayment(t *testing.T) {
	svc, repo := newTestAdminService(t)
	ctx := context.Background()
	admin := seedAdmin(t, repo)
	acct := seedPendingPrincipal(t, repo, "acmejane")

	acct.Status = StatusTrial
	acct.PaymentSlip = "/media/slips/1.png"
	acct.PaymentStatus = PaymentPending
	if _, err := repo.UpdateAccount(ctx, acct); err != nil {
		t.Fatal(err)
	}

	acct, err := svc.RejectPayment(ctx, admin, acct.ID, RejectPayment{Reason: "illegible slip"})
	if err != nil {
		t.Fatalf("RejectPayment() error = %v", err)
	}
	if acct.PaymentStatus != PaymentRejected {
		t.Errorf("PaymentStatus = %v, want %v", acct.PaymentStatus, PaymentRejected)
	}
	// the account keeps its standing and may retry
	if acct.Status != StatusTrial {
		t.Errorf("Status = %v, want untouched %v", acct.Status, StatusTrial)
	}
	if len(emailsvc.SentMessages) != 1 || emailsvc.SentMessages[0].TemplateName != "payment-rejected" {
		t.Errorf("rejection mail not sent: %+v", emailsvc.SentMessages)
	}
}

func TestAdminToggleSuspension(t *testing.T) {
	svc, repo := newTestAdminService(t)
	ctx := context.Background()
	now := time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC)
	mockNow(t, now)

	acct := seedPendingPrincipal(t, repo, "acmejane")
	acct.Status = StatusActive
	acct.SubscriptionEndDate = now.AddDate(0, 6, 0)
	if _, err := repo.UpdateAccount(ctx, acct); err != nil {
		t.Fatal(err)
	}

	// a reason is required to suspend
	if _, err := svc.ToggleSuspension(ctx, acct.ID, ToggleSuspension{}); err == nil {
		t.Error("ToggleSuspension() without a reason = nil, want ValidationError")
	}

	acct, err := svc.ToggleSuspension(ctx, acct.ID, ToggleSuspension{Reason: "unpaid dues", DurationDays: 7})
	if err != nil {
		t.Fatalf("ToggleSuspension() error = %v", err)
	}
	if !acct.IsSuspended {
		t.Error("IsSuspended = false after suspension")
	}
	if acct.Status != StatusActive {
		t.Errorf("Status = %v, want untouched %v", acct.Status, StatusActive)
	}
	if acct.CanAccessSystem() {
		t.Error("CanAccessSystem() = true while suspended")
	}

	// toggling again lifts the suspension and restores access
	acct, err = svc.ToggleSuspension(ctx, acct.ID, ToggleSuspension{})
	if err != nil {
		t.Fatalf("ToggleSuspension() error = %v", err)
	}
	if acct.IsSuspended || acct.SuspensionReason != "" || !acct.SuspensionExpires.IsZero() {
		t.Errorf("suspension fields not cleared: %+v", acct)
	}
	if !acct.CanAccessSystem() {
		t.Error("CanAccessSystem() = false after unsuspension")
	}
}

func TestAdminExtendSubscription(t *testing.T) {
	svc, repo := newTestAdminService(t)
	ctx := context.Background()
	now := time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC)
	mockNow(t, now)

	acct := seedPendingPrincipal(t, repo, "acmejane")

	// pending accounts have nothing to extend
	if _, err := svc.ExtendSubscription(ctx, acct.ID, ExtendSubscriptionData{Months: 3}); err == nil {
		t.Error("ExtendSubscription() on a pending account = nil, want ValidationError")
	}

	acct.Status = StatusExpired
	acct.SubscriptionStartDate = now.AddDate(-1, 0, 0)
	acct.SubscriptionEndDate = now.AddDate(0, -1, 0)
	if _, err := repo.UpdateAccount(ctx, acct); err != nil {
		t.Fatal(err)
	}

	acct, err := svc.ExtendSubscription(ctx, acct.ID, ExtendSubscriptionData{Months: 3})
	if err != nil {
		t.Fatalf("ExtendSubscription() error = %v", err)
	}
	if acct.Status != StatusActive {
		t.Errorf("Status = %v, want %v", acct.Status, StatusActive)
	}
	if want := now.AddDate(0, 3, 0); !acct.SubscriptionEndDate.Equal(want) {
		t.Errorf("SubscriptionEndDate = %v, want %v", acct.SubscriptionEndDate, want)
	}
}

func TestAdminDashboardStats(t *testing.T) {
	svc, repo := newTestAdminService(t)
	ctx := context.Background()

	seedAdmin(t, repo)
	seedPendingPrincipal(t, repo, "pending1")
	seedPendingPrincipal(t, repo, "pending2")
	trial := seedPendingPrincipal(t, repo, "trialjane")
	trial.Status = StatusTrial
	trial.PaymentSlip = "/media/slips/1.png"
	trial.PaymentStatus = PaymentPending
	if _, err := repo.UpdateAccount(ctx, trial); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.DashboardStats(ctx)
	if err != nil {
		t.Fatalf("DashboardStats() error = %v", err)
	}
	if stats.TotalAccounts != 4 {
		t.Errorf("TotalAccounts = %d, want 4", stats.TotalAccounts)
	}
	if stats.PendingApprovals != 2 {
		t.Errorf("PendingApprovals = %d, want 2", stats.PendingApprovals)
	}
	if stats.PendingPayments != 1 {
		t.Errorf("PendingPayments = %d, want 1", stats.PendingPayments)
	}
	if stats.Principals != 3 {
		t.Errorf("Principals = %d, want 3", stats.Principals)
	}
}
