package account

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	appfs "github.com/trezcool/shule/fs"
	emailsvc "github.com/trezcool/shule/services/email"
)

// fakeRepo is a mutex-guarded in-memory Repository used by the service and
// admin workflow tests.
type fakeRepo struct {
	mu    sync.Mutex
	accts map[string]Account
}

var _ Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{accts: make(map[string]Account)}
}

func (repo *fakeRepo) CheckUniqueness(ctx context.Context, username, email string, excluded ...Account) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, acct := range repo.accts {
		var excl bool
		for _, ex := range excluded {
			if ex.ID == acct.ID {
				excl = true
				break
			}
		}
		if excl {
			continue
		}
		if username != "" && acct.Username == username {
			return ErrUsernameExists
		}
		if email != "" && acct.Email == email {
			return ErrEmailExists
		}
	}
	return nil
}

func (repo *fakeRepo) CreateAccount(ctx context.Context, acct Account) (Account, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	acct.ID = uuid.New().String()
	repo.accts[acct.ID] = acct
	return acct, nil
}

func (repo *fakeRepo) GetAccount(ctx context.Context, filter GetFilter) (Account, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if filter.ID != "" {
		if acct, ok := repo.accts[filter.ID]; ok {
			return acct, nil
		}
		return Account{}, ErrNotFound
	}
	for _, acct := range repo.accts {
		switch {
		case filter.Username != "" && acct.Username == filter.Username:
			return acct, nil
		case filter.Email != "" && acct.Email == filter.Email:
			return acct, nil
		case filter.UsernameOrEmail != nil:
			uname := filter.UsernameOrEmail[0]
			email := uname
			if len(filter.UsernameOrEmail) == 2 && filter.UsernameOrEmail[1] != "" {
				email = filter.UsernameOrEmail[1]
			}
			if acct.Username == uname || acct.Email == email {
				return acct, nil
			}
		}
	}
	return Account{}, ErrNotFound
}

func (repo *fakeRepo) matches(acct Account, filter *QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Role != "" && acct.Role != filter.Role {
		return false
	}
	if filter.Status != "" && acct.Status != filter.Status {
		return false
	}
	if filter.PrincipalID != "" && acct.PrincipalID != filter.PrincipalID {
		return false
	}
	if filter.HasPaymentSlip && acct.PaymentSlip == "" {
		return false
	}
	if filter.PaymentStatus != "" && acct.PaymentStatus != filter.PaymentStatus {
		return false
	}
	if filter.Class != 0 && acct.Class != filter.Class {
		return false
	}
	if filter.IsActive != nil && acct.IsActive != *filter.IsActive {
		return false
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		if !(strings.Contains(strings.ToLower(acct.FullName), needle) ||
			strings.Contains(acct.Username, needle) ||
			strings.Contains(acct.Email, needle)) {
			return false
		}
	}
	return true
}

func (repo *fakeRepo) FilterAccounts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	var accts []Account
	for _, acct := range repo.accts {
		if repo.matches(acct, filter) {
			accts = append(accts, acct)
		}
	}
	return accts, nil
}

func (repo *fakeRepo) CountAccounts(ctx context.Context, filter *QueryFilter) (int, error) {
	accts, err := repo.FilterAccounts(ctx, filter, nil)
	return len(accts), err
}

func (repo *fakeRepo) UpdateAccount(ctx context.Context, acct Account) (Account, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if _, ok := repo.accts[acct.ID]; !ok {
		return Account{}, ErrNotFound
	}
	repo.accts[acct.ID] = acct
	return acct, nil
}

func (repo *fakeRepo) DeleteAccountsByID(ctx context.Context, ids ...string) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	var cnt int
	for _, id := range ids {
		if _, ok := repo.accts[id]; ok {
			delete(repo.accts, id)
			cnt++
		}
	}
	return cnt, nil
}

func (repo *fakeRepo) ReserveStudentSlot(ctx context.Context, principalID string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	principal, ok := repo.accts[principalID]
	if !ok {
		return ErrNotFound
	}
	if principal.StudentCount >= principal.MaxStudents {
		return ErrStudentLimitReached
	}
	principal.StudentCount++
	repo.accts[principalID] = principal
	return nil
}

func (repo *fakeRepo) ReleaseStudentSlot(ctx context.Context, principalID string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	principal, ok := repo.accts[principalID]
	if !ok {
		return ErrNotFound
	}
	if principal.StudentCount > 0 {
		principal.StudentCount--
	}
	repo.accts[principalID] = principal
	return nil
}

func newTestService(t *testing.T) (Service, *fakeRepo) {
	t.Helper()
	core.SetMailTemplatesFS(appfs.FS)
	emailsvc.SentMessages = emailsvc.SentMessages[:0]
	repo := newFakeRepo()
	return NewServiceMock(repo, emailsvc.NewConsoleServiceMock()), repo
}

// seedPrincipal stores a principal on a valid trial.
func seedPrincipal(t *testing.T, repo *fakeRepo, uname string) Account {
	t.Helper()
	now := NowFunc().UTC()
	acct := Account{
		Role:            RolePrincipal,
		FullName:        "Jane Principal",
		Username:        uname,
		Email:           uname + "@test.test",
		InstitutionName: "Acme School",
		Status:          StatusTrial,
		IsActive:        true,
		TrialStartDate:  now,
		TrialEndDate:    now.AddDate(0, 0, TrialDays),
		Plan:            PlanBasic,
		MaxStudents:     2,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_ = acct.SetPassword("Sup3r$ecret")
	acct, err := repo.CreateAccount(context.Background(), acct)
	if err != nil {
		t.Fatalf("seeding principal: %v", err)
	}
	return acct
}

func TestServiceRegister(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	data := NewPrincipal{
		FullName:        "Jane Principal",
		Username:        "acmejane",
		Email:           "jane@acme.test",
		InstitutionName: "Acme School",
		Password:        "Sup3r$ecret",
		PasswordConfirm: "Sup3r$ecret",
	}
	if err := data.Validate(ctx, svc); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	acct, err := svc.Register(ctx, data)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if acct.Role != RolePrincipal {
		t.Errorf("Role = %v, want %v", acct.Role, RolePrincipal)
	}
	if acct.Status != StatusPending {
		t.Errorf("Status = %v, want %v", acct.Status, StatusPending)
	}
	if acct.CanAccessSystem() {
		t.Error("CanAccessSystem() = true for a pending registration")
	}
	if err := acct.CheckPassword("Sup3r$ecret"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}

	// duplicate registration is rejected on the username field
	dup := data
	if err := dup.Validate(ctx, svc); err == nil {
		t.Error("Validate() on duplicate = nil, want ValidationError")
	}
}

func TestServiceAuthenticate(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	principal := seedPrincipal(t, repo, "acmejane")

	t.Run("ok", func(t *testing.T) {
		acct, err := svc.Authenticate(ctx, "acmejane", "Sup3r$ecret")
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if acct.LastLogin.IsZero() {
			t.Error("LastLogin not set")
		}
	})

	t.Run("by email", func(t *testing.T) {
		if _, err := svc.Authenticate(ctx, "acmejane@test.test", "Sup3r$ecret"); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.Authenticate(ctx, "acmejane", "nope"); err != ErrInvalidCredentials {
			t.Errorf("Authenticate() error = %v, want %v", err, ErrInvalidCredentials)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		if _, err := svc.Authenticate(ctx, "ghost", "Sup3r$ecret"); err != ErrNotFound {
			t.Errorf("Authenticate() error = %v, want %v", err, ErrNotFound)
		}
	})

	t.Run("access checked before password", func(t *testing.T) {
		principal.Status = StatusPending
		if _, err := repo.UpdateAccount(ctx, principal); err != nil {
			t.Fatal(err)
		}
		_, err := svc.Authenticate(ctx, "acmejane", "nope")
		denied, ok := err.(AccessDeniedError)
		if !ok {
			t.Fatalf("Authenticate() error = %v, want AccessDeniedError", err)
		}
		if !strings.Contains(denied.Reason, "pending approval") {
			t.Errorf("Reason = %q, want pending approval message", denied.Reason)
		}
	})
}

func TestServiceCheckAccessInheritsPrincipalWindow(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	principal := seedPrincipal(t, repo, "acmejane")

	student, err := svc.AddStudent(ctx, principal, NewStudent{
		FullName:        "Sam Student",
		Username:        "samstud",
		Password:        "Sup3r$ecret",
		PasswordConfirm: "Sup3r$ecret",
		StudentID:       "STU-1",
		Class:           8,
	})
	if err != nil {
		t.Fatalf("AddStudent() error = %v", err)
	}

	if err := svc.CheckAccess(ctx, student); err != nil {
		t.Fatalf("CheckAccess() on fresh student error = %v", err)
	}

	// the principal's trial lapses; the student is locked out too
	principal, _ = svc.GetByID(ctx, principal.ID)
	principal.TrialEndDate = NowFunc().UTC().AddDate(0, 0, -1)
	if _, err := repo.UpdateAccount(ctx, principal); err != nil {
		t.Fatal(err)
	}
	err = svc.CheckAccess(ctx, student)
	denied, ok := err.(AccessDeniedError)
	if !ok {
		t.Fatalf("CheckAccess() error = %v, want AccessDeniedError", err)
	}
	if !strings.Contains(denied.Reason, "trial period has expired") {
		t.Errorf("Reason = %q, want trial expiry message", denied.Reason)
	}

	// the student's own suspension blocks regardless of the school
	student.IsSuspended = true
	if err := svc.CheckAccess(ctx, student); err == nil {
		t.Error("CheckAccess() = nil for a suspended student")
	}
}

func TestServiceAddStudentRespectsLimit(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	principal := seedPrincipal(t, repo, "acmejane") // MaxStudents: 2

	add := func(uname string) error {
		_, err := svc.AddStudent(ctx, principal, NewStudent{
			FullName:        "Sam Student",
			Username:        uname,
			Password:        "Sup3r$ecret",
			PasswordConfirm: "Sup3r$ecret",
			StudentID:       "STU-" + uname,
			Class:           8,
		})
		return err
	}

	if err := add("stud1"); err != nil {
		t.Fatalf("AddStudent() #1 error = %v", err)
	}
	if err := add("stud2"); err != nil {
		t.Fatalf("AddStudent() #2 error = %v", err)
	}
	err := add("stud3")
	vErr, ok := err.(*core.ValidationError)
	if !ok {
		t.Fatalf("AddStudent() #3 error = %v, want ValidationError", err)
	}
	if vErr.Err != ErrStudentLimitReached {
		t.Errorf("cause = %v, want %v", vErr.Err, ErrStudentLimitReached)
	}

	principal, _ = svc.GetByID(ctx, principal.ID)
	if principal.StudentCount != 2 {
		t.Errorf("StudentCount = %d, want 2", principal.StudentCount)
	}
}

func TestServiceDeleteStudent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	principal := seedPrincipal(t, repo, "acmejane")
	other := seedPrincipal(t, repo, "otherjoe")

	student, err := svc.AddStudent(ctx, principal, NewStudent{
		FullName:        "Sam Student",
		Username:        "samstud",
		Password:        "Sup3r$ecret",
		PasswordConfirm: "Sup3r$ecret",
		StudentID:       "STU-1",
		Class:           8,
	})
	if err != nil {
		t.Fatalf("AddStudent() error = %v", err)
	}

	// a foreign school cannot touch the student
	if err := svc.DeleteStudent(ctx, other, student.ID); err != ErrNotFound {
		t.Errorf("DeleteStudent() by foreign principal error = %v, want %v", err, ErrNotFound)
	}

	if err := svc.DeleteStudent(ctx, principal, student.ID); err != nil {
		t.Fatalf("DeleteStudent() error = %v", err)
	}
	if _, err := svc.GetByID(ctx, student.ID); err != ErrNotFound {
		t.Errorf("GetByID() after delete error = %v, want %v", err, ErrNotFound)
	}
	principal, _ = svc.GetByID(ctx, principal.ID)
	if principal.StudentCount != 0 {
		t.Errorf("StudentCount = %d, want 0 after delete", principal.StudentCount)
	}
}

func TestServiceAttachPaymentSlip(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	principal := seedPrincipal(t, repo, "acmejane")

	acct, err := svc.AttachPaymentSlip(ctx, principal, "/media/slips/1.png")
	if err != nil {
		t.Fatalf("AttachPaymentSlip() error = %v", err)
	}
	if acct.PaymentStatus != PaymentPending {
		t.Errorf("PaymentStatus = %v, want %v", acct.PaymentStatus, PaymentPending)
	}
	if acct.PaymentSlipUploadedAt.IsZero() {
		t.Error("PaymentSlipUploadedAt not set")
	}

	// uploading is blocked once the subscription is running
	acct.Status = StatusActive
	if _, err := svc.AttachPaymentSlip(ctx, acct, "/media/slips/2.png"); err == nil {
		t.Error("AttachPaymentSlip() on active account = nil, want ValidationError")
	}
}

func TestServiceChangePassword(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	principal := seedPrincipal(t, repo, "acmejane")
	principal, _ = svc.SetRefreshToken(ctx, principal, "some.refresh.token")

	if _, err := svc.ChangePassword(ctx, principal, ChangePassword{
		OldPassword:     "nope",
		Password:        "N3w$ecret!",
		PasswordConfirm: "N3w$ecret!",
	}); err == nil {
		t.Error("ChangePassword() with bad old password = nil, want ValidationError")
	}

	acct, err := svc.ChangePassword(ctx, principal, ChangePassword{
		OldPassword:     "Sup3r$ecret",
		Password:        "N3w$ecret!",
		PasswordConfirm: "N3w$ecret!",
	})
	if err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if err := acct.CheckPassword("N3w$ecret!"); err != nil {
		t.Errorf("CheckPassword() with new password error = %v", err)
	}
	if acct.RefreshToken != "" {
		t.Error("RefreshToken not revoked on password change")
	}
}

func TestServicePasswordResetFlow(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	acct := seedPrincipal(t, repo, "acmejane")

	if err := svc.RequestPasswordReset(ctx, acct.Email); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if len(emailsvc.SentMessages) != 1 {
		t.Fatalf("len(SentMessages) = %d, want 1", len(emailsvc.SentMessages))
	}
	msg := emailsvc.SentMessages[0]
	if msg.TemplateName != "password-reset" {
		t.Errorf("TemplateName = %q, want password-reset", msg.TemplateName)
	}
	if !strings.Contains(msg.TextContent, "reset-password?uid=") {
		t.Errorf("mail body is missing the reset link: %q", msg.TextContent)
	}

	token, err := MakeToken(acct)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ResetPassword(ctx, ResetAccountPassword{
		Token:           token,
		UID:             EncodeUID(acct),
		Password:        "N3w$ecret!",
		PasswordConfirm: "N3w$ecret!",
	}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	acct, _ = svc.GetByID(ctx, acct.ID)
	if err := acct.CheckPassword("N3w$ecret!"); err != nil {
		t.Errorf("CheckPassword() with new password error = %v", err)
	}

	// the token is single-use: the password change invalidates it
	if err := svc.ResetPassword(ctx, ResetAccountPassword{
		Token:           token,
		UID:             EncodeUID(acct),
		Password:        "An0ther$1",
		PasswordConfirm: "An0ther$1",
	}); err == nil {
		t.Error("ResetPassword() with a used token = nil, want ValidationError")
	}
}

func TestServiceSubscriptionDetails(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	now := time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC)
	mockNow(t, now)

	principal := seedPrincipal(t, repo, "acmejane")
	student, err := svc.AddStudent(ctx, principal, NewStudent{
		FullName:        "Sam Student",
		Username:        "samstud",
		Password:        "Sup3r$ecret",
		PasswordConfirm: "Sup3r$ecret",
		StudentID:       "STU-1",
		Class:           8,
	})
	if err != nil {
		t.Fatalf("AddStudent() error = %v", err)
	}

	details, err := svc.SubscriptionDetails(ctx, student)
	if err != nil {
		t.Fatalf("SubscriptionDetails() error = %v", err)
	}
	if details.Status != StatusTrial {
		t.Errorf("Status = %v, want the principal's %v", details.Status, StatusTrial)
	}
	if details.RemainingDays != TrialDays {
		t.Errorf("RemainingDays = %d, want %d", details.RemainingDays, TrialDays)
	}
	if !details.CanAccess {
		t.Error("CanAccess = false, want true")
	}
}
