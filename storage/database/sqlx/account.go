package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
)

type accountRepository struct {
	db *sqlx.DB
}

var _ account.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(db *sqlx.DB) *accountRepository {
	return &accountRepository{db: db}
}

type accountRow struct {
	ID       string `db:"id"`
	Role     string `db:"role"`
	FullName string `db:"full_name"`
	Username string `db:"username"`
	Email    string `db:"email"`
	Phone    string `db:"phone"`
	Address  string `db:"address"`
	Avatar   string `db:"avatar"`

	Status            string    `db:"status"`
	IsActive          bool      `db:"is_active"`
	IsSuspended       bool      `db:"is_suspended"`
	SuspensionReason  string    `db:"suspension_reason"`
	SuspensionExpires null.Time `db:"suspension_expires"`

	TrialStartDate        null.Time `db:"trial_start_date"`
	TrialEndDate          null.Time `db:"trial_end_date"`
	Plan                  string    `db:"plan"`
	SubscriptionStartDate null.Time `db:"subscription_start_date"`
	SubscriptionEndDate   null.Time `db:"subscription_end_date"`

	PaymentSlip            string      `db:"payment_slip"`
	PaymentSlipUploadedAt  null.Time   `db:"payment_slip_uploaded_at"`
	PaymentStatus          string      `db:"payment_status"`
	PaymentVerifiedBy      null.String `db:"payment_verified_by"`
	PaymentVerifiedAt      null.Time   `db:"payment_verified_at"`
	PaymentRejectionReason string      `db:"payment_rejection_reason"`

	ApprovedBy      null.String `db:"approved_by"`
	ApprovedAt      null.Time   `db:"approved_at"`
	RejectionReason string      `db:"rejection_reason"`

	PrincipalID     null.String `db:"principal_id"`
	InstitutionName string      `db:"institution_name"`
	MaxStudents     int         `db:"max_students"`
	StudentCount    int         `db:"student_count"`

	StudentID  string `db:"student_id"`
	Class      int    `db:"class"`
	Section    string `db:"section"`
	RollNumber string `db:"roll_number"`

	TeacherID       string         `db:"teacher_id"`
	Subjects        pq.StringArray `db:"subjects"`
	ClassesAssigned null.JSON      `db:"classes_assigned"`

	PasswordHash []byte    `db:"password_hash"`
	RefreshToken string    `db:"refresh_token"`
	LastLogin    null.Time `db:"last_login"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

func nullUUID(id string) null.String {
	return null.NewString(id, id != "")
}

func (repo accountRepository) pack(acct account.Account) (accountRow, error) {
	row := accountRow{
		ID:       acct.ID,
		Role:     acct.Role,
		FullName: acct.FullName,
		Username: acct.Username,
		Email:    acct.Email,
		Phone:    acct.Phone,
		Address:  acct.Address,
		Avatar:   acct.Avatar,

		Status:            acct.Status,
		IsActive:          acct.IsActive,
		IsSuspended:       acct.IsSuspended,
		SuspensionReason:  acct.SuspensionReason,
		SuspensionExpires: nullTime(acct.SuspensionExpires),

		TrialStartDate:        nullTime(acct.TrialStartDate),
		TrialEndDate:          nullTime(acct.TrialEndDate),
		Plan:                  acct.Plan,
		SubscriptionStartDate: nullTime(acct.SubscriptionStartDate),
		SubscriptionEndDate:   nullTime(acct.SubscriptionEndDate),

		PaymentSlip:            acct.PaymentSlip,
		PaymentSlipUploadedAt:  nullTime(acct.PaymentSlipUploadedAt),
		PaymentStatus:          acct.PaymentStatus,
		PaymentVerifiedBy:      nullUUID(acct.PaymentVerifiedBy),
		PaymentVerifiedAt:      nullTime(acct.PaymentVerifiedAt),
		PaymentRejectionReason: acct.PaymentRejectionReason,

		ApprovedBy:      nullUUID(acct.ApprovedBy),
		ApprovedAt:      nullTime(acct.ApprovedAt),
		RejectionReason: acct.RejectionReason,

		PrincipalID:     nullUUID(acct.PrincipalID),
		InstitutionName: acct.InstitutionName,
		MaxStudents:     acct.MaxStudents,
		StudentCount:    acct.StudentCount,

		StudentID:  acct.StudentID,
		Class:      acct.Class,
		Section:    acct.Section,
		RollNumber: acct.RollNumber,

		TeacherID: acct.TeacherID,
		Subjects:  pq.StringArray(acct.Subjects),

		PasswordHash: acct.PasswordHash,
		RefreshToken: acct.RefreshToken,
		LastLogin:    nullTime(acct.LastLogin),
		CreatedAt:    acct.CreatedAt.UTC(),
		UpdatedAt:    acct.UpdatedAt.UTC(),
	}
	if acct.ClassesAssigned != nil {
		data, err := json.Marshal(acct.ClassesAssigned)
		if err != nil {
			return accountRow{}, errors.Wrap(err, "marshaling class assignments")
		}
		row.ClassesAssigned = null.JSONFrom(data)
	}
	return row, nil
}

func (repo accountRepository) unpack(row accountRow) (account.Account, error) {
	acct := account.Account{
		ID:       row.ID,
		Role:     row.Role,
		FullName: row.FullName,
		Username: row.Username,
		Email:    row.Email,
		Phone:    row.Phone,
		Address:  row.Address,
		Avatar:   row.Avatar,

		Status:            row.Status,
		IsActive:          row.IsActive,
		IsSuspended:       row.IsSuspended,
		SuspensionReason:  row.SuspensionReason,
		SuspensionExpires: row.SuspensionExpires.Time,

		TrialStartDate:        row.TrialStartDate.Time,
		TrialEndDate:          row.TrialEndDate.Time,
		Plan:                  row.Plan,
		SubscriptionStartDate: row.SubscriptionStartDate.Time,
		SubscriptionEndDate:   row.SubscriptionEndDate.Time,

		PaymentSlip:            row.PaymentSlip,
		PaymentSlipUploadedAt:  row.PaymentSlipUploadedAt.Time,
		PaymentStatus:          row.PaymentStatus,
		PaymentVerifiedBy:      row.PaymentVerifiedBy.String,
		PaymentVerifiedAt:      row.PaymentVerifiedAt.Time,
		PaymentRejectionReason: row.PaymentRejectionReason,

		ApprovedBy:      row.ApprovedBy.String,
		ApprovedAt:      row.ApprovedAt.Time,
		RejectionReason: row.RejectionReason,

		PrincipalID:     row.PrincipalID.String,
		InstitutionName: row.InstitutionName,
		MaxStudents:     row.MaxStudents,
		StudentCount:    row.StudentCount,

		StudentID:  row.StudentID,
		Class:      row.Class,
		Section:    row.Section,
		RollNumber: row.RollNumber,

		TeacherID: row.TeacherID,
		Subjects:  []string(row.Subjects),

		PasswordHash: row.PasswordHash,
		RefreshToken: row.RefreshToken,
		LastLogin:    row.LastLogin.Time,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.ClassesAssigned.Valid {
		if err := json.Unmarshal(row.ClassesAssigned.JSON, &acct.ClassesAssigned); err != nil {
			return account.Account{}, errors.Wrap(err, "unmarshaling class assignments")
		}
	}
	return acct, nil
}

func (repo accountRepository) unpackSlice(rows []accountRow) ([]account.Account, error) {
	accts := make([]account.Account, 0, len(rows))
	for _, row := range rows {
		acct, err := repo.unpack(row)
		if err != nil {
			return nil, err
		}
		accts = append(accts, acct)
	}
	return accts, nil
}

// trapNoRowsErr maps psql "no rows" err to account.ErrNotFound
func (repo accountRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return account.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

const accountInsertQuery = `
INSERT INTO account (
	id, role, full_name, username, email, phone, address, avatar,
	status, is_active, is_suspended, suspension_reason, suspension_expires,
	trial_start_date, trial_end_date, plan, subscription_start_date, subscription_end_date,
	payment_slip, payment_slip_uploaded_at, payment_status, payment_verified_by, payment_verified_at, payment_rejection_reason,
	approved_by, approved_at, rejection_reason,
	principal_id, institution_name, max_students, student_count,
	student_id, class, section, roll_number,
	teacher_id, subjects, classes_assigned,
	password_hash, refresh_token, last_login, created_at, updated_at
) VALUES (
	:id, :role, :full_name, :username, :email, :phone, :address, :avatar,
	:status, :is_active, :is_suspended, :suspension_reason, :suspension_expires,
	:trial_start_date, :trial_end_date, :plan, :subscription_start_date, :subscription_end_date,
	:payment_slip, :payment_slip_uploaded_at, :payment_status, :payment_verified_by, :payment_verified_at, :payment_rejection_reason,
	:approved_by, :approved_at, :rejection_reason,
	:principal_id, :institution_name, :max_students, :student_count,
	:student_id, :class, :section, :roll_number,
	:teacher_id, :subjects, :classes_assigned,
	:password_hash, :refresh_token, :last_login, :created_at, :updated_at
)`

const accountUpdateQuery = `
UPDATE account SET
	role = :role, full_name = :full_name, username = :username, email = :email,
	phone = :phone, address = :address, avatar = :avatar,
	status = :status, is_active = :is_active, is_suspended = :is_suspended,
	suspension_reason = :suspension_reason, suspension_expires = :suspension_expires,
	trial_start_date = :trial_start_date, trial_end_date = :trial_end_date, plan = :plan,
	subscription_start_date = :subscription_start_date, subscription_end_date = :subscription_end_date,
	payment_slip = :payment_slip, payment_slip_uploaded_at = :payment_slip_uploaded_at,
	payment_status = :payment_status, payment_verified_by = :payment_verified_by,
	payment_verified_at = :payment_verified_at, payment_rejection_reason = :payment_rejection_reason,
	approved_by = :approved_by, approved_at = :approved_at, rejection_reason = :rejection_reason,
	principal_id = :principal_id, institution_name = :institution_name,
	max_students = :max_students, student_count = :student_count,
	student_id = :student_id, class = :class, section = :section, roll_number = :roll_number,
	teacher_id = :teacher_id, subjects = :subjects, classes_assigned = :classes_assigned,
	password_hash = :password_hash, refresh_token = :refresh_token, last_login = :last_login,
	updated_at = :updated_at
WHERE id = :id`

func (repo accountRepository) CheckUniqueness(ctx context.Context, username, email string, excluded ...account.Account) error {
	// email is optional on some accounts; an empty one is not a collision
	query := `SELECT username, email FROM account WHERE LOWER(username) = LOWER($1)`
	args := []interface{}{username}
	if email != "" {
		query = `SELECT username, email FROM account WHERE (LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2))`
		args = append(args, email)
	}
	if len(excluded) > 0 {
		ids := make([]string, 0, len(excluded))
		for _, acct := range excluded {
			ids = append(ids, acct.ID)
		}
		query += fmt.Sprintf(` AND NOT (id = ANY($%d))`, len(args)+1)
		args = append(args, pq.Array(ids))
	}

	var rows []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return errors.Wrap(err, "checking account uniqueness")
	}
	for _, row := range rows {
		if strings.EqualFold(row.Username, username) {
			return account.ErrUsernameExists
		}
		if email != "" && strings.EqualFold(row.Email, email) {
			return account.ErrEmailExists
		}
	}
	return nil
}

func (repo accountRepository) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.ID = uuid.New().String()
	row, err := repo.pack(acct)
	if err != nil {
		return account.Account{}, err
	}
	if _, err := repo.db.NamedExecContext(ctx, accountInsertQuery, row); err != nil {
		return account.Account{}, errors.Wrap(err, "inserting account")
	}
	return acct, nil
}

func (repo accountRepository) GetAccount(ctx context.Context, filter account.GetFilter) (account.Account, error) {
	var (
		query string
		args  []interface{}
	)

	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return account.Account{}, account.ErrNotFound
		}
		query = `SELECT * FROM account WHERE id = $1`
		args = []interface{}{filter.ID}
	case filter.Username != "":
		query = `SELECT * FROM account WHERE LOWER(username) = LOWER($1)`
		args = []interface{}{filter.Username}
	case filter.Email != "":
		query = `SELECT * FROM account WHERE LOWER(email) = LOWER($1)`
		args = []interface{}{filter.Email}
	case filter.UsernameOrEmail != nil:
		var email string
		uname := filter.UsernameOrEmail[0]
		if len(filter.UsernameOrEmail) == 2 {
			email = filter.UsernameOrEmail[1]
		}
		if email == "" {
			email = uname
		} else if uname == "" {
			uname = email
		}
		query = `SELECT * FROM account WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2)`
		args = []interface{}{uname, email}
	default:
		return account.Account{}, account.ErrNotFound
	}

	var row accountRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return account.Account{}, repo.trapNoRowsErr(err, "finding account")
	}
	return repo.unpack(row)
}

func (repo accountRepository) buildWhere(filter *account.QueryFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var conds []string
	var args []interface{}
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		p := arg(val)
		conds = append(conds, fmt.Sprintf("(full_name ILIKE %s OR username ILIKE %[1]s OR email ILIKE %[1]s)", p))
	}
	if filter.Role != "" {
		conds = append(conds, "role = "+arg(filter.Role))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(filter.Status))
	}
	if filter.PrincipalID != "" {
		if _, err := uuid.Parse(filter.PrincipalID); err != nil {
			conds = append(conds, "FALSE")
		} else {
			conds = append(conds, "principal_id = "+arg(filter.PrincipalID))
		}
	}
	if filter.Class != 0 {
		conds = append(conds, "class = "+arg(filter.Class))
	}
	if filter.Section != "" {
		conds = append(conds, "section = "+arg(filter.Section))
	}
	if filter.IsActive != nil {
		conds = append(conds, "is_active = "+arg(*filter.IsActive))
	}
	if filter.HasPaymentSlip {
		conds = append(conds, "payment_slip <> ''")
	}
	if filter.PaymentStatus != "" {
		conds = append(conds, "payment_status = "+arg(filter.PaymentStatus))
	}
	if !filter.CreatedFrom.IsZero() {
		conds = append(conds, "created_at >= "+arg(filter.CreatedFrom.UTC()))
	}
	if !filter.CreatedTo.IsZero() {
		conds = append(conds, "created_at <= "+arg(filter.CreatedTo.UTC()))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// accountSortColumns whitelists the columns a user-supplied ordering may
// reference; anything else is dropped before reaching ORDER BY.
var accountSortColumns = map[string]bool{
	"full_name":  true,
	"username":   true,
	"email":      true,
	"role":       true,
	"status":     true,
	"class":      true,
	"last_login": true,
	"created_at": true,
	"updated_at": true,
}

func orderBy(ordering []core.DBOrdering, sortable map[string]bool) string {
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if !sortable[ord.Field] {
			continue
		}
		orderList = append(orderList, ord.String())
	}
	if len(orderList) == 0 {
		return " ORDER BY created_at DESC"
	}
	return " ORDER BY " + strings.Join(orderList, ", ")
}

func (repo accountRepository) FilterAccounts(ctx context.Context, filter *account.QueryFilter, ordering []core.DBOrdering) ([]account.Account, error) {
	where, args := repo.buildWhere(filter)
	query := `SELECT * FROM account` + where + orderBy(ordering, accountSortColumns)

	var rows []accountRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying accounts")
	}
	return repo.unpackSlice(rows)
}

func (repo accountRepository) CountAccounts(ctx context.Context, filter *account.QueryFilter) (int, error) {
	where, args := repo.buildWhere(filter)
	var count int
	if err := repo.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM account`+where, args...); err != nil {
		return 0, errors.Wrap(err, "counting accounts")
	}
	return count, nil
}

func (repo accountRepository) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	row, err := repo.pack(acct)
	if err != nil {
		return account.Account{}, err
	}
	res, err := repo.db.NamedExecContext(ctx, accountUpdateQuery, row)
	if err != nil {
		return account.Account{}, errors.Wrap(err, "updating account")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return account.Account{}, account.ErrNotFound
	}
	return acct, nil
}

func (repo accountRepository) DeleteAccountsByID(ctx context.Context, ids ...string) (int, error) {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM account WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting accounts")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting accounts")
	}
	return int(n), nil
}

// ReserveStudentSlot closes the student-limit race with a conditional
// increment, the count can never pass max_students no matter how many
// adds run concurrently.
func (repo accountRepository) ReserveStudentSlot(ctx context.Context, principalID string) error {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE account SET student_count = student_count + 1 WHERE id = $1 AND student_count < max_students`,
		principalID)
	if err != nil {
		return errors.Wrap(err, "reserving student slot")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := repo.GetAccount(ctx, account.GetFilter{ID: principalID}); err != nil {
			return err
		}
		return account.ErrStudentLimitReached
	}
	return nil
}

func (repo accountRepository) ReleaseStudentSlot(ctx context.Context, principalID string) error {
	_, err := repo.db.ExecContext(ctx,
		`UPDATE account SET student_count = GREATEST(student_count - 1, 0) WHERE id = $1`,
		principalID)
	return errors.Wrap(err, "releasing student slot")
}
