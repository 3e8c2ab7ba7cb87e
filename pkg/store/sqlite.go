package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/poolfund/pkg/apperr"
	"github.com/mcclellann/poolfund/pkg/models"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore manages the database connection and operations for SQLite.
// Decimal amounts are stored as TEXT so no precision is lost.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore opens dataSourceName and applies the embedded migrations.
func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// A single connection serializes writers; version checks handle the rest.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.Info("database connection established and schema migrated", zap.String("dsn", dataSourceName))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	// The migrate instance is not closed: closing it would close s.db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func classify(err error, format string, args ...any) error {
	if isUniqueViolation(err) {
		return apperr.Duplicate("%s: %v", fmt.Sprintf(format, args...), err)
	}
	return apperr.Internal(err, format, args...)
}

// loanWriteError maps a failed loan write. The loans table's only UNIQUE
// index is the one-active-loan-per-borrower index; its primary key violates
// as ErrConstraintPrimaryKey.
func loanWriteError(err error, borrower uuid.UUID, format string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return apperr.StateConflict("borrower %s already has an approved or disbursed loan", borrower)
	}
	return classify(err, "%s", format)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// --- loans ---

const loanColumns = `id, borrower_id, requested_amount, approved_amount, interest_rate, purpose, expected_repayment_date, status, request_date, approval_date, approved_by, disbursement_date, actual_repayment_date, rejection_reason, total_amount_due, amount_paid, remaining_balance, repayment_ids, version, created_at, updated_at`

func scanLoan(row scanner) (*models.Loan, error) {
	var (
		loan                                    models.Loan
		approval, disbursement, actualRepayment sql.NullTime
		repaymentIDs                            string
		expected, requested, created, updated   time.Time
	)
	err := row.Scan(&loan.ID, &loan.BorrowerID, &loan.RequestedAmount, &loan.ApprovedAmount, &loan.InterestRate, &loan.Purpose,
		&expected, &loan.Status, &requested, &approval, &loan.ApprovedBy, &disbursement, &actualRepayment,
		&loan.RejectionReason, &loan.TotalAmountDue, &loan.AmountPaid, &loan.RemainingBalance, &repaymentIDs,
		&loan.Version, &created, &updated)
	if err != nil {
		return nil, err
	}
	loan.ExpectedRepaymentDate = expected.UTC()
	loan.RequestDate = requested.UTC()
	loan.CreatedAt = created.UTC()
	loan.UpdatedAt = updated.UTC()
	loan.ApprovalDate = timePtr(approval)
	loan.DisbursementDate = timePtr(disbursement)
	loan.ActualRepaymentDate = timePtr(actualRepayment)
	if err := json.Unmarshal([]byte(repaymentIDs), &loan.RepaymentIDs); err != nil {
		return nil, fmt.Errorf("corrupt repayment_ids for loan %s: %w", loan.ID, err)
	}
	return &loan, nil
}

func marshalIDs(ids []uuid.UUID) (string, error) {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	b, err := json.Marshal(ids)
	return string(b), err
}

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	ids, err := marshalIDs(loan.RepaymentIDs)
	if err != nil {
		return apperr.Internal(err, "failed to encode repayment ids")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (`+placeholders(21)+`)`,
		loan.ID, loan.BorrowerID, loan.RequestedAmount, loan.ApprovedAmount, loan.InterestRate, loan.Purpose,
		loan.ExpectedRepaymentDate.UTC(), loan.Status, loan.RequestDate.UTC(), nullTime(loan.ApprovalDate), loan.ApprovedBy,
		nullTime(loan.DisbursementDate), nullTime(loan.ActualRepaymentDate), loan.RejectionReason,
		loan.TotalAmountDue, loan.AmountPaid, loan.RemainingBalance, ids, loan.Version, loan.CreatedAt.UTC(), loan.UpdatedAt.UTC(),
	)
	if err != nil {
		return loanWriteError(err, loan.BorrowerID, "failed to create loan")
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("loan %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to get loan")
	}
	return loan, nil
}

// UpdateLoan saves loan if nobody else has since the caller read it.
func (s *SQLiteStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	if err := s.updateLoan(ctx, s.db, loan); err != nil {
		return err
	}
	loan.Version++
	return nil
}

func (s *SQLiteStore) updateLoan(ctx context.Context, q dbtx, loan *models.Loan) error {
	ids, err := marshalIDs(loan.RepaymentIDs)
	if err != nil {
		return apperr.Internal(err, "failed to encode repayment ids")
	}
	result, err := q.ExecContext(ctx,
		`UPDATE loans SET borrower_id = ?, requested_amount = ?, approved_amount = ?, interest_rate = ?, purpose = ?,
			expected_repayment_date = ?, status = ?, request_date = ?, approval_date = ?, approved_by = ?,
			disbursement_date = ?, actual_repayment_date = ?, rejection_reason = ?, total_amount_due = ?,
			amount_paid = ?, remaining_balance = ?, repayment_ids = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		loan.BorrowerID, loan.RequestedAmount, loan.ApprovedAmount, loan.InterestRate, loan.Purpose,
		loan.ExpectedRepaymentDate.UTC(), loan.Status, loan.RequestDate.UTC(), nullTime(loan.ApprovalDate), loan.ApprovedBy,
		nullTime(loan.DisbursementDate), nullTime(loan.ActualRepaymentDate), loan.RejectionReason, loan.TotalAmountDue,
		loan.AmountPaid, loan.RemainingBalance, ids, loan.UpdatedAt.UTC(),
		loan.ID, loan.Version,
	)
	if err != nil {
		return loanWriteError(err, loan.BorrowerID, "failed to update loan")
	}
	return s.checkVersioned(ctx, q, result, "loans", "loan", loan.ID)
}

// checkVersioned turns a zero-row versioned update into NotFound or Conflict.
func (s *SQLiteStore) checkVersioned(ctx context.Context, q dbtx, result sql.Result, table, noun string, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "failed to check rows affected")
	}
	if rowsAffected > 0 {
		return nil
	}
	var one int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("%s %s not found", noun, id)
	}
	if err != nil {
		return apperr.Internal(err, "failed to check %s existence", noun)
	}
	return apperr.Conflict("%s %s was modified concurrently", noun, id)
}

// DeleteLoan removes a loan and its repayments from the database within a
// transaction, provided the loan still has the caller's version.
func (s *SQLiteStore) DeleteLoan(ctx context.Context, loan *models.Loan) error {
	id := loan.ID
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM repayments WHERE loan_id = ?`, id); err != nil {
		return apperr.Internal(err, "failed to delete associated repayments")
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM loans WHERE id = ? AND version = ?`, id, loan.Version)
	if err != nil {
		return apperr.Internal(err, "failed to delete loan")
	}
	if err := s.checkVersioned(ctx, tx, result, "loans", "loan", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Internal(err, "failed to commit loan deletion")
	}
	return nil
}

func loanWhere(filter LoanFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.BorrowerID.Valid {
		clauses = append(clauses, "borrower_id = ?")
		args = append(args, filter.BorrowerID.UUID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListLoans retrieves loans matching filter in creation order.
func (s *SQLiteStore) ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error) {
	where, args := loanWhere(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans`+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list loans")
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, apperr.Internal(err, "failed to scan loan row")
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "error during loan rows iteration")
	}
	return loans, nil
}

func (s *SQLiteStore) CountLoans(ctx context.Context, filter LoanFilter) (int, error) {
	where, args := loanWhere(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM loans`+where, args...).Scan(&n); err != nil {
		return 0, apperr.Internal(err, "failed to count loans")
	}
	return n, nil
}

// --- repayments ---

const repaymentColumns = `id, receipt_number, loan_id, borrower_id, amount, payment_type, payment_date, payment_method, principal_amount, interest_amount, remaining_balance, recorded_by, note, created_at`

// RecordRepayment inserts the repayment and saves the loan in one transaction.
func (s *SQLiteStore) RecordRepayment(ctx context.Context, loan *models.Loan, r *models.Repayment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.updateLoan(ctx, tx, loan); err != nil {
		return err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(receipt_seq), 0) + 1 FROM repayments`).Scan(&seq); err != nil {
		return apperr.Internal(err, "failed to allocate receipt number")
	}
	receipt := models.ReceiptNumber(seq)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO repayments (receipt_seq, `+repaymentColumns+`) VALUES (`+placeholders(15)+`)`,
		seq, r.ID, receipt, r.LoanID, r.BorrowerID, r.Amount, r.PaymentType, r.PaymentDate.UTC(), r.PaymentMethod,
		r.PrincipalAmount, r.InterestAmount, r.RemainingBalance, r.RecordedBy, r.Note, r.CreatedAt.UTC(),
	)
	if err != nil {
		return classify(err, "failed to create repayment")
	}
	if err := tx.Commit(); err != nil {
		return apperr.Internal(err, "failed to commit repayment")
	}
	loan.Version++
	r.ReceiptNumber = receipt
	return nil
}

// ListRepayments retrieves repayments in receipt order.
func (s *SQLiteStore) ListRepayments(ctx context.Context, filter RepaymentFilter) ([]*models.Repayment, error) {
	var clauses []string
	var args []any
	if filter.LoanID.Valid {
		clauses = append(clauses, "loan_id = ?")
		args = append(args, filter.LoanID.UUID)
	}
	if filter.BorrowerID.Valid {
		clauses = append(clauses, "borrower_id = ?")
		args = append(args, filter.BorrowerID.UUID)
	}
	query := `SELECT ` + repaymentColumns + ` FROM repayments`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY receipt_seq ASC`, args...)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list repayments")
	}
	defer rows.Close()

	var out []*models.Repayment
	for rows.Next() {
		var r models.Repayment
		var paid, created time.Time
		if err := rows.Scan(&r.ID, &r.ReceiptNumber, &r.LoanID, &r.BorrowerID, &r.Amount, &r.PaymentType, &paid,
			&r.PaymentMethod, &r.PrincipalAmount, &r.InterestAmount, &r.RemainingBalance, &r.RecordedBy, &r.Note, &created); err != nil {
			return nil, apperr.Internal(err, "failed to scan repayment row")
		}
		r.PaymentDate = paid.UTC()
		r.CreatedAt = created.UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "error during repayment rows iteration")
	}
	return out, nil
}

// --- contributions ---

const contributionColumns = `id, member_id, month, year, amount, status, paid_date, payment_method, recorded_by, note, version, created_at, updated_at`

func scanContribution(row scanner) (*models.Contribution, error) {
	var c models.Contribution
	var paid sql.NullTime
	var created, updated time.Time
	if err := row.Scan(&c.ID, &c.MemberID, &c.Month, &c.Year, &c.Amount, &c.Status, &paid, &c.PaymentMethod,
		&c.RecordedBy, &c.Note, &c.Version, &created, &updated); err != nil {
		return nil, err
	}
	c.PaidDate = timePtr(paid)
	c.CreatedAt = created.UTC()
	c.UpdatedAt = updated.UTC()
	return &c, nil
}

func (s *SQLiteStore) CreateContribution(ctx context.Context, c *models.Contribution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contributions (`+contributionColumns+`) VALUES (`+placeholders(13)+`)`,
		c.ID, c.MemberID, c.Month, c.Year, c.Amount, c.Status, nullTime(c.PaidDate), c.PaymentMethod,
		c.RecordedBy, c.Note, c.Version, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Duplicate("contribution for member %s in %s already exists", c.MemberID, c.Month)
		}
		return apperr.Internal(err, "failed to create contribution")
	}
	return nil
}

func (s *SQLiteStore) getContribution(ctx context.Context, where string, args ...any) (*models.Contribution, error) {
	c, err := scanContribution(s.db.QueryRowContext(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE `+where, args...))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) GetContribution(ctx context.Context, id uuid.UUID) (*models.Contribution, error) {
	c, err := s.getContribution(ctx, "id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("contribution %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to get contribution")
	}
	return c, nil
}

func (s *SQLiteStore) FindContribution(ctx context.Context, memberID uuid.UUID, month string) (*models.Contribution, error) {
	c, err := s.getContribution(ctx, "member_id = ? AND month = ?", memberID, month)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("no contribution for member %s in %s", memberID, month)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to find contribution")
	}
	return c, nil
}

// UpdateContribution saves c if nobody else has since the caller read it.
// Member and month are part of the key and never change.
func (s *SQLiteStore) UpdateContribution(ctx context.Context, c *models.Contribution) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE contributions SET amount = ?, status = ?, paid_date = ?, payment_method = ?, recorded_by = ?, note = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND member_id = ? AND month = ?`,
		c.Amount, c.Status, nullTime(c.PaidDate), c.PaymentMethod, c.RecordedBy, c.Note, c.UpdatedAt.UTC(),
		c.ID, c.Version, c.MemberID, c.Month,
	)
	if err != nil {
		return apperr.Internal(err, "failed to update contribution")
	}
	if err := s.checkVersioned(ctx, s.db, result, "contributions", "contribution", c.ID); err != nil {
		return err
	}
	c.Version++
	return nil
}

func (s *SQLiteStore) ListContributions(ctx context.Context, filter ContributionFilter) ([]*models.Contribution, error) {
	var clauses []string
	var args []any
	if filter.MemberID.Valid {
		clauses = append(clauses, "member_id = ?")
		args = append(args, filter.MemberID.UUID)
	}
	if filter.Month != "" {
		clauses = append(clauses, "month = ?")
		args = append(args, filter.Month)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	query := `SELECT ` + contributionColumns + ` FROM contributions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list contributions")
	}
	defer rows.Close()

	var out []*models.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, apperr.Internal(err, "failed to scan contribution row")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "error during contribution rows iteration")
	}
	return out, nil
}

// --- historical interest ---

const interestColumns = `id, amount, interest_date, source, description, borrower_id, recorded_by, created_at, updated_at`

func scanInterest(row scanner) (*models.HistoricalInterest, error) {
	var h models.HistoricalInterest
	var on, created, updated time.Time
	if err := row.Scan(&h.ID, &h.Amount, &on, &h.Source, &h.Description, &h.BorrowerID, &h.RecordedBy, &created, &updated); err != nil {
		return nil, err
	}
	h.InterestDate = on.UTC()
	h.CreatedAt = created.UTC()
	h.UpdatedAt = updated.UTC()
	return &h, nil
}

func (s *SQLiteStore) CreateHistoricalInterest(ctx context.Context, h *models.HistoricalInterest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO historical_interest (`+interestColumns+`) VALUES (`+placeholders(9)+`)`,
		h.ID, h.Amount, h.InterestDate.UTC(), h.Source, h.Description, h.BorrowerID, h.RecordedBy, h.CreatedAt.UTC(), h.UpdatedAt.UTC(),
	)
	if err != nil {
		return classify(err, "failed to create historical interest")
	}
	return nil
}

func (s *SQLiteStore) GetHistoricalInterest(ctx context.Context, id uuid.UUID) (*models.HistoricalInterest, error) {
	h, err := scanInterest(s.db.QueryRowContext(ctx, `SELECT `+interestColumns+` FROM historical_interest WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("historical interest %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to get historical interest")
	}
	return h, nil
}

func (s *SQLiteStore) UpdateHistoricalInterest(ctx context.Context, h *models.HistoricalInterest) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE historical_interest SET amount = ?, interest_date = ?, source = ?, description = ?, borrower_id = ?, recorded_by = ?, updated_at = ? WHERE id = ?`,
		h.Amount, h.InterestDate.UTC(), h.Source, h.Description, h.BorrowerID, h.RecordedBy, h.UpdatedAt.UTC(), h.ID,
	)
	if err != nil {
		return apperr.Internal(err, "failed to update historical interest")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "failed to check rows affected")
	}
	if n == 0 {
		return apperr.NotFound("historical interest %s not found", h.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteHistoricalInterest(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM historical_interest WHERE id = ?`, id)
	if err != nil {
		return apperr.Internal(err, "failed to delete historical interest")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "failed to check rows affected")
	}
	if n == 0 {
		return apperr.NotFound("historical interest %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) ListHistoricalInterest(ctx context.Context) ([]*models.HistoricalInterest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+interestColumns+` FROM historical_interest ORDER BY rowid`)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list historical interest")
	}
	defer rows.Close()

	var out []*models.HistoricalInterest
	for rows.Next() {
		h, err := scanInterest(rows)
		if err != nil {
			return nil, apperr.Internal(err, "failed to scan historical interest row")
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "error during historical interest rows iteration")
	}
	return out, nil
}

// --- members ---

const memberColumns = `id, full_name, phone, role, active, joined_at, email, password_hash`

func scanMember(row scanner) (*models.Member, error) {
	var m models.Member
	var joined time.Time
	var email, hash sql.NullString
	if err := row.Scan(&m.ID, &m.FullName, &m.Phone, &m.Role, &m.Active, &joined, &email, &hash); err != nil {
		return nil, err
	}
	m.JoinedAt = joined.UTC()
	if email.Valid {
		m.Access = models.LoginCapable{Email: email.String, PasswordHash: hash.String}
	} else {
		m.Access = models.RecordOnly{}
	}
	return &m, nil
}

func (s *SQLiteStore) CreateMember(ctx context.Context, m *models.Member) error {
	var email, hash sql.NullString
	if lc, ok := m.Access.(models.LoginCapable); ok {
		email = sql.NullString{String: lc.Email, Valid: true}
		hash = sql.NullString{String: lc.PasswordHash, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members (`+memberColumns+`) VALUES (`+placeholders(8)+`)`,
		m.ID, m.FullName, m.Phone, m.Role, m.Active, m.JoinedAt.UTC(), email, hash,
	)
	if err != nil {
		return classify(err, "failed to create member")
	}
	return nil
}

func (s *SQLiteStore) GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("member %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to get member")
	}
	return m, nil
}

func (s *SQLiteStore) ListMembers(ctx context.Context, activeOnly bool) ([]*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY rowid`)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list members")
	}
	defer rows.Close()

	var out []*models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, apperr.Internal(err, "failed to scan member row")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "error during member rows iteration")
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
