package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore provides database operations on the sacco schema
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore initializes a new store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the schema if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

const accountColumns = `id, owner_id, type, balance, min_balance, currency, status, version, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Type, &a.Balance, &a.MinBalance, &a.Currency, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// GetAccount retrieves an account by id
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM sacco.accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return models.Account{}, apperr.NotFound("account %s not found", id)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to find account: %w", err)
	}
	return a, nil
}

// ListAccountsByOwner retrieves all accounts of a member
func (s *PostgresStore) ListAccountsByOwner(ctx context.Context, ownerID string) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM sacco.accounts WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()
	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const transactionColumns = `id, account_id, type, amount, balance_after, method, reference, reversal_of, actor_id, reason, signature, processed_at`

func scanTransaction(row interface{ Scan(...any) error }) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Method, &t.Reference,
		&t.ReversalOf, &t.ActorID, &t.Reason, &t.Signature, &t.ProcessedAt)
	return t, err
}

// GetTransaction retrieves a journal entry by id
func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM sacco.transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return models.Transaction{}, apperr.NotFound("transaction %s not found", id)
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to find transaction: %w", err)
	}
	return t, nil
}

// ListTransactions retrieves journal entries matching f, newest first
func (s *PostgresStore) ListTransactions(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AccountID != "" {
		add("account_id = $%d", f.AccountID)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Method != "" {
		add("method = $%d", f.Method)
	}
	if f.Reference != "" {
		add("reference = $%d", f.Reference)
	}
	if f.ReversalOf != "" {
		add("reversal_of = $%d", f.ReversalOf)
	}
	if !f.From.IsZero() {
		add("processed_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("processed_at < $%d", f.To)
	}

	query := `SELECT ` + transactionColumns + ` FROM sacco.transactions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListProducts retrieves every published product version
func (s *PostgresStore) ListProducts(ctx context.Context) ([]models.LoanProduct, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM sacco.loan_products ORDER BY id, version`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()
	var out []models.LoanProduct
	for rows.Next() {
		var p models.LoanProduct
		if err := scanJSON(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetLoan retrieves a loan application by id
func (s *PostgresStore) GetLoan(ctx context.Context, id string) (models.LoanApplication, error) {
	var l models.LoanApplication
	err := scanJSON(s.db.QueryRowContext(ctx, `SELECT data FROM sacco.loans WHERE id = $1`, id), &l)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LoanApplication{}, apperr.NotFound("loan %s not found", id)
	}
	if err != nil {
		return models.LoanApplication{}, err
	}
	return l, nil
}

// ListLoansByMember retrieves every loan of a member
func (s *PostgresStore) ListLoansByMember(ctx context.Context, memberID string) ([]models.LoanApplication, error) {
	return s.queryLoans(ctx, `SELECT data FROM sacco.loans WHERE member_id = $1 ORDER BY created_at, id`, memberID)
}

// ListLoansByStatus retrieves loans in any of the given statuses
func (s *PostgresStore) ListLoansByStatus(ctx context.Context, statuses ...models.LoanStatus) ([]models.LoanApplication, error) {
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}
	return s.queryLoans(ctx, `SELECT data FROM sacco.loans WHERE status = ANY($1) ORDER BY created_at, id`, pq.Array(raw))
}

func (s *PostgresStore) queryLoans(ctx context.Context, query string, args ...any) ([]models.LoanApplication, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()
	var out []models.LoanApplication
	for rows.Next() {
		var l models.LoanApplication
		if err := scanJSON(rows, &l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const commitmentColumns = `loan_id, guarantor_id, capacity_used, status, created_at, released_at`

func (s *PostgresStore) queryCommitments(ctx context.Context, query string, arg string) ([]models.GuarantorCommitment, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list commitments: %w", err)
	}
	defer rows.Close()
	var out []models.GuarantorCommitment
	for rows.Next() {
		var c models.GuarantorCommitment
		var released sql.NullTime
		if err := rows.Scan(&c.LoanID, &c.GuarantorID, &c.CapacityUsed, &c.Status, &c.CreatedAt, &released); err != nil {
			return nil, fmt.Errorf("failed to scan commitment: %w", err)
		}
		if released.Valid {
			at := released.Time
			c.ReleasedAt = &at
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCommitmentsByGuarantor retrieves a guarantor's commitments
func (s *PostgresStore) ListCommitmentsByGuarantor(ctx context.Context, guarantorID string) ([]models.GuarantorCommitment, error) {
	return s.queryCommitments(ctx, `SELECT `+commitmentColumns+` FROM sacco.guarantor_commitments WHERE guarantor_id = $1 ORDER BY created_at`, guarantorID)
}

// ListCommitmentsByLoan retrieves the commitments backing a loan
func (s *PostgresStore) ListCommitmentsByLoan(ctx context.Context, loanID string) ([]models.GuarantorCommitment, error) {
	return s.queryCommitments(ctx, `SELECT `+commitmentColumns+` FROM sacco.guarantor_commitments WHERE loan_id = $1 ORDER BY created_at`, loanID)
}

// GetWallet retrieves a credit wallet
func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (models.CreditWallet, error) {
	var w models.CreditWallet
	err := scanJSON(s.db.QueryRowContext(ctx, `SELECT data FROM sacco.credit_wallets WHERE user_id = $1`, userID), &w)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CreditWallet{}, apperr.NotFound("wallet %s not found", userID)
	}
	if err != nil {
		return models.CreditWallet{}, err
	}
	if w.EarnedByCategory == nil {
		w.EarnedByCategory = make(map[string]decimal.Decimal)
	}
	return w, nil
}

// ListCreditTransactions retrieves a user's credit movements, newest first
func (s *PostgresStore) ListCreditTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after, category, related_user_id, description, created_at
		FROM sacco.credit_transactions
		WHERE user_id = $1
		ORDER BY seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()
	var out []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Category, &t.RelatedUserID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetMandate retrieves a user's repayment mandate
func (s *PostgresStore) GetMandate(ctx context.Context, userID string) (models.RepaymentMandate, error) {
	var m models.RepaymentMandate
	err := scanJSON(s.db.QueryRowContext(ctx, `SELECT data FROM sacco.repayment_mandates WHERE user_id = $1`, userID), &m)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RepaymentMandate{}, apperr.NotFound("no repayment mandate for %s", userID)
	}
	return m, err
}

// ListActiveMandates retrieves every mandate that is currently opted in
func (s *PostgresStore) ListActiveMandates(ctx context.Context) ([]models.RepaymentMandate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM sacco.repayment_mandates
		WHERE (data->>'active')::boolean
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mandates: %w", err)
	}
	defer rows.Close()
	var out []models.RepaymentMandate
	for rows.Next() {
		var m models.RepaymentMandate
		if err := scanJSON(rows, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListAudit retrieves the audit trail of an entity
func (s *PostgresStore) ListAudit(ctx context.Context, entityType, entityID string) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_role, action, entity_type, entity_id, reason, at
		FROM sacco.audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY at`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()
	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorRole, &e.Action, &e.EntityType, &e.EntityID, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Commit applies a batch inside one database transaction
func (s *PostgresStore) Commit(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range b.Accounts {
		if err := s.writeAccount(ctx, tx, a); err != nil {
			return err
		}
	}
	for _, t := range b.Transactions {
		if err := s.insertTransaction(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, p := range b.Products {
		if err := s.insertProduct(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, l := range b.Loans {
		if err := s.writeLoan(ctx, tx, l); err != nil {
			return err
		}
	}
	for _, r := range b.Reservations {
		if err := s.reserve(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, ch := range b.CommitmentChanges {
		if err := s.changeCommitments(ctx, tx, ch); err != nil {
			return err
		}
	}
	for _, w := range b.Wallets {
		if err := s.writeWallet(ctx, tx, w); err != nil {
			return err
		}
	}
	for _, t := range b.CreditTransactions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sacco.credit_transactions (id, user_id, type, amount, balance_after, category, related_user_id, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			t.ID, t.UserID, string(t.Type), t.Amount, t.BalanceAfter, t.Category, t.RelatedUserID, t.Description, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert credit transaction: %w", err)
		}
	}
	for _, m := range b.Mandates {
		if err := s.writeMandate(ctx, tx, m); err != nil {
			return err
		}
	}
	for _, e := range b.Audit {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sacco.audit_log (id, actor_id, actor_role, action, entity_type, entity_id, reason, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.ActorID, e.ActorRole, e.Action, e.EntityType, e.EntityID, e.Reason, e.At)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) writeAccount(ctx context.Context, tx *sql.Tx, a models.Account) error {
	if a.Version == 1 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sacco.accounts (`+accountColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			a.ID, a.OwnerID, string(a.Type), a.Balance, a.MinBalance, a.Currency, string(a.Status), a.Version, a.CreatedAt, a.UpdatedAt)
		return insertErr("account", a.ID, err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE sacco.accounts
		SET balance = $2, min_balance = $3, status = $4, version = $5, updated_at = $6
		WHERE id = $1 AND version = $7`,
		a.ID, a.Balance, a.MinBalance, string(a.Status), a.Version, a.UpdatedAt, a.Version-1)
	return updateErr("account", a.ID, res, err)
}

func (s *PostgresStore) insertTransaction(ctx context.Context, tx *sql.Tx, t models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sacco.transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.AccountID, string(t.Type), t.Amount, t.BalanceAfter, t.Method, t.Reference, t.ReversalOf,
		t.ActorID, t.Reason, t.Signature, t.ProcessedAt)
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "transactions_reference_uq":
			return apperr.New(apperr.KindAlreadyProcessed, "reference %s already posted to account %s", t.Reference, t.AccountID)
		case "transactions_reversal_uq":
			return apperr.New(apperr.KindAlreadyProcessed, "transaction %s already reversed", t.ReversalOf)
		}
		return apperr.New(apperr.KindConflict, "transaction %s already recorded", t.ID)
	}
	return fmt.Errorf("failed to insert transaction: %w", err)
}

func (s *PostgresStore) insertProduct(ctx context.Context, tx *sql.Tx, p models.LoanProduct) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode product: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sacco.loan_products (id, version, data, published_at)
		VALUES ($1, $2, $3, $4)`, p.ID, p.Version, data, p.PublishedAt)
	return insertErr("product version", fmt.Sprintf("%s@%d", p.ID, p.Version), err)
}

func (s *PostgresStore) writeLoan(ctx context.Context, tx *sql.Tx, l models.LoanApplication) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to encode loan: %w", err)
	}
	if l.Version == 1 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sacco.loans (id, member_id, product_id, status, amount, guarantor_ids, data, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			l.ID, l.MemberID, l.ProductID, string(l.Status), l.Amount, pq.Array(l.GuarantorIDs), data, l.Version, l.CreatedAt, l.UpdatedAt)
		return insertErr("loan", l.ID, err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE sacco.loans
		SET status = $2, amount = $3, guarantor_ids = $4, data = $5, version = $6, updated_at = $7
		WHERE id = $1 AND version = $8`,
		l.ID, string(l.Status), l.Amount, pq.Array(l.GuarantorIDs), data, l.Version, l.UpdatedAt, l.Version-1)
	return updateErr("loan", l.ID, res, err)
}

// reserve adds a commitment under a per-guarantor advisory lock so that
// concurrent writers from other processes cannot jointly exceed capacity.
func (s *PostgresStore) reserve(ctx context.Context, tx *sql.Tx, r Reservation) error {
	c := r.Commitment
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "guarantor:"+c.GuarantorID); err != nil {
		return fmt.Errorf("failed to lock guarantor: %w", err)
	}
	var used decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(capacity_used), 0)
		FROM sacco.guarantor_commitments
		WHERE guarantor_id = $1 AND status IN ('reserved', 'locked')`, c.GuarantorID).Scan(&used)
	if err != nil {
		return fmt.Errorf("failed to sum commitments: %w", err)
	}
	if used.Add(c.CapacityUsed).GreaterThan(r.Capacity) {
		return apperr.New(apperr.KindCapacityExceeded, "guarantor %s has %s free, %s requested",
			c.GuarantorID, r.Capacity.Sub(used).StringFixed(2), c.CapacityUsed.StringFixed(2))
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sacco.guarantor_commitments (loan_id, guarantor_id, capacity_used, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.LoanID, c.GuarantorID, c.CapacityUsed, string(c.Status), c.CreatedAt)
	return insertErr("commitment", c.LoanID+"/"+c.GuarantorID, err)
}

func (s *PostgresStore) changeCommitments(ctx context.Context, tx *sql.Tx, ch CommitmentChange) error {
	var released any
	if ch.Status == models.CommitmentReleased {
		released = ch.At
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE sacco.guarantor_commitments
		SET status = $2, released_at = $3
		WHERE loan_id = $1 AND status IN ('reserved', 'locked')`,
		ch.LoanID, string(ch.Status), released)
	if err != nil {
		return fmt.Errorf("failed to update commitments: %w", err)
	}
	return nil
}

func (s *PostgresStore) writeWallet(ctx context.Context, tx *sql.Tx, w models.CreditWallet) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode wallet: %w", err)
	}
	if w.Version == 1 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sacco.credit_wallets (user_id, balance, data, version, updated_at)
			VALUES ($1, $2, $3, $4, $5)`, w.UserID, w.Balance, data, w.Version, w.UpdatedAt)
		return insertErr("wallet", w.UserID, err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE sacco.credit_wallets
		SET balance = $2, data = $3, version = $4, updated_at = $5
		WHERE user_id = $1 AND version = $6`,
		w.UserID, w.Balance, data, w.Version, w.UpdatedAt, w.Version-1)
	return updateErr("wallet", w.UserID, res, err)
}

func (s *PostgresStore) writeMandate(ctx context.Context, tx *sql.Tx, m models.RepaymentMandate) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode mandate: %w", err)
	}
	if m.Version == 1 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sacco.repayment_mandates (user_id, data, version, updated_at)
			VALUES ($1, $2, $3, $4)`, m.UserID, data, m.Version, m.UpdatedAt)
		return insertErr("mandate", m.UserID, err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE sacco.repayment_mandates
		SET data = $2, version = $3, updated_at = $4
		WHERE user_id = $1 AND version = $5`,
		m.UserID, data, m.Version, m.UpdatedAt, m.Version-1)
	return updateErr("mandate", m.UserID, res, err)
}

func scanJSON(row interface{ Scan(...any) error }, dst any) error {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("failed to scan row: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode row: %w", err)
	}
	return nil
}

func insertErr(entity, id string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperr.New(apperr.KindConflict, "%s %s already exists", entity, id)
	}
	return fmt.Errorf("failed to insert %s: %w", entity, err)
}

func updateErr(entity, id string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	if n == 0 {
		return apperr.New(apperr.KindConflict, "%s %s was modified concurrently", entity, id)
	}
	return nil
}
