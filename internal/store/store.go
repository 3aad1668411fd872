// Package store persists the field-service reporting domain: service
// reports with their evidences and expenses, backed by SQLite. The web
// layer renders these records into the views the export pipeline
// captures.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"freport/internal/logging"
)

// ErrNotFound is returned when a report id has no row.
var ErrNotFound = errors.New("report not found")

// Report statuses.
const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
	StatusApproved  = "approved"
)

// Report is one field-service visit.
type Report struct {
	ID          int64
	Folio       string
	Client      string
	Site        string
	Technician  string
	Supervisor  string
	Status      string
	ServiceDate time.Time
	Description string
	CreatedAt   time.Time

	Evidences []Evidence
	Expenses  []Expense
}

// Evidence is one captioned photo attached to a report.
type Evidence struct {
	ID        int64
	ReportID  int64
	Caption   string
	ImagePath string
	Position  int
}

// Expense is one receipt attached to a report. Amounts are cents to
// keep totals exact.
type Expense struct {
	ID          int64
	ReportID    int64
	Concept     string
	AmountCents int64
	ReceiptPath string
	Position    int
}

// TechnicianTotal aggregates expenses for the global summary view.
type TechnicianTotal struct {
	Technician  string
	Reports     int
	AmountCents int64
}

// Summary feeds the aggregate ("global") view.
type Summary struct {
	TotalReports      int
	CountsByStatus    map[string]int
	TotalExpenseCents int64
	ByTechnician      []TechnicianTotal
}

// ListFilter narrows ListReports.
type ListFilter struct {
	Status string
	From   time.Time
	To     time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS reports (
    id INTEGER PRIMARY KEY,
    folio TEXT NOT NULL UNIQUE,
    client TEXT NOT NULL,
    site TEXT NOT NULL DEFAULT '',
    technician TEXT NOT NULL,
    supervisor TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open',
    service_date DATETIME NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS evidences (
    id INTEGER PRIMARY KEY,
    report_id INTEGER NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
    caption TEXT NOT NULL DEFAULT '',
    image_path TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS expenses (
    id INTEGER PRIMARY KEY,
    report_id INTEGER NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
    concept TEXT NOT NULL,
    amount_cents INTEGER NOT NULL,
    receipt_path TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_evidences_report ON evidences(report_id, position);
CREATE INDEX IF NOT EXISTS idx_expenses_report ON expenses(report_id, position);
CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
`

// Open opens (creating if needed) the report database at path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logging.Store("opened report store at %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateReport inserts a report and returns its id.
func (s *Store) CreateReport(ctx context.Context, r Report) (int64, error) {
	if r.Folio == "" {
		return 0, fmt.Errorf("create report: folio required")
	}
	if r.Status == "" {
		r.Status = StatusOpen
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (folio, client, site, technician, supervisor, status, service_date, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Folio, r.Client, r.Site, r.Technician, r.Supervisor, r.Status, r.ServiceDate, r.Description)
	if err != nil {
		return 0, fmt.Errorf("create report %s: %w", r.Folio, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logging.Store("created report %d (%s)", id, r.Folio)
	return id, nil
}

// GetReport loads a report with its evidences and expenses in position
// order.
func (s *Store) GetReport(ctx context.Context, id int64) (*Report, error) {
	var r Report
	err := s.db.QueryRowContext(ctx, `
		SELECT id, folio, client, site, technician, supervisor, status, service_date, description, created_at
		FROM reports WHERE id = ?`, id).
		Scan(&r.ID, &r.Folio, &r.Client, &r.Site, &r.Technician, &r.Supervisor,
			&r.Status, &r.ServiceDate, &r.Description, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report %d: %w", id, err)
	}

	evidences, err := s.evidencesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Evidences = evidences

	expenses, err := s.expensesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Expenses = expenses
	return &r, nil
}

func (s *Store) evidencesFor(ctx context.Context, reportID int64) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, caption, image_path, position
		FROM evidences WHERE report_id = ? ORDER BY position, id`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list evidences for report %d: %w", reportID, err)
	}
	defer rows.Close()

	var out []Evidence
	for rows.Next() {
		var e Evidence
		if err := rows.Scan(&e.ID, &e.ReportID, &e.Caption, &e.ImagePath, &e.Position); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) expensesFor(ctx context.Context, reportID int64) ([]Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, concept, amount_cents, receipt_path, position
		FROM expenses WHERE report_id = ? ORDER BY position, id`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list expenses for report %d: %w", reportID, err)
	}
	defer rows.Close()

	var out []Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.ReportID, &e.Concept, &e.AmountCents, &e.ReceiptPath, &e.Position); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListReports returns reports matching the filter, newest service date
// first. Evidences and expenses are not loaded.
func (s *Store) ListReports(ctx context.Context, f ListFilter) ([]Report, error) {
	query := `
		SELECT id, folio, client, site, technician, supervisor, status, service_date, description, created_at
		FROM reports WHERE 1=1`
	var args []interface{}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.From.IsZero() {
		query += " AND service_date >= ?"
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query += " AND service_date <= ?"
		args = append(args, f.To)
	}
	query += " ORDER BY service_date DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.Folio, &r.Client, &r.Site, &r.Technician, &r.Supervisor,
			&r.Status, &r.ServiceDate, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateReportStatus moves a report through its lifecycle.
func (s *Store) UpdateReportStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reports SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update report %d status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %d: %w", id, ErrNotFound)
	}
	return nil
}

// AddEvidence appends an evidence to a report. Position defaults to the
// end of the list.
func (s *Store) AddEvidence(ctx context.Context, e Evidence) (int64, error) {
	if e.Position == 0 {
		if err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), 0) + 1 FROM evidences WHERE report_id = ?`,
			e.ReportID).Scan(&e.Position); err != nil {
			return 0, fmt.Errorf("next evidence position: %w", err)
		}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO evidences (report_id, caption, image_path, position)
		VALUES (?, ?, ?, ?)`, e.ReportID, e.Caption, e.ImagePath, e.Position)
	if err != nil {
		return 0, fmt.Errorf("add evidence to report %d: %w", e.ReportID, err)
	}
	return res.LastInsertId()
}

// AddExpense appends an expense to a report.
func (s *Store) AddExpense(ctx context.Context, e Expense) (int64, error) {
	if e.Position == 0 {
		if err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), 0) + 1 FROM expenses WHERE report_id = ?`,
			e.ReportID).Scan(&e.Position); err != nil {
			return 0, fmt.Errorf("next expense position: %w", err)
		}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (report_id, concept, amount_cents, receipt_path, position)
		VALUES (?, ?, ?, ?, ?)`, e.ReportID, e.Concept, e.AmountCents, e.ReceiptPath, e.Position)
	if err != nil {
		return 0, fmt.Errorf("add expense to report %d: %w", e.ReportID, err)
	}
	return res.LastInsertId()
}

// ExpenseTotal returns the expense sum for one report, in cents.
func (s *Store) ExpenseTotal(ctx context.Context, reportID int64) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM expenses WHERE report_id = ?`,
		reportID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("expense total for report %d: %w", reportID, err)
	}
	return total, nil
}

// GlobalSummary aggregates the whole store for the global view: report
// counts by status and expense totals per technician.
func (s *Store) GlobalSummary(ctx context.Context) (*Summary, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GlobalSummary")
	defer timer.Stop()

	sum := &Summary{CountsByStatus: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM reports GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		sum.CountsByStatus[status] = n
		sum.TotalReports += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM expenses`).Scan(&sum.TotalExpenseCents); err != nil {
		return nil, fmt.Errorf("total expenses: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT r.technician, COUNT(DISTINCT r.id), COALESCE(SUM(e.amount_cents), 0)
		FROM reports r LEFT JOIN expenses e ON e.report_id = r.id
		GROUP BY r.technician ORDER BY r.technician`)
	if err != nil {
		return nil, fmt.Errorf("technician totals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t TechnicianTotal
		if err := rows.Scan(&t.Technician, &t.Reports, &t.AmountCents); err != nil {
			return nil, err
		}
		sum.ByTechnician = append(sum.ByTechnician, t)
	}
	return sum, rows.Err()
}
