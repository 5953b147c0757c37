package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"orgdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- principals ---

func (r Repo) InsertPrincipal(ctx context.Context, tx *sql.Tx, p domain.Principal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO principals(id,full_name,email,role,credential_hash,telegram_id,active,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.FullName, p.Email, p.Role, p.CredentialHash, nullable(p.TelegramID), boolInt(p.Active), p.CreatedAt)
	return err
}

func (r Repo) GetPrincipal(ctx context.Context, id string) (domain.Principal, error) {
	return scanPrincipal(r.DB.QueryRowContext(ctx, `SELECT id,full_name,email,role,credential_hash,COALESCE(telegram_id,''),active,created_at FROM principals WHERE id=?`, id))
}

func (r Repo) GetPrincipalByEmail(ctx context.Context, email string) (domain.Principal, error) {
	return scanPrincipal(r.DB.QueryRowContext(ctx, `SELECT id,full_name,email,role,credential_hash,COALESCE(telegram_id,''),active,created_at FROM principals WHERE email=?`, email))
}

func scanPrincipal(row *sql.Row) (domain.Principal, error) {
	var p domain.Principal
	var active int
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.Role, &p.CredentialHash, &p.TelegramID, &active, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Active = active != 0
	return p, err
}

func (r Repo) ListPrincipals(ctx context.Context, role string) ([]domain.Principal, error) {
	query := `SELECT id,full_name,email,role,credential_hash,COALESCE(telegram_id,''),active,created_at FROM principals`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Principal
	for rows.Next() {
		var p domain.Principal
		var active int
		if err := rows.Scan(&p.ID, &p.FullName, &p.Email, &p.Role, &p.CredentialHash, &p.TelegramID, &active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Active = active != 0
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePrincipalRole(ctx context.Context, tx *sql.Tx, id, role string) error {
	res, err := tx.ExecContext(ctx, `UPDATE principals SET role=? WHERE id=?`, role, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetPrincipalActive(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE principals SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountPrincipalsByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role, COUNT(*) FROM principals GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

// --- work items ---

const workItemColumns = `id,title,COALESCE(description,''),status,creator_id,assignee_id,COALESCE(source,''),received_date,due_date,created_at,updated_at`

func (r Repo) InsertWorkItem(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_items(id,title,description,status,creator_id,assignee_id,source,received_date,due_date,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Title, nullable(w.Description), w.Status, w.CreatorID, nullableStringPtr(w.AssigneeID),
		nullable(w.Source), nullableStringPtr(w.ReceivedDate), nullableStringPtr(w.DueDate), w.CreatedAt, w.UpdatedAt)
	return err
}

func scanWorkItem(scan func(...any) error) (domain.WorkItem, error) {
	var w domain.WorkItem
	var assignee, received, due sql.NullString
	err := scan(&w.ID, &w.Title, &w.Description, &w.Status, &w.CreatorID, &assignee, &w.Source, &received, &due, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return w, err
	}
	if assignee.Valid {
		w.AssigneeID = &assignee.String
	}
	if received.Valid {
		w.ReceivedDate = &received.String
	}
	if due.Valid {
		w.DueDate = &due.String
	}
	return w, nil
}

func (r Repo) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id)
	w, err := scanWorkItem(row.Scan)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) GetWorkItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id)
	w, err := scanWorkItem(row.Scan)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) SetWorkItemAssignee(ctx context.Context, tx *sql.Tx, id string, assigneeID *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET assignee_id=?, updated_at=? WHERE id=?`,
		nullableStringPtr(assigneeID), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetWorkItemStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type WorkItemFilters struct {
	Status     string
	AssigneeID string
	CreatorID  string
	Directive  bool
}

func (r Repo) ListWorkItems(ctx context.Context, f WorkItemFilters) ([]domain.WorkItem, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.Directive {
		clauses = append(clauses, "source IS NOT NULL AND source != ''")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workItemColumns + ` FROM work_items ` + where + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) CountWorkItemsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{}
	args := []any{}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events ` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
