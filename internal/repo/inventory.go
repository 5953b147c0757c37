package repo

import (
	"context"
	"database/sql"

	"orgdesk/internal/domain"
)

// --- catalog products ---

func (r Repo) InsertProduct(ctx context.Context, tx *sql.Tx, p domain.InventoryProduct) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO products(id,name,category,unit,quantity,price,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Category), p.Unit, p.Quantity, p.Price, p.UpdatedAt)
	return err
}

func (r Repo) UpdateProduct(ctx context.Context, tx *sql.Tx, p domain.InventoryProduct) error {
	res, err := tx.ExecContext(ctx, `UPDATE products SET category=?, unit=?, quantity=?, price=?, updated_at=? WHERE id=?`,
		nullable(p.Category), p.Unit, p.Quantity, p.Price, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const productColumns = `id,name,COALESCE(category,''),unit,quantity,price,updated_at`

func scanProduct(scan func(...any) error) (domain.InventoryProduct, error) {
	var p domain.InventoryProduct
	err := scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.Quantity, &p.Price, &p.UpdatedAt)
	return p, err
}

func (r Repo) GetProduct(ctx context.Context, id string) (domain.InventoryProduct, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id=?`, id)
	p, err := scanProduct(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// GetProductByNameTx resolves a catalog product by exact name inside a
// transaction, for snapshot capture at request submission.
func (r Repo) GetProductByNameTx(ctx context.Context, tx *sql.Tx, name string) (domain.InventoryProduct, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE name=?`, name)
	p, err := scanProduct(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetProductByName(ctx context.Context, name string) (domain.InventoryProduct, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE name=?`, name)
	p, err := scanProduct(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProducts(ctx context.Context) ([]domain.InventoryProduct, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InventoryProduct
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// DecrementStock atomically subtracts qty from the product's on-hand quantity,
// guarded so the quantity never goes negative. It reports whether the
// decrement applied; false means insufficient stock.
func (r Repo) DecrementStock(ctx context.Context, tx *sql.Tx, productID string, qty float64, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET quantity = quantity - ?, updated_at=? WHERE id=? AND quantity >= ?`,
		qty, updatedAt, productID, qty)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- requests ---

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.InventoryRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(id,requester_id,department,status,created_at) VALUES (?,?,?,?,?)`,
		req.ID, req.RequesterID, req.Department, req.Status, req.CreatedAt)
	if err != nil {
		return err
	}
	for i, item := range req.Items {
		_, err = tx.ExecContext(ctx, `INSERT INTO request_items(id,request_id,product_id,name,unit,on_hand,requested,granted,price,version,position)
VALUES (?,?,?,?,?,?,?,?,?,0,?)`,
			item.ID, req.ID, nullableStringPtr(item.ProductID), item.Name, item.Unit,
			item.OnHand, item.Requested, item.Granted, item.Price, i)
		if err != nil {
			return err
		}
	}
	return nil
}

func scanRequest(scan func(...any) error) (domain.InventoryRequest, error) {
	var req domain.InventoryRequest
	err := scan(&req.ID, &req.RequesterID, &req.Department, &req.Status, &req.CreatedAt)
	return req, err
}

const requestColumns = `id,requester_id,COALESCE(department,''),status,created_at`

func (r Repo) GetRequest(ctx context.Context, id string) (domain.InventoryRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	req, err := scanRequest(row.Scan)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	req.Items, err = r.listRequestItems(ctx, id)
	return req, err
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.InventoryRequest, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	req, err := scanRequest(row.Scan)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT `+requestItemColumns+` FROM request_items WHERE request_id=? ORDER BY position`, id)
	if err != nil {
		return req, err
	}
	defer rows.Close()
	req.Items, err = collectRequestItems(rows)
	return req, err
}

func (r Repo) ListRequests(ctx context.Context, requesterID, status string) ([]domain.InventoryRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	var clauses []string
	var args []any
	if requesterID != "" {
		clauses = append(clauses, "requester_id=?")
		args = append(args, requesterID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InventoryRequest
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Items, err = r.listRequestItems(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) SetRequestStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- request items ---

const requestItemColumns = `id,request_id,product_id,name,unit,on_hand,requested,granted,price,version`

func scanRequestItem(scan func(...any) error) (domain.InventoryRequestItem, error) {
	var item domain.InventoryRequestItem
	var productID sql.NullString
	err := scan(&item.ID, &item.RequestID, &productID, &item.Name, &item.Unit,
		&item.OnHand, &item.Requested, &item.Granted, &item.Price, &item.Version)
	if err != nil {
		return item, err
	}
	if productID.Valid {
		item.ProductID = &productID.String
	}
	return item, nil
}

func collectRequestItems(rows *sql.Rows) ([]domain.InventoryRequestItem, error) {
	var res []domain.InventoryRequestItem
	for rows.Next() {
		item, err := scanRequestItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (r Repo) listRequestItems(ctx context.Context, requestID string) ([]domain.InventoryRequestItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+requestItemColumns+` FROM request_items WHERE request_id=? ORDER BY position`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequestItems(rows)
}

func (r Repo) GetRequestItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.InventoryRequestItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+requestItemColumns+` FROM request_items WHERE id=?`, id)
	item, err := scanRequestItem(row.Scan)
	if err == sql.ErrNoRows {
		return item, ErrNotFound
	}
	return item, err
}

// UpdateItemGrant sets the granted amount with a compare-and-swap on the
// version column. It reports whether the update applied; false means another
// reviewer updated the item first.
func (r Repo) UpdateItemGrant(ctx context.Context, tx *sql.Tx, id string, granted float64, version int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE request_items SET granted=?, version=version+1 WHERE id=? AND version=?`,
		granted, id, version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- aggregation ---

// RequestTotals holds the monetary roll-up for requests.
type RequestTotals struct {
	RequestedAmount float64
	GrantedAmount   float64
}

// SumRequestAmounts computes Σ requested×price and Σ granted×price over all
// request items, optionally scoped to one request.
func (r Repo) SumRequestAmounts(ctx context.Context, requestID string) (RequestTotals, error) {
	query := `SELECT COALESCE(SUM(requested*price),0), COALESCE(SUM(granted*price),0) FROM request_items`
	var args []any
	if requestID != "" {
		query += ` WHERE request_id=?`
		args = append(args, requestID)
	}
	var t RequestTotals
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&t.RequestedAmount, &t.GrantedAmount)
	if err != nil {
		return t, err
	}
	if t.RequestedAmount < 0 {
		t.RequestedAmount = 0
	}
	if t.GrantedAmount < 0 {
		t.GrantedAmount = 0
	}
	return t, nil
}

func (r Repo) CountRequestsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
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
