package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"orgdesk/internal/authz"
	"orgdesk/internal/domain"
	"orgdesk/internal/events"
	"orgdesk/internal/repo"
)

// RequestLine is one raw line of a submitted request form. Blank lines
// (empty name or non-positive quantity) are dropped, not rejected.
type RequestLine struct {
	Name      string
	Unit      string
	Requested float64
}

type RequestCreateOptions struct {
	Department string
	Lines      []RequestLine
	ActorID    string
}

// CreateInventoryRequest submits a request on behalf of the acting requester.
// Lines naming a catalog product get a product link plus on-hand and price
// snapshots taken at submission time.
func (e Engine) CreateInventoryRequest(ctx context.Context, opts RequestCreateOptions) (domain.InventoryRequest, error) {
	actor, err := e.resolveActor(ctx, opts.ActorID)
	if err != nil {
		return domain.InventoryRequest{}, err
	}
	if err := authz.Authorize(actor.Role, authz.ActionCreateRequest, authz.Facts{IsSelf: true}); err != nil {
		return domain.InventoryRequest{}, err
	}
	opts.Department = strings.TrimSpace(opts.Department)
	if opts.Department == "" {
		return domain.InventoryRequest{}, invalidArgf("department is required")
	}
	if e.Config != nil && !e.Config.KnownDepartment(opts.Department) {
		return domain.InventoryRequest{}, invalidArgf("unknown department %q", opts.Department)
	}

	var lines []RequestLine
	for _, l := range opts.Lines {
		l.Name = strings.TrimSpace(l.Name)
		if l.Name == "" || l.Requested <= 0 {
			continue
		}
		lines = append(lines, l)
	}
	if len(lines) == 0 {
		return domain.InventoryRequest{}, invalidArgf("request has no valid lines")
	}

	req := domain.InventoryRequest{
		ID:          uuid.New().String(),
		RequesterID: opts.ActorID,
		Department:  opts.Department,
		Status:      domain.RequestNew,
		CreatedAt:   e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InventoryRequest{}, err
	}
	defer tx.Rollback()

	for _, l := range lines {
		item := domain.InventoryRequestItem{
			ID:        uuid.New().String(),
			RequestID: req.ID,
			Name:      l.Name,
			Unit:      l.Unit,
			Requested: l.Requested,
		}
		p, err := e.Repo.GetProductByNameTx(ctx, tx, l.Name)
		switch {
		case err == nil:
			item.ProductID = &p.ID
			item.OnHand = p.Quantity
			item.Price = p.Price
			if item.Unit == "" {
				item.Unit = p.Unit
			}
		case err == repo.ErrNotFound:
			// off-catalog line, kept with zero snapshots
		default:
			return domain.InventoryRequest{}, err
		}
		req.Items = append(req.Items, item)
	}
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		return domain.InventoryRequest{}, err
	}
	if err := e.Events.Append(ctx, tx, "request.created", "request", req.ID, opts.ActorID, events.EventPayload{
		"department": req.Department,
		"items":      len(req.Items),
	}); err != nil {
		return domain.InventoryRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InventoryRequest{}, err
	}
	return req, nil
}

// ListRequestsFor applies the visibility rule: requesters see only their own
// requests, reviewers see everything.
func (e Engine) ListRequestsFor(ctx context.Context, actorID, status string) ([]domain.InventoryRequest, error) {
	actor, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	requesterID := ""
	if actor.Role == domain.RoleRequester || actor.Role == domain.RoleEmployee {
		requesterID = actorID
	}
	return e.Repo.ListRequests(ctx, requesterID, status)
}

// FulfillRequestItem records the granted amount for one item. Product-linked
// items decrement stock atomically; a failed decrement leaves everything
// untouched. The grant itself is CAS-guarded against concurrent reviewers.
// Each item is its own transaction, so one failure never rolls back siblings.
func (e Engine) FulfillRequestItem(ctx context.Context, itemID string, granted float64, actorID string) (domain.InventoryRequestItem, error) {
	actor, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return domain.InventoryRequestItem{}, err
	}
	if err := authz.Authorize(actor.Role, authz.ActionReviewRequestItem, authz.Facts{}); err != nil {
		return domain.InventoryRequestItem{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InventoryRequestItem{}, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetRequestItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.InventoryRequestItem{}, err
	}
	if granted < 0 || granted > item.Requested {
		return domain.InventoryRequestItem{}, invalidArgf("granted must be between 0 and %g", item.Requested)
	}
	req, err := e.Repo.GetRequestTx(ctx, tx, item.RequestID)
	if err != nil {
		return domain.InventoryRequestItem{}, err
	}
	if req.Status != domain.RequestNew {
		return domain.InventoryRequestItem{}, invalidArgf("request %s is already finalized", req.ID)
	}

	// Stock moves by the delta against any previous grant on this item, so
	// re-reviewing an item never double-charges the product.
	if item.ProductID != nil {
		delta := granted - item.Granted
		if delta > 0 {
			ok, err := e.Repo.DecrementStock(ctx, tx, *item.ProductID, delta, e.nowRFC3339())
			if err != nil {
				return domain.InventoryRequestItem{}, err
			}
			if !ok {
				return domain.InventoryRequestItem{}, InsufficientStockError{ItemID: itemID, ProductID: *item.ProductID, Granted: granted}
			}
		} else if delta < 0 {
			ok, err := e.Repo.DecrementStock(ctx, tx, *item.ProductID, delta, e.nowRFC3339())
			if err != nil {
				return domain.InventoryRequestItem{}, err
			}
			_ = ok // adding stock back always applies
		}
	}
	ok, err := e.Repo.UpdateItemGrant(ctx, tx, itemID, granted, item.Version)
	if err != nil {
		return domain.InventoryRequestItem{}, err
	}
	if !ok {
		return domain.InventoryRequestItem{}, ErrConflict
	}
	if err := e.Events.Append(ctx, tx, "request.item.granted", "request", item.RequestID, actorID, events.EventPayload{
		"item_id": itemID,
		"granted": granted,
	}); err != nil {
		return domain.InventoryRequestItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InventoryRequestItem{}, err
	}
	item.Granted = granted
	item.Version++
	return item, nil
}

// FinalizeRequest derives the terminal status from the grants: all items
// fully granted means approved, all zero means rejected, anything in between
// means partially approved.
func (e Engine) FinalizeRequest(ctx context.Context, requestID, actorID string) (domain.InventoryRequest, error) {
	actor, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return domain.InventoryRequest{}, err
	}
	if err := authz.Authorize(actor.Role, authz.ActionFinalizeRequest, authz.Facts{}); err != nil {
		return domain.InventoryRequest{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InventoryRequest{}, err
	}
	defer tx.Rollback()
	// Grants are re-read inside the transaction so a grant committing just
	// before finalization is reflected in the derived status.
	req, err := e.Repo.GetRequestTx(ctx, tx, requestID)
	if err != nil {
		return domain.InventoryRequest{}, err
	}
	if req.Status != domain.RequestNew {
		return domain.InventoryRequest{}, invalidArgf("request %s is already finalized", requestID)
	}
	full, zero := 0, 0
	for _, item := range req.Items {
		switch {
		case item.Granted >= item.Requested:
			full++
		case item.Granted == 0:
			zero++
		}
	}
	status := domain.RequestPartiallyApproved
	switch {
	case full == len(req.Items):
		status = domain.RequestApproved
	case zero == len(req.Items):
		status = domain.RequestRejected
	}
	if err := e.Repo.SetRequestStatus(ctx, tx, requestID, status); err != nil {
		return domain.InventoryRequest{}, err
	}
	if err := e.Events.Append(ctx, tx, "request.finalized", "request", requestID, actorID, events.EventPayload{
		"status": status,
	}); err != nil {
		return domain.InventoryRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InventoryRequest{}, err
	}
	req.Status = status
	return req, nil
}

// --- catalog ---

type ProductUpsertOptions struct {
	Name     string
	Category string
	Unit     string
	Quantity float64
	Price    float64
	ActorID  string
}

// UpsertCatalogProduct creates or updates a product keyed by name. Upserting
// identical field values is a no-op apart from the timestamp; it never
// creates a duplicate row.
func (e Engine) UpsertCatalogProduct(ctx context.Context, opts ProductUpsertOptions) (domain.InventoryProduct, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.InventoryProduct{}, invalidArgf("product name is required")
	}
	if opts.Quantity < 0 {
		return domain.InventoryProduct{}, invalidArgf("quantity must be non-negative")
	}
	if opts.Price < 0 {
		return domain.InventoryProduct{}, invalidArgf("price must be non-negative")
	}
	actor, err := e.resolveActor(ctx, opts.ActorID)
	if err != nil {
		return domain.InventoryProduct{}, err
	}
	if err := authz.Authorize(actor.Role, authz.ActionManageCatalog, authz.Facts{}); err != nil {
		return domain.InventoryProduct{}, err
	}
	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InventoryProduct{}, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetProductByNameTx(ctx, tx, opts.Name)
	created := false
	var p domain.InventoryProduct
	switch {
	case err == nil:
		p = existing
		p.Category = opts.Category
		p.Unit = opts.Unit
		p.Quantity = opts.Quantity
		p.Price = opts.Price
		p.UpdatedAt = now
		if err := e.Repo.UpdateProduct(ctx, tx, p); err != nil {
			return domain.InventoryProduct{}, err
		}
	case err == repo.ErrNotFound:
		created = true
		p = domain.InventoryProduct{
			ID:        uuid.New().String(),
			Name:      opts.Name,
			Category:  opts.Category,
			Unit:      opts.Unit,
			Quantity:  opts.Quantity,
			Price:     opts.Price,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertProduct(ctx, tx, p); err != nil {
			return domain.InventoryProduct{}, err
		}
	default:
		return domain.InventoryProduct{}, err
	}
	if err := e.Events.Append(ctx, tx, "catalog.product.upserted", "product", p.ID, opts.ActorID, events.EventPayload{
		"name":     p.Name,
		"quantity": p.Quantity,
		"created":  created,
	}); err != nil {
		return domain.InventoryProduct{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InventoryProduct{}, err
	}
	return p, nil
}
