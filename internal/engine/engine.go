package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"orgdesk/internal/authz"
	"orgdesk/internal/config"
	"orgdesk/internal/domain"
	"orgdesk/internal/events"
	"orgdesk/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// resolveActor loads the acting principal. Unknown or deactivated principals
// fail resolution with a typed denial, not a silent no-op.
func (e Engine) resolveActor(ctx context.Context, actorID string) (domain.Principal, error) {
	p, err := e.Repo.GetPrincipal(ctx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return p, authz.UnauthorizedError{Action: "resolve-actor", Reason: "unknown principal"}
	}
	if err != nil {
		return p, err
	}
	if !p.Active {
		return p, authz.UnauthorizedError{Role: p.Role, Action: "resolve-actor", Reason: "principal deactivated"}
	}
	return p, nil
}

// --- principals ---

type PrincipalCreateOptions struct {
	FullName   string
	Email      string
	Role       string
	Password   string
	TelegramID string
	ActorID    string
}

// ProvisionPrincipal creates an account. Only administrators may do this,
// except that the very first principal may be bootstrapped without an actor
// and must be an administrator.
func (e Engine) ProvisionPrincipal(ctx context.Context, opts PrincipalCreateOptions) (domain.Principal, error) {
	if opts.FullName == "" {
		return domain.Principal{}, invalidArgf("full name is required")
	}
	if opts.Email == "" {
		return domain.Principal{}, invalidArgf("email is required")
	}
	if !domain.ValidRole(opts.Role) {
		return domain.Principal{}, invalidArgf("unknown role %q", opts.Role)
	}
	if opts.Password == "" {
		return domain.Principal{}, invalidArgf("password is required")
	}

	if opts.ActorID == "" {
		counts, err := e.Repo.CountPrincipalsByRole(ctx)
		if err != nil {
			return domain.Principal{}, err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		if total > 0 {
			return domain.Principal{}, authz.UnauthorizedError{Action: authz.ActionAdministerAccounts, Reason: "actor required"}
		}
		if opts.Role != domain.RoleAdministrator {
			return domain.Principal{}, invalidArgf("first principal must be an administrator")
		}
	} else {
		actor, err := e.resolveActor(ctx, opts.ActorID)
		if err != nil {
			return domain.Principal{}, err
		}
		if err := authz.Authorize(actor.Role, authz.ActionAdministerAccounts, authz.Facts{}); err != nil {
			return domain.Principal{}, err
		}
	}

	switch _, err := e.Repo.GetPrincipalByEmail(ctx, opts.Email); {
	case err == nil:
		return domain.Principal{}, invalidArgf("email %s is already registered", opts.Email)
	case !errors.Is(err, repo.ErrNotFound):
		return domain.Principal{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Principal{}, err
	}
	p := domain.Principal{
		ID:             uuid.New().String(),
		FullName:       opts.FullName,
		Email:          opts.Email,
		Role:           opts.Role,
		CredentialHash: string(hash),
		TelegramID:     opts.TelegramID,
		Active:         true,
		CreatedAt:      e.nowRFC3339(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Principal{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPrincipal(ctx, tx, p); err != nil {
		return domain.Principal{}, err
	}
	if err := e.Events.Append(ctx, tx, "principal.provisioned", "principal", p.ID, opts.ActorID, events.EventPayload{
		"email": p.Email,
		"role":  p.Role,
	}); err != nil {
		return domain.Principal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

func (e Engine) SetPrincipalRole(ctx context.Context, id, role, actorID string) (domain.Principal, error) {
	if !domain.ValidRole(role) {
		return domain.Principal{}, invalidArgf("unknown role %q", role)
	}
	actor, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return domain.Principal{}, err
	}
	if err := authz.Authorize(actor.Role, authz.ActionAdministerAccounts, authz.Facts{}); err != nil {
		return domain.Principal{}, err
	}
	p, err := e.Repo.GetPrincipal(ctx, id)
	if err != nil {
		return domain.Principal{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Principal{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePrincipalRole(ctx, tx, id, role); err != nil {
		return domain.Principal{}, err
	}
	if err := e.Events.Append(ctx, tx, "principal.role.changed", "principal", id, actorID, events.EventPayload{
		"from": p.Role,
		"to":   role,
	}); err != nil {
		return domain.Principal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Principal{}, err
	}
	p.Role = role
	return p, nil
}

func (e Engine) SetPrincipalActive(ctx context.Context, id string, active bool, actorID string) (domain.Principal, error) {
	actor, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return domain.Principal{}, err
	}
	if err := authz.Authorize(actor.Role, authz.ActionAdministerAccounts, authz.Facts{}); err != nil {
		return domain.Principal{}, err
	}
	p, err := e.Repo.GetPrincipal(ctx, id)
	if err != nil {
		return domain.Principal{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Principal{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetPrincipalActive(ctx, tx, id, active); err != nil {
		return domain.Principal{}, err
	}
	if err := e.Events.Append(ctx, tx, "principal.active.changed", "principal", id, actorID, events.EventPayload{
		"active": active,
	}); err != nil {
		return domain.Principal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Principal{}, err
	}
	p.Active = active
	return p, nil
}

// Authenticate verifies an email/password pair against the stored credential
// hash and returns the matching active principal.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.Principal, error) {
	p, err := e.Repo.GetPrincipalByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return p, authz.UnauthorizedError{Action: "authenticate", Reason: "invalid credentials"}
	}
	if err != nil {
		return p, err
	}
	if !p.Active {
		return p, authz.UnauthorizedError{Role: p.Role, Action: "authenticate", Reason: "principal deactivated"}
	}
	if bcrypt.CompareHashAndPassword([]byte(p.CredentialHash), []byte(password)) != nil {
		return p, authz.UnauthorizedError{Action: "authenticate", Reason: "invalid credentials"}
	}
	return p, nil
}

// MintAPIKey creates an API key for a principal and returns the plaintext key
// exactly once; only the hash is stored.
func (e Engine) MintAPIKey(ctx context.Context, principalID, name, actorID string) (string, domain.APIKey, error) {
	actor, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	if err := authz.Authorize(actor.Role, authz.ActionAdministerAccounts, authz.Facts{}); err != nil {
		return "", domain.APIKey{}, err
	}
	if _, err := e.Repo.GetPrincipal(ctx, principalID); err != nil {
		return "", domain.APIKey{}, err
	}
	plaintext := uuid.New().String() + uuid.New().String()
	key := domain.APIKey{
		ID:          uuid.New().String(),
		PrincipalID: principalID,
		Name:        name,
		KeyHash:     repo.HashAPIKey(plaintext),
		CreatedAt:   e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.Events.Append(ctx, tx, "apikey.minted", "principal", principalID, actorID, events.EventPayload{
		"key_id": key.ID,
		"name":   name,
	}); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.APIKey{}, err
	}
	return plaintext, key, nil
}

// ListAPIKeys returns key metadata, never plaintext or usable material.
func (e Engine) ListAPIKeys(ctx context.Context, principalID, actorID string) ([]domain.APIKey, error) {
	actor, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(actor.Role, authz.ActionAdministerAccounts, authz.Facts{}); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, principalID)
}

// RevokeAPIKey deletes a key by id. Revocation takes effect on the next
// request; there is no token blacklist.
func (e Engine) RevokeAPIKey(ctx context.Context, keyID, actorID string) error {
	actor, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return err
	}
	if err := authz.Authorize(actor.Role, authz.ActionAdministerAccounts, authz.Facts{}); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, keyID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "apikey.revoked", "principal", "", actorID, events.EventPayload{
		"key_id": keyID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- work items ---

type WorkItemCreateOptions struct {
	Title        string
	Description  string
	AssigneeID   string
	Source       string
	ReceivedDate string
	DueDate      string
	ActorID      string
}

func (e Engine) CreateWorkItem(ctx context.Context, opts WorkItemCreateOptions) (domain.WorkItem, error) {
	if opts.Title == "" {
		return domain.WorkItem{}, invalidArgf("title is required")
	}
	if opts.DueDate != "" {
		if _, err := time.Parse("2006-01-02", opts.DueDate); err != nil {
			return domain.WorkItem{}, invalidArgf("due date must be YYYY-MM-DD")
		}
	}
	if opts.ReceivedDate != "" {
		if _, err := time.Parse("2006-01-02", opts.ReceivedDate); err != nil {
			return domain.WorkItem{}, invalidArgf("received date must be YYYY-MM-DD")
		}
	}
	actor, err := e.resolveActor(ctx, opts.ActorID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := authz.Authorize(actor.Role, authz.ActionCreateWorkItem, authz.Facts{}); err != nil {
		return domain.WorkItem{}, err
	}
	if opts.AssigneeID != "" {
		assignee, err := e.Repo.GetPrincipal(ctx, opts.AssigneeID)
		if err != nil {
			return domain.WorkItem{}, err
		}
		if assignee.Role != domain.RoleEmployee {
			return domain.WorkItem{}, invalidArgf("assignee %s is not an employee", opts.AssigneeID)
		}
	}
	now := e.nowRFC3339()
	w := domain.WorkItem{
		ID:           uuid.New().String(),
		Title:        opts.Title,
		Description:  opts.Description,
		Status:       domain.WorkItemNew,
		CreatorID:    opts.ActorID,
		AssigneeID:   optionalString(opts.AssigneeID),
		Source:       opts.Source,
		ReceivedDate: optionalString(opts.ReceivedDate),
		DueDate:      optionalString(opts.DueDate),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "workitem.created", "workitem", w.ID, opts.ActorID, events.EventPayload{
		"title":    w.Title,
		"assignee": opts.AssigneeID,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}

// AssignWorkItem replaces the assignee. A nil assignee clears the field; no
// assignment history is kept.
func (e Engine) AssignWorkItem(ctx context.Context, id string, assigneeID *string, actorID string) (domain.WorkItem, error) {
	actor, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := authz.Authorize(actor.Role, authz.ActionAssignWorkItem, authz.Facts{}); err != nil {
		return domain.WorkItem{}, err
	}
	w, err := e.Repo.GetWorkItem(ctx, id)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if assigneeID != nil && *assigneeID != "" {
		assignee, err := e.Repo.GetPrincipal(ctx, *assigneeID)
		if err != nil {
			return domain.WorkItem{}, err
		}
		if assignee.Role != domain.RoleEmployee {
			return domain.WorkItem{}, invalidArgf("assignee %s is not an employee", *assigneeID)
		}
	}
	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetWorkItemAssignee(ctx, tx, id, assigneeID, now); err != nil {
		return domain.WorkItem{}, err
	}
	prev := ""
	if w.AssigneeID != nil {
		prev = *w.AssigneeID
	}
	next := ""
	if assigneeID != nil {
		next = *assigneeID
	}
	if err := e.Events.Append(ctx, tx, "workitem.assigned", "workitem", id, actorID, events.EventPayload{
		"from": prev,
		"to":   next,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	w.AssigneeID = assigneeID
	if assigneeID != nil && *assigneeID == "" {
		w.AssigneeID = nil
	}
	w.UpdatedAt = now
	return w, nil
}

// TransitionWorkItemStatus moves a work item to a new status. Only the
// current assignee may transition; new is never a valid target; done and
// rejected are terminal. Validation happens before any write.
func (e Engine) TransitionWorkItemStatus(ctx context.Context, id, status, actorID string) (domain.WorkItem, error) {
	if !domain.ValidWorkItemStatus(status) {
		return domain.WorkItem{}, invalidArgf("unknown status %q", status)
	}
	if status == domain.WorkItemNew {
		return domain.WorkItem{}, invalidArgf("status new is not a valid transition target")
	}
	actor, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkItemTx(ctx, tx, id)
	if err != nil {
		return domain.WorkItem{}, err
	}
	isAssignee := w.AssigneeID != nil && *w.AssigneeID == actorID
	if err := authz.Authorize(actor.Role, authz.ActionTransitionWorkItem, authz.Facts{IsAssignee: isAssignee}); err != nil {
		return domain.WorkItem{}, err
	}
	if domain.TerminalWorkItemStatus(w.Status) {
		return domain.WorkItem{}, invalidArgf("work item is %s; no further transitions", w.Status)
	}
	if err := e.Repo.SetWorkItemStatus(ctx, tx, id, status, now); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "workitem.status.changed", "workitem", id, actorID, events.EventPayload{
		"from": w.Status,
		"to":   status,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	w.Status = status
	w.UpdatedAt = now
	return w, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
