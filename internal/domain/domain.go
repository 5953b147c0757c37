package domain

import "time"

// Roles. The set is closed; unknown values are rejected at provisioning time.
const (
	RoleAdministrator = "administrator"
	RoleManager       = "manager"
	RoleEmployee      = "employee"
	RoleRequester     = "requester"
)

func ValidRole(role string) bool {
	switch role {
	case RoleAdministrator, RoleManager, RoleEmployee, RoleRequester:
		return true
	}
	return false
}

// Work item statuses.
const (
	WorkItemNew        = "new"
	WorkItemInProgress = "in_progress"
	WorkItemPending    = "pending"
	WorkItemDone       = "done"
	WorkItemRejected   = "rejected"
)

func ValidWorkItemStatus(status string) bool {
	switch status {
	case WorkItemNew, WorkItemInProgress, WorkItemPending, WorkItemDone, WorkItemRejected:
		return true
	}
	return false
}

// TerminalWorkItemStatus reports whether a status accepts no further transition.
func TerminalWorkItemStatus(status string) bool {
	return status == WorkItemDone || status == WorkItemRejected
}

// Inventory request statuses.
const (
	RequestNew               = "new"
	RequestApproved          = "approved"
	RequestRejected          = "rejected"
	RequestPartiallyApproved = "partially_approved"
)

// DaysLeftNoDueDate is the sentinel for directive items without a due date.
const DaysLeftNoDueDate = 999

type Principal struct {
	ID             string `json:"id"`
	FullName       string `json:"full_name"`
	Email          string `json:"email"`
	Role           string `json:"role" enum:"administrator,manager,employee,requester"`
	CredentialHash string `json:"-"`
	TelegramID     string `json:"telegram_id,omitempty"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// WorkItem is an assignable unit of work. Directive items additionally carry
// a source authority and a received date.
type WorkItem struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status" enum:"new,in_progress,pending,done,rejected"`
	CreatorID    string  `json:"creator_id"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	Source       string  `json:"source,omitempty"`
	ReceivedDate *string `json:"received_date,omitempty" format:"date"`
	DueDate      *string `json:"due_date,omitempty" format:"date"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// DaysLeft returns the number of days until the due date, relative to today,
// or DaysLeftNoDueDate when none is set. Display/sorting only.
func (w WorkItem) DaysLeft(today time.Time) int {
	if w.DueDate == nil || *w.DueDate == "" {
		return DaysLeftNoDueDate
	}
	due, err := time.Parse("2006-01-02", *w.DueDate)
	if err != nil {
		return DaysLeftNoDueDate
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(due.Sub(day).Hours() / 24)
}

type InventoryProduct struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Category  string  `json:"category,omitempty"`
	Unit      string  `json:"unit"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type InventoryRequest struct {
	ID          string                 `json:"id"`
	RequesterID string                 `json:"requester_id"`
	Department  string                 `json:"department"`
	Status      string                 `json:"status" enum:"new,approved,rejected,partially_approved"`
	CreatedAt   string                 `json:"created_at" format:"date-time"`
	Items       []InventoryRequestItem `json:"items,omitempty"`
}

// InventoryRequestItem is one line of a request. OnHand and Price are
// snapshots taken at submission; Version guards concurrent grant updates.
type InventoryRequestItem struct {
	ID        string  `json:"id"`
	RequestID string  `json:"request_id"`
	ProductID *string `json:"product_id,omitempty"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit"`
	OnHand    float64 `json:"on_hand"`
	Requested float64 `json:"requested"`
	Granted   float64 `json:"granted"`
	Price     float64 `json:"price"`
	Version   int64   `json:"-"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	Name        string `json:"name,omitempty"`
	KeyHash     string `json:"key_hash"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
