package server

import (
	"encoding/json"
	"time"

	"orgdesk/internal/domain"
)

type PrincipalResponse struct {
	ID         string `json:"id"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	TelegramID string `json:"telegram_id,omitempty"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at"`
}

func principalResponse(p domain.Principal) PrincipalResponse {
	return PrincipalResponse{
		ID:         p.ID,
		FullName:   p.FullName,
		Email:      p.Email,
		Role:       p.Role,
		TelegramID: p.TelegramID,
		Active:     p.Active,
		CreatedAt:  p.CreatedAt,
	}
}

type WorkItemResponse struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status"`
	CreatorID    string  `json:"creator_id"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	Source       string  `json:"source,omitempty"`
	ReceivedDate *string `json:"received_date,omitempty"`
	DueDate      *string `json:"due_date,omitempty"`
	DaysLeft     int     `json:"days_left"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

func workItemResponse(w domain.WorkItem, now time.Time) WorkItemResponse {
	return WorkItemResponse{
		ID:           w.ID,
		Title:        w.Title,
		Description:  w.Description,
		Status:       w.Status,
		CreatorID:    w.CreatorID,
		AssigneeID:   w.AssigneeID,
		Source:       w.Source,
		ReceivedDate: w.ReceivedDate,
		DueDate:      w.DueDate,
		DaysLeft:     w.DaysLeft(now),
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

func mapWorkItems(items []domain.WorkItem, now time.Time) []WorkItemResponse {
	res := make([]WorkItemResponse, 0, len(items))
	for _, w := range items {
		res = append(res, workItemResponse(w, now))
	}
	return res
}

type RequestItemResponse struct {
	ID        string  `json:"id"`
	RequestID string  `json:"request_id"`
	ProductID *string `json:"product_id,omitempty"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit,omitempty"`
	OnHand    float64 `json:"on_hand"`
	Requested float64 `json:"requested"`
	Granted   float64 `json:"granted"`
	Price     float64 `json:"price"`
}

type RequestResponse struct {
	ID          string                `json:"id"`
	RequesterID string                `json:"requester_id"`
	Department  string                `json:"department,omitempty"`
	Status      string                `json:"status"`
	CreatedAt   string                `json:"created_at"`
	Items       []RequestItemResponse `json:"items"`
}

func requestItemResponse(item domain.InventoryRequestItem) RequestItemResponse {
	return RequestItemResponse{
		ID:        item.ID,
		RequestID: item.RequestID,
		ProductID: item.ProductID,
		Name:      item.Name,
		Unit:      item.Unit,
		OnHand:    item.OnHand,
		Requested: item.Requested,
		Granted:   item.Granted,
		Price:     item.Price,
	}
}

func requestResponse(req domain.InventoryRequest) RequestResponse {
	items := make([]RequestItemResponse, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, requestItemResponse(item))
	}
	return RequestResponse{
		ID:          req.ID,
		RequesterID: req.RequesterID,
		Department:  req.Department,
		Status:      req.Status,
		CreatedAt:   req.CreatedAt,
		Items:       items,
	}
}

func mapRequests(reqs []domain.InventoryRequest) []RequestResponse {
	res := make([]RequestResponse, 0, len(reqs))
	for _, req := range reqs {
		res = append(res, requestResponse(req))
	}
	return res
}

type ProductResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Category  string  `json:"category,omitempty"`
	Unit      string  `json:"unit"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	UpdatedAt string  `json:"updated_at"`
}

func productResponse(p domain.InventoryProduct) ProductResponse {
	return ProductResponse{
		ID:        p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Unit:      p.Unit,
		Quantity:  p.Quantity,
		Price:     p.Price,
		UpdatedAt: p.UpdatedAt,
	}
}

// APIKeyResponse deliberately omits the key hash.
type APIKeyResponse struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	Name        string `json:"name,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:          k.ID,
		PrincipalID: k.PrincipalID,
		Name:        k.Name,
		CreatedAt:   k.CreatedAt,
	}
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}
