package engine

import (
	"context"

	"orgdesk/internal/domain"
	"orgdesk/internal/repo"
)

// Summary is the read-only aggregation view. Everything is computed per
// query; nothing is cached.
type Summary struct {
	WorkItemsByStatus map[string]int `json:"work_items_by_status"`
	PrincipalsByRole  map[string]int `json:"principals_by_role"`
	RequestsByStatus  map[string]int `json:"requests_by_status"`
	RequestedAmount   float64        `json:"requested_amount"`
	GrantedAmount     float64        `json:"granted_amount"`
}

func (e Engine) Summarize(ctx context.Context) (Summary, error) {
	s := Summary{
		WorkItemsByStatus: map[string]int{},
		PrincipalsByRole:  map[string]int{},
		RequestsByStatus:  map[string]int{},
	}
	for _, status := range []string{domain.WorkItemNew, domain.WorkItemInProgress, domain.WorkItemPending, domain.WorkItemDone, domain.WorkItemRejected} {
		s.WorkItemsByStatus[status] = 0
	}
	for _, role := range []string{domain.RoleAdministrator, domain.RoleManager, domain.RoleEmployee, domain.RoleRequester} {
		s.PrincipalsByRole[role] = 0
	}
	items, err := e.Repo.CountWorkItemsByStatus(ctx)
	if err != nil {
		return s, err
	}
	for k, v := range items {
		s.WorkItemsByStatus[k] = v
	}
	roles, err := e.Repo.CountPrincipalsByRole(ctx)
	if err != nil {
		return s, err
	}
	for k, v := range roles {
		s.PrincipalsByRole[k] = v
	}
	reqs, err := e.Repo.CountRequestsByStatus(ctx)
	if err != nil {
		return s, err
	}
	for k, v := range reqs {
		s.RequestsByStatus[k] = v
	}
	totals, err := e.Repo.SumRequestAmounts(ctx, "")
	if err != nil {
		return s, err
	}
	s.RequestedAmount = totals.RequestedAmount
	s.GrantedAmount = totals.GrantedAmount
	return s, nil
}

// RequestTotals exposes the per-request monetary roll-up.
func (e Engine) RequestTotals(ctx context.Context, requestID string) (repo.RequestTotals, error) {
	if requestID != "" {
		if _, err := e.Repo.GetRequest(ctx, requestID); err != nil {
			return repo.RequestTotals{}, err
		}
	}
	return e.Repo.SumRequestAmounts(ctx, requestID)
}
