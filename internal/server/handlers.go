package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"orgdesk/internal/domain"
	"orgdesk/internal/engine"
	"orgdesk/internal/repo"
)

func registerPrincipals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-principal",
		Method:        http.MethodPost,
		Path:          "/principals",
		Summary:       "Provision a principal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			FullName   string `json:"full_name"`
			Email      string `json:"email" format:"email"`
			Role       string `json:"role" enum:"administrator,manager,employee,requester"`
			Password   string `json:"password"`
			TelegramID string `json:"telegram_id,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body PrincipalResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
			FullName:   input.Body.FullName,
			Email:      input.Body.Email,
			Role:       input.Body.Role,
			Password:   input.Body.Password,
			TelegramID: input.Body.TelegramID,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PrincipalResponse `json:"body"`
		}{Body: principalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-principals",
		Method:      http.MethodGet,
		Path:        "/principals",
		Summary:     "List principals",
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct {
		Body []PrincipalResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPrincipals(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]PrincipalResponse, 0, len(items))
		for _, p := range items {
			res = append(res, principalResponse(p))
		}
		return &struct {
			Body []PrincipalResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-principal-role",
		Method:      http.MethodPatch,
		Path:        "/principals/{id}/role",
		Summary:     "Change a principal's role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Role string `json:"role" enum:"administrator,manager,employee,requester"`
		} `json:"body"`
	}) (*struct {
		Body PrincipalResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetPrincipalRole(ctx, input.ID, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PrincipalResponse `json:"body"`
		}{Body: principalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-principal-active",
		Method:      http.MethodPatch,
		Path:        "/principals/{id}/active",
		Summary:     "Activate or deactivate a principal",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Active bool `json:"active"`
		} `json:"body"`
	}) (*struct {
		Body PrincipalResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetPrincipalActive(ctx, input.ID, input.Body.Active, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PrincipalResponse `json:"body"`
		}{Body: principalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "mint-api-key",
		Method:        http.MethodPost,
		Path:          "/auth/keys",
		Summary:       "Mint an API key for a principal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			PrincipalID string `json:"principal_id"`
			Name        string `json:"name,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Key         string `json:"key"`
			KeyID       string `json:"key_id"`
			PrincipalID string `json:"principal_id"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plaintext, key, err := e.MintAPIKey(ctx, input.Body.PrincipalID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Key         string `json:"key"`
				KeyID       string `json:"key_id"`
				PrincipalID string `json:"principal_id"`
			} `json:"body"`
		}{}
		out.Body.Key = plaintext
		out.Body.KeyID = key.ID
		out.Body.PrincipalID = key.PrincipalID
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/auth/keys",
		Summary:     "List API key metadata",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		PrincipalID string `query:"principal_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, input.PrincipalID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/auth/keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerWorkItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workitem",
		Method:        http.MethodPost,
		Path:          "/workitems",
		Summary:       "Create work item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Title        string `json:"title"`
			Description  string `json:"description,omitempty"`
			AssigneeID   string `json:"assignee_id,omitempty"`
			Source       string `json:"source,omitempty"`
			ReceivedDate string `json:"received_date,omitempty"`
			DueDate      string `json:"due_date,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateWorkItem(ctx, engine.WorkItemCreateOptions{
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			AssigneeID:   input.Body.AssigneeID,
			Source:       input.Body.Source,
			ReceivedDate: input.Body.ReceivedDate,
			DueDate:      input.Body.DueDate,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w, time.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workitems",
		Method:      http.MethodGet,
		Path:        "/workitems",
		Summary:     "List work items",
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		AssigneeID string `query:"assignee_id"`
		CreatorID  string `query:"creator_id"`
		Directive  bool   `query:"directive"`
	}) (*struct {
		Body []WorkItemResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListWorkItems(ctx, repo.WorkItemFilters{
			Status:     input.Status,
			AssigneeID: input.AssigneeID,
			CreatorID:  input.CreatorID,
			Directive:  input.Directive,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkItemResponse `json:"body"`
		}{Body: mapWorkItems(items, time.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workitem",
		Method:      http.MethodGet,
		Path:        "/workitems/{id}",
		Summary:     "Get work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorkItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w, time.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-workitem",
		Method:      http.MethodPatch,
		Path:        "/workitems/{id}/assignee",
		Summary:     "Assign or reassign a work item",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			AssigneeID *string `json:"assignee_id"`
		} `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.AssignWorkItem(ctx, input.ID, input.Body.AssigneeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w, time.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-workitem",
		Method:      http.MethodPatch,
		Path:        "/workitems/{id}/status",
		Summary:     "Transition work item status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Status string `json:"status" enum:"in_progress,pending,done,rejected"`
		} `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.TransitionWorkItemStatus(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w, time.Now())}, nil
	})
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Submit an inventory request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Department string `json:"department"`
			Lines      []struct {
				Name      string  `json:"name"`
				Unit      string  `json:"unit,omitempty"`
				Requested float64 `json:"requested"`
			} `json:"lines"`
		} `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		lines := make([]engine.RequestLine, 0, len(input.Body.Lines))
		for _, l := range input.Body.Lines {
			lines = append(lines, engine.RequestLine{Name: l.Name, Unit: l.Unit, Requested: l.Requested})
		}
		req, err := e.CreateInventoryRequest(ctx, engine.RequestCreateOptions{
			Department: input.Body.Department,
			Lines:      lines,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(req)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List inventory requests",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body []RequestResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reqs, err := e.ListRequestsFor(ctx, actorID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RequestResponse `json:"body"`
		}{Body: mapRequests(reqs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get inventory request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		req, err := e.Repo.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if p.Role == domain.RoleRequester && req.RequesterID != p.ID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "request not found", nil)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(req)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-request-item",
		Method:      http.MethodPatch,
		Path:        "/request-items/{id}/grant",
		Summary:     "Record the granted amount for a request item",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Granted float64 `json:"granted"`
		} `json:"body"`
	}) (*struct {
		Body RequestItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := e.FulfillRequestItem(ctx, input.ID, input.Body.Granted, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestItemResponse `json:"body"`
		}{Body: requestItemResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/finalize",
		Summary:     "Finalize an inventory request",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.FinalizeRequest(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(req)}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-product",
		Method:      http.MethodPut,
		Path:        "/catalog/products",
		Summary:     "Create or restock a catalog product",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name     string  `json:"name"`
			Category string  `json:"category,omitempty"`
			Unit     string  `json:"unit"`
			Quantity float64 `json:"quantity"`
			Price    float64 `json:"price"`
		} `json:"body"`
	}) (*struct {
		Body ProductResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpsertCatalogProduct(ctx, engine.ProductUpsertOptions{
			Name:     input.Body.Name,
			Category: input.Body.Category,
			Unit:     input.Body.Unit,
			Quantity: input.Body.Quantity,
			Price:    input.Body.Price,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProductResponse `json:"body"`
		}{Body: productResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Method:      http.MethodGet,
		Path:        "/catalog/products",
		Summary:     "List catalog products",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProductResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProducts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ProductResponse, 0, len(items))
		for _, p := range items {
			res = append(res, productResponse(p))
		}
		return &struct {
			Body []ProductResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "summary-report",
		Method:      http.MethodGet,
		Path:        "/reports/summary",
		Summary:     "Aggregated counts and amounts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Summary `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.Summarize(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Summary `json:"body"`
		}{Body: s}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit log",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"20"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		events, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(events))
		for _, evt := range events {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}
