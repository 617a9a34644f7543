package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"labelflow/internal/domain"
	"labelflow/internal/engine"
)

type userOutput struct {
	ETag string      `header:"ETag"`
	Body domain.User `json:"body"`
}

func userResult(u domain.User) *userOutput {
	return &userOutput{ETag: etag(u.Version), Body: u}
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "find-user",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "Find a user by wallet address",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WalletAddress string `query:"wallet_address" required:"true"`
	}) (*userOutput, error) {
		if strings.TrimSpace(input.WalletAddress) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "wallet_address is required", nil)
		}
		u, err := e.GetUserByWallet(ctx, input.WalletAddress)
		if err != nil {
			return nil, handleError(err)
		}
		return userResult(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*userOutput, error) {
		u, err := e.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return userResult(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register a user profile",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*userOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateUser(ctx, actorID, input.Body.WalletAddress, input.Body.fields())
		if err != nil {
			return nil, handleError(err)
		}
		return userResult(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}",
		Summary:     "Update the caller's profile",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		UserID  string            `path:"user_id"`
		IfMatch string            `header:"If-Match" doc:"Expected user version"`
		Body    UpdateUserRequest `json:"body"`
	}) (*userOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, ok := rawBodyMap(ctx)["wallet_address"]; ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "wallet_address cannot be changed", nil)
		}
		expected, verr := parseIfMatch(input.IfMatch)
		if verr != nil {
			return nil, verr
		}
		u, err := e.UpdateUser(ctx, input.UserID, actorID, expected, input.Body.fields())
		if err != nil {
			return nil, handleError(err)
		}
		return userResult(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "usernames",
		Method:      http.MethodGet,
		Path:        "/usernames",
		Summary:     "Resolve user ids to usernames",
		Description: "Unknown ids are omitted from the result.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		IDs string `query:"ids" doc:"Comma separated user ids"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		ids := splitCSV(input.IDs)
		if len(ids) > 200 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "at most 200 ids per request", map[string]any{"count": len(ids)})
		}
		names, err := e.Usernames(ctx, ids)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: names}, nil
	})
}
