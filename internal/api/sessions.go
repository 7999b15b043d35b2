package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/relaynode/internal/api/models"
	"github.com/smazurov/relaynode/internal/relay"
)

// registerSessionRoutes registers the relay session endpoints
func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Sessions",
		Description: "Get the current snapshot of all relay sessions",
		Tags:        []string{"sessions"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.SessionListResponse, error) {
		snapshot := s.sessions.Snapshot()
		return &models.SessionListResponse{
			Body: models.SessionListData{
				Sessions: snapshot,
				Count:    len(snapshot),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{name}",
		Summary:     "Get Session",
		Description: "Get status and health of one relay session",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SessionPathRequest) (*models.SessionResponse, error) {
		view, ok := s.sessions.Get(input.Name)
		if !ok {
			return nil, huma.Error404NotFound(relay.MsgNotFound)
		}
		return &models.SessionResponse{Body: view}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/api/sessions",
		Summary:       "Start Session",
		Description:   "Launch a relay from a catalog source or input locator to a destination. The caller becomes the owner.",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 409, 502, 503},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.StartSessionRequest) (*models.SessionResponse, error) {
		params, err := s.startParams(ctx, input.Body)
		if err != nil {
			return nil, err
		}
		if err := s.sessions.Start(ctx, params); err != nil {
			return nil, mapRelayError(err)
		}

		view, ok := s.sessions.Get(params.Name)
		if !ok {
			return nil, huma.Error502BadGateway("relay exited during startup")
		}
		return &models.SessionResponse{Body: view}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodDelete,
		Path:        "/api/sessions/{name}",
		Summary:     "Stop Session",
		Description: "Stop a relay session. Admins may stop any session, other users only their own.",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 403, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.SessionPathRequest) (*models.StopSessionResponse, error) {
		id := IdentityFrom(ctx)
		if err := s.sessions.Stop(ctx, input.Name, id.Role, id.User); err != nil {
			return nil, mapRelayError(err)
		}
		return &models.StopSessionResponse{
			Body: models.StopSessionData{
				Session: input.Name,
				Message: relay.StopMessage(nil),
			},
		}, nil
	})
}

// startParams resolves the request against the catalog. A source name
// selects a catalog input; a raw input is labelled with the catalog name
// it matches, if any.
func (s *Server) startParams(ctx context.Context, body models.StartSessionData) (relay.StartParams, error) {
	params := relay.StartParams{
		Name:        strings.TrimSpace(body.Name),
		Input:       strings.TrimSpace(body.Input),
		Destination: body.Destination,
		Endpoint:    body.Endpoint,
		StreamKey:   body.StreamKey,
		Owner:       IdentityFrom(ctx).User,
	}

	switch {
	case body.Source != "" && params.Input != "":
		return params, huma.Error400BadRequest("give either source or input, not both")
	case body.Source != "":
		if s.catalog == nil {
			return params, huma.Error400BadRequest("no catalog configured")
		}
		src, ok := s.catalog.Lookup(body.Source)
		if !ok {
			return params, huma.Error400BadRequest("unknown source " + body.Source)
		}
		params.Input = src.Input
		params.SourceName = src.Name
	case params.Input == "":
		return params, huma.Error400BadRequest("source or input is required")
	case s.catalog != nil:
		if name, ok := s.catalog.NameFor(params.Input); ok {
			params.SourceName = name
		}
	}
	return params, nil
}

// mapRelayError maps registry errors to HTTP errors. Causes are not
// forwarded; they may quote the relay invocation.
func mapRelayError(err error) error {
	var re *relay.RelayError
	if !errors.As(err, &re) {
		return huma.Error500InternalServerError("internal server error")
	}
	switch re.Code {
	case relay.ErrCodeSessionExists:
		return huma.Error409Conflict(re.Message)
	case relay.ErrCodeSessionNotFound:
		return huma.Error404NotFound(relay.StopMessage(err))
	case relay.ErrCodePermissionDenied:
		return huma.Error403Forbidden(relay.StopMessage(err))
	case relay.ErrCodeInvalidParams:
		if re.Cause != nil {
			return huma.Error400BadRequest(re.Message + ": " + re.Cause.Error())
		}
		return huma.Error400BadRequest(re.Message)
	case relay.ErrCodeLaunchFailed:
		return huma.Error502BadGateway(re.Message)
	case relay.ErrCodeShuttingDown:
		return huma.Error503ServiceUnavailable(re.Message)
	default:
		return huma.Error500InternalServerError("internal server error")
	}
}
