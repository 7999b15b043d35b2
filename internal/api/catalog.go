package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/relaynode/internal/api/models"
	"github.com/smazurov/relaynode/internal/catalog"
)

func (s *Server) registerCatalogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-catalog",
		Method:      http.MethodGet,
		Path:        "/api/catalog",
		Summary:     "List Sources",
		Description: "Get the named input sources and their preview URLs",
		Tags:        []string{"catalog"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.CatalogResponse, error) {
		var sources []catalog.Source
		if s.catalog != nil {
			sources = s.catalog.List()
		}
		if sources == nil {
			sources = []catalog.Source{}
		}
		return &models.CatalogResponse{
			Body: models.CatalogData{
				Sources: sources,
				Count:   len(sources),
			},
		}, nil
	})
}
