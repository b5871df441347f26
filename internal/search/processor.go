package search

import (
	"github.com/hyperjump/codesearch/internal/apperr"
	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/models"
)

// ErrEmptyQuery is returned, wrapped as a client request error, for blank queries.
var ErrEmptyQuery = models.ErrEmptyQuery

// ProcessQuery validates req and resolves its top-k against cfg.
// Every failure is a client request error.
func ProcessQuery(req *models.SearchRequest, cfg config.SearchConfig) error {
	if err := req.Normalize(cfg.DefaultTopK, cfg.MaxTopK); err != nil {
		return apperr.ClientRequest("", err)
	}
	return nil
}
