package audit

import (
	"context"
	"fmt"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/repository"
	apperrors "github.com/jwalitptl/coach-realtime/pkg/errors"
)

// Service answers read-only questions over flushed audit events. Events still
// in the pipeline buffer are not visible until the next flush.
type Service struct {
	repo repository.AuditRepository
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, int64, error) {
	if err := validateFilter(filter); err != nil {
		return nil, 0, err
	}
	return s.repo.Query(ctx, filter)
}

// Report summarizes matching events by type, risk and outcome.
func (s *Service) Report(ctx context.Context, filter model.AuditFilter) (*model.AuditSummary, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	return s.repo.Summarize(ctx, filter)
}

func validateFilter(filter model.AuditFilter) error {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return apperrors.BadRequest("time range ends before it starts", nil)
	}
	if filter.MinRisk != "" && !filter.MinRisk.Valid() {
		return apperrors.BadRequest(fmt.Sprintf("unknown risk level %q", filter.MinRisk), nil)
	}
	return nil
}
