package failure

import (
	"context"
	"log/slog"
)

// Ledger is the part of the ingestion ledger a retry needs.
type Ledger interface {
	Forget(id string)
	Save(ctx context.Context) error
}

type Service struct {
	repo   Repository
	ledger Ledger
}

func NewService(repo Repository, l Ledger) *Service {
	return &Service{repo: repo, ledger: l}
}

func (s *Service) List(ctx context.Context) ([]Failure, error) {
	return s.repo.List(ctx)
}

// Retry makes the failed document eligible for the next run and drops the
// record. Source-level failures have no ledger entry to forget.
func (s *Service) Retry(ctx context.Context, id string) error {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if f.DocumentID != "" {
		s.ledger.Forget(f.DocumentID)
		if err := s.ledger.Save(ctx); err != nil {
			return err
		}
		slog.InfoContext(ctx, "document queued for retry", "document_id", f.DocumentID, "url", f.URL)
	}

	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
