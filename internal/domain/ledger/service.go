package ledger

import (
	"context"
	"fmt"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/pkg/logger"
)

// Service is the budget ledger. Read operations recompute from current
// transfer and record state on every call; guards must run inside the
// transaction that holds the line lock.
type Service struct {
	repo Repository
	log  *logger.Logger
}

// NewService creates a ledger service.
func NewService(repo Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log.WithComponent("ledger")}
}

// CommitOption tunes a CanCommit call.
type CommitOption func(*commitOptions)

type commitOptions struct {
	exclude id.ID
}

// ExcludeRecord leaves the record's own pending amount out of total_reserve,
// so a record under validation does not compete with itself.
func ExcludeRecord(recordID id.ID) CommitOption {
	return func(o *commitOptions) { o.exclude = recordID }
}

// CreateLine registers a budget line.
func (s *Service) CreateLine(ctx context.Context, line *BudgetLine) error {
	if err := line.Validate(); err != nil {
		return err
	}
	if id.IsNil(line.ID) {
		line.ID = id.New()
	}
	if err := s.repo.CreateLine(ctx, line); err != nil {
		return fmt.Errorf("create budget line: %w", err)
	}
	s.log.WithContext(ctx).Infow("budget line created",
		"budget_line_id", line.ID, "code", line.Code, "exercice", line.Exercice,
		"dotation_initiale", line.DotationInitiale)
	return nil
}

// Lines lists the budget lines of an exercice.
func (s *Service) Lines(ctx context.Context, exercice int) ([]*BudgetLine, error) {
	return s.repo.ListLines(ctx, exercice)
}

// Line loads a budget line and checks it belongs to the exercice.
func (s *Service) Line(ctx context.Context, lineID id.ID, exercice int) (*BudgetLine, error) {
	line, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.Exercice != exercice {
		return nil, apperror.NewNotFound("budget_line", lineID.String()).
			WithDetail("exercice", exercice)
	}
	return line, nil
}

// Availability computes the current availability of a line.
func (s *Service) Availability(ctx context.Context, lineID id.ID, exercice int) (Availability, error) {
	return s.availability(ctx, lineID, exercice, id.Nil())
}

func (s *Service) availability(ctx context.Context, lineID id.ID, exercice int, exclude id.ID) (Availability, error) {
	line, err := s.Line(ctx, lineID, exercice)
	if err != nil {
		return Availability{}, err
	}
	totals, err := s.repo.Totals(ctx, lineID, exercice, exclude)
	if err != nil {
		return Availability{}, fmt.Errorf("budget line %s totals: %w", lineID, err)
	}
	return Compute(line, totals), nil
}

// CanCommit checks amount against the line's disponible. It fails closed:
// any amount above disponible yields OK=false with the shortfall.
func (s *Service) CanCommit(
	ctx context.Context,
	lineID id.ID,
	amount types.Amount,
	exercice int,
	opts ...CommitOption,
) (CommitCheck, error) {
	if amount.IsNegative() {
		return CommitCheck{}, apperror.NewValidation("amount must not be negative").
			WithDetail("amount", amount)
	}

	var o commitOptions
	for _, opt := range opts {
		opt(&o)
	}

	a, err := s.availability(ctx, lineID, exercice, o.exclude)
	if err != nil {
		return CommitCheck{}, err
	}

	check := newCommitCheck(a, amount)
	if !check.OK {
		s.log.WithContext(ctx).Warnw("commit refused",
			"budget_line_id", lineID,
			"exercice", exercice,
			"disponible", check.Disponible,
			"demande", check.Demande,
			"ecart", check.Ecart,
		)
	}
	return check, nil
}

// CheckLiquidation bounds a liquidation by what is still open on its engagement.
func (s *Service) CheckLiquidation(
	ctx context.Context,
	engagementID id.ID,
	montantEngagement types.Amount,
	amount types.Amount,
	exclude id.ID,
) (LiquidationCheck, error) {
	done, err := s.repo.Liquidated(ctx, engagementID, exclude)
	if err != nil {
		return LiquidationCheck{}, fmt.Errorf("engagement %s liquidated amount: %w", engagementID, err)
	}
	restant := montantEngagement - done
	check := LiquidationCheck{
		OK:                 amount <= restant,
		MontantEngagement:  montantEngagement,
		DejaLiquide:        done,
		Restant:            restant,
		MontantLiquidation: amount,
	}
	if !check.OK {
		s.log.WithContext(ctx).Warnw("liquidation exceeds engagement",
			"engagement_id", engagementID,
			"montant_engagement", montantEngagement,
			"deja_liquide", done,
			"montant_liquidation", amount,
		)
	}
	return check, nil
}

// LockLines serializes callers on the given lines for the rest of the transaction.
func (s *Service) LockLines(ctx context.Context, lineIDs ...id.ID) error {
	if err := s.repo.LockLines(ctx, lineIDs...); err != nil {
		return fmt.Errorf("lock budget lines: %w", err)
	}
	return nil
}

// Refresh rewrites the display caches of a line from its derived values.
func (s *Service) Refresh(ctx context.Context, lineID id.ID, exercice int) (Availability, error) {
	a, err := s.Availability(ctx, lineID, exercice)
	if err != nil {
		return Availability{}, err
	}
	if err := s.repo.UpdateCaches(ctx, lineID, a.DotationActuelle, a.TotalEngage); err != nil {
		return Availability{}, fmt.Errorf("refresh budget line %s: %w", lineID, err)
	}
	return a, nil
}
