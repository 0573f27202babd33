package service

import (
	"context"
	"fmt"

	"sessiond/internal/domain"
	"sessiond/internal/ledger"
	"sessiond/internal/models"

	"github.com/rs/zerolog"
)

// AdminService carries the administrator-only surface outside dispute
// resolution: the mutable engine settings and the ledger sweep.
type AdminService struct {
	repo   domain.Repository
	acct   *ledger.Accounting
	admins map[string]bool
	logger *zerolog.Logger
}

func NewAdminService(repo domain.Repository, acct *ledger.Accounting, admins []string, logger *zerolog.Logger) *AdminService {
	adminSet := make(map[string]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}
	return &AdminService{
		repo:   repo,
		acct:   acct,
		admins: adminSet,
		logger: logger,
	}
}

func (s *AdminService) IsAdmin(account string) bool {
	return s.admins[account]
}

// UpdateSettings replaces the administrator-mutable engine parameters.
// Outstanding bookings keep the deadlines they were given; new operations
// pick up the new values.
func (s *AdminService) UpdateSettings(ctx context.Context, caller string, settings *models.EngineSettings) error {
	if !s.IsAdmin(caller) {
		return fmt.Errorf("%w: settings update requires an administrator account", ErrUnauthorized)
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return err
	}

	s.logger.Info().
		Str("caller", caller).
		Int64("fee_bps", settings.FeeBps).
		Int64("challenge_bond", settings.ChallengeBond).
		Msg("engine settings updated")
	return nil
}

func (s *AdminService) GetSettings(ctx context.Context) (*models.EngineSettings, error) {
	return s.repo.GetSettings(ctx)
}

// Sweep recovers any balance above totalHeld to the treasury.
func (s *AdminService) Sweep(ctx context.Context, caller string) (int64, error) {
	if !s.IsAdmin(caller) {
		return 0, fmt.Errorf("%w: sweep requires an administrator account", ErrUnauthorized)
	}
	return s.acct.Sweep(ctx)
}

// LedgerSnapshot returns the held/balance pair.
func (s *AdminService) LedgerSnapshot(ctx context.Context, caller string) (*models.LedgerState, error) {
	if !s.IsAdmin(caller) {
		return nil, fmt.Errorf("%w: ledger snapshot requires an administrator account", ErrUnauthorized)
	}
	return s.acct.Snapshot(ctx)
}
