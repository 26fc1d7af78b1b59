package accounts

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound = errors.New("accounts: account not found")
	ErrNumberTaken     = errors.New("accounts: number already in use")
	ErrSystemAccount   = errors.New("accounts: system account is protected")
	ErrInvalidType     = errors.New("accounts: unknown account type")
)

// RepositoryPort defines data access methods for the chart of accounts.
type RepositoryPort interface {
	CreateAccount(ctx context.Context, input CreateAccountInput) (*Account, error)
	GetAccount(ctx context.Context, ownerID, id int64) (*Account, error)
	GetAccountByNumber(ctx context.Context, ownerID int64, number string) (*Account, error)
	ListAccounts(ctx context.Context, ownerID int64, activeOnly bool) ([]Account, error)
	SetAccountActive(ctx context.Context, ownerID, id int64, active bool) error
}

// Service handles chart-of-accounts business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateAccount registers a new account. The normal balance defaults from
// the account type unless explicitly overridden.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (*Account, error) {
	if input.OwnerID == 0 {
		return nil, errors.New("accounts: owner required")
	}
	if input.Number == "" {
		return nil, errors.New("accounts: number required")
	}
	if input.Name == "" {
		return nil, errors.New("accounts: name required")
	}
	if !ValidType(input.Type) {
		return nil, ErrInvalidType
	}
	if input.NormalBalance == "" {
		input.NormalBalance = DefaultNormalBalance(input.Type)
	}
	if input.NormalBalance != NormalDebit && input.NormalBalance != NormalCredit {
		return nil, fmt.Errorf("accounts: invalid normal balance %q", input.NormalBalance)
	}
	existing, err := s.repo.GetAccountByNumber(ctx, input.OwnerID, input.Number)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrNumberTaken
	}
	return s.repo.CreateAccount(ctx, input)
}

// GetAccount returns a single account scoped to owner.
func (s *Service) GetAccount(ctx context.Context, ownerID, id int64) (*Account, error) {
	return s.repo.GetAccount(ctx, ownerID, id)
}

// ListAccounts returns the owner's chart of accounts.
func (s *Service) ListAccounts(ctx context.Context, ownerID int64, activeOnly bool) ([]Account, error) {
	return s.repo.ListAccounts(ctx, ownerID, activeOnly)
}

// DeactivateAccount hides an account from new postings. System accounts
// cannot be deactivated.
func (s *Service) DeactivateAccount(ctx context.Context, ownerID, id int64) error {
	acc, err := s.repo.GetAccount(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if acc == nil {
		return ErrAccountNotFound
	}
	if acc.System {
		return ErrSystemAccount
	}
	return s.repo.SetAccountActive(ctx, ownerID, id, false)
}

// ReactivateAccount makes an account available for posting again.
func (s *Service) ReactivateAccount(ctx context.Context, ownerID, id int64) error {
	acc, err := s.repo.GetAccount(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if acc == nil {
		return ErrAccountNotFound
	}
	return s.repo.SetAccountActive(ctx, ownerID, id, true)
}
