package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tinyblog/blog/internal/metrics"
	"github.com/tinyblog/blog/internal/store"
	"github.com/tinyblog/blog/types"
	"golang.org/x/crypto/bcrypt"
)

const usernameTakenMessage = "That username is taken. Please choose a different one."

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id int) (types.Account, error)
	GetByUsername(ctx context.Context, username string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
}

// AccountService encapsulates registration and credential checks.
type AccountService struct {
	repo     AccountRepository
	hashCost int

	dummyOnce sync.Once
	dummyHash []byte
}

func NewAccountService(repo AccountRepository) *AccountService {
	return &AccountService{repo: repo, hashCost: bcrypt.DefaultCost}
}

func (s *AccountService) GetByID(ctx context.Context, id int) (types.Account, error) {
	return s.repo.GetByID(ctx, id)
}

// Register validates the form and creates an account with a bcrypt password
// hash. Rejected input, including a taken username, is a *ValidationError.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (types.Account, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validateForm(in); err != nil {
		return types.Account{}, err
	}
	if len(in.Password) > maxPasswordBytes {
		return types.Account{}, newValidationError("password",
			fmt.Sprintf("Field cannot be longer than %d bytes.", maxPasswordBytes))
	}

	if _, err := s.repo.GetByUsername(ctx, in.Username); err == nil {
		return types.Account{}, newValidationError("username", usernameTakenMessage)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Account{}, fmt.Errorf("check username: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return types.Account{}, fmt.Errorf("hash password: %w", err)
	}

	account, err := s.repo.Create(ctx, types.Account{
		Username:     in.Username,
		PasswordHash: string(hashed),
	})
	if err != nil {
		// Lost a race with a concurrent registration of the same name.
		if errors.Is(err, store.ErrConflict) {
			return types.Account{}, newValidationError("username", usernameTakenMessage)
		}
		return types.Account{}, err
	}

	metrics.RecordRegistration()
	return account, nil
}

// Authenticate checks a username/password pair. Unknown usernames and wrong
// passwords both yield ErrInvalidCredentials after the same bcrypt work.
func (s *AccountService) Authenticate(ctx context.Context, in LoginInput) (types.Account, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validateForm(in); err != nil {
		return types.Account{}, err
	}

	account, err := s.repo.GetByUsername(ctx, in.Username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return types.Account{}, fmt.Errorf("load account: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(in.Password))
		metrics.RecordLogin(false)
		return types.Account{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(in.Password)); err != nil {
		metrics.RecordLogin(false)
		return types.Account{}, ErrInvalidCredentials
	}

	metrics.RecordLogin(true)
	return account, nil
}

func (s *AccountService) dummy() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.hashCost)
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}
