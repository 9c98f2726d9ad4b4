package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// fakeAuthRepository реализует AuthRepository в памяти.
type fakeAuthRepository struct {
	usersByEmail map[string]*models.User
	usersByID    map[uuid.UUID]*models.User
	sessions     map[string]*models.Session
}

func newFakeAuthRepository() *fakeAuthRepository {
	return &fakeAuthRepository{
		usersByEmail: make(map[string]*models.User),
		usersByID:    make(map[uuid.UUID]*models.User),
		sessions:     make(map[string]*models.Session),
	}
}

func (f *fakeAuthRepository) Create(ctx context.Context, user *models.User) error {
	user.ID = uuid.New()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true
	f.usersByEmail[user.Email] = user
	f.usersByID[user.ID] = user
	return nil
}

func (f *fakeAuthRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if user, ok := f.usersByEmail[email]; ok {
		return user, nil
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeAuthRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if user, ok := f.usersByID[id]; ok {
		return user, nil
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeAuthRepository) SetPayoutAccount(ctx context.Context, id uuid.UUID, accountRef string) error {
	user, ok := f.usersByID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.PayoutAccountRef = &accountRef
	return nil
}

func (f *fakeAuthRepository) RecordFailedLogin(ctx context.Context, id uuid.UUID) error {
	if user, ok := f.usersByID[id]; ok {
		user.FailedLoginCount++
	}
	return nil
}

func (f *fakeAuthRepository) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID) error {
	if user, ok := f.usersByID[id]; ok {
		user.FailedLoginCount = 0
	}
	return nil
}

func (f *fakeAuthRepository) CreateSession(ctx context.Context, session *models.Session) error {
	session.ID = uuid.New()
	session.CreatedAt = time.Now()
	f.sessions[session.RefreshToken] = session
	return nil
}

func (f *fakeAuthRepository) DeleteSession(ctx context.Context, refreshToken string) error {
	delete(f.sessions, refreshToken)
	return nil
}

func newAuthServiceForTest() (*AuthService, *fakeAuthRepository) {
	repo := newFakeAuthRepository()
	tokens := NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	return NewAuthService(repo, tokens), repo
}

func TestAuthService_Register_Success(t *testing.T) {
	svc, repo := newAuthServiceForTest()
	ctx := context.Background()

	result, err := svc.Register(ctx, RegisterInput{
		Email:    "client@example.com",
		Password: "secure-password",
		Role:     models.RoleClient,
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, models.RoleClient, result.User.Role)
	assert.Equal(t, "client", result.User.Username)
	assert.NotEmpty(t, result.TokenPair.AccessToken)
	assert.Len(t, repo.sessions, 1)
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	svc, _ := newAuthServiceForTest()
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "dup@example.com", Password: "pass1234"}, nil)
	assert.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "dup@example.com", Password: "pass1234"}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "уже зарегистрирован")
}

func TestAuthService_Register_PrivilegedRoleRejected(t *testing.T) {
	svc, _ := newAuthServiceForTest()

	for _, role := range []string{models.RoleMediator, models.RoleArbitrator, models.RoleAdmin} {
		_, err := svc.Register(context.Background(), RegisterInput{
			Email:    role + "@example.com",
			Password: "pass1234",
			Role:     role,
		}, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "допустимые роли")
	}
}

func TestAuthService_Login_WrongPasswordCountsFailure(t *testing.T) {
	svc, repo := newAuthServiceForTest()
	ctx := context.Background()

	result, err := svc.Register(ctx, RegisterInput{Email: "user@example.com", Password: "correct-pass"}, nil)
	assert.NoError(t, err)

	_, err = svc.Login(ctx, LoginInput{Email: "user@example.com", Password: "wrong-pass"}, nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	assert.Equal(t, 1, repo.usersByID[result.User.ID].FailedLoginCount)

	// Успешный вход сбрасывает счётчик.
	_, err = svc.Login(ctx, LoginInput{Email: "user@example.com", Password: "correct-pass"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, repo.usersByID[result.User.ID].FailedLoginCount)
}

func TestAuthService_Login_InactiveAccount(t *testing.T) {
	svc, repo := newAuthServiceForTest()
	ctx := context.Background()

	result, err := svc.Register(ctx, RegisterInput{Email: "blocked@example.com", Password: "pass1234"}, nil)
	assert.NoError(t, err)
	repo.usersByID[result.User.ID].IsActive = false

	_, err = svc.Login(ctx, LoginInput{Email: "blocked@example.com", Password: "pass1234"}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "заблокирован")
}

func TestAuthService_Refresh_RotatesSession(t *testing.T) {
	svc, repo := newAuthServiceForTest()
	ctx := context.Background()

	result, err := svc.Register(ctx, RegisterInput{Email: "rotate@example.com", Password: "pass1234"}, nil)
	assert.NoError(t, err)
	oldToken := result.TokenPair.RefreshToken

	pair, err := svc.Refresh(ctx, oldToken, nil)
	assert.NoError(t, err)
	assert.NotEqual(t, oldToken, pair.RefreshToken)

	_, oldAlive := repo.sessions[oldToken]
	assert.False(t, oldAlive)
	_, newAlive := repo.sessions[pair.RefreshToken]
	assert.True(t, newAlive)
}

func TestAuthService_SetPayoutAccount_Empty(t *testing.T) {
	svc, _ := newAuthServiceForTest()

	err := svc.SetPayoutAccount(context.Background(), uuid.New(), "   ")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "не может быть пустым")
}

func TestAuthService_SetPayoutAccount_Saved(t *testing.T) {
	svc, repo := newAuthServiceForTest()
	ctx := context.Background()

	result, err := svc.Register(ctx, RegisterInput{Email: "payee@example.com", Password: "pass1234", Role: models.RoleFreelancer}, nil)
	assert.NoError(t, err)

	err = svc.SetPayoutAccount(ctx, result.User.ID, "acct_42")
	assert.NoError(t, err)
	assert.Equal(t, "acct_42", *repo.usersByID[result.User.ID].PayoutAccountRef)
}
