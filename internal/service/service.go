package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"barstock/backend/internal/cache"
	"barstock/backend/internal/domain"
	"barstock/backend/internal/store"
)

const (
	lockoutThreshold = 5
	lockoutDuration  = 15 * time.Minute
	priceCacheTTL    = 10 * time.Minute
)

var (
	ErrForbidden          = errors.New("insufficient role")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked, try again later")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo   store.Repository
	prices cache.PriceCache
}

func New(repo store.Repository, prices cache.PriceCache) *Service {
	if prices == nil {
		prices = cache.NoopPriceCache{}
	}

	return &Service{
		repo:   repo,
		prices: prices,
	}
}

// Register creates an organization together with its first admin
// account in one atomic store operation, so a rejected email never
// leaves the organization name taken.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	req.OrgName = strings.TrimSpace(req.OrgName)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.OrgName == "" || req.Name == "" || req.Email == "" {
		return domain.User{}, store.ErrInvalidInput
	}
	if !strings.Contains(req.Email, "@") {
		return domain.User{}, store.ErrInvalidInput
	}
	if len(req.Password) < 8 {
		return domain.User{}, fmt.Errorf("%w: password must be at least 8 characters", store.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	org, user, err := s.repo.RegisterOrganization(ctx,
		domain.Organization{Name: req.OrgName},
		domain.User{
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: string(hash),
			Role:         domain.RoleAdmin,
		})
	if err != nil {
		return domain.User{}, err
	}

	s.logActionAs(ctx, *user, fmt.Sprintf("registered organization %q", org.Name))
	return *user, nil
}

// Authenticate verifies credentials and enforces the failed-attempt
// lockout. Counter updates are persisted so the lockout survives a
// restart.
func (s *Service) Authenticate(ctx context.Context, email string, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := time.Now().UTC()
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		return nil, ErrAccountLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= lockoutThreshold {
			until := now.Add(lockoutDuration)
			user.LockedUntil = &until
			user.FailedLoginAttempts = 0
		}
		if err := s.repo.UpdateUser(ctx, *user); err != nil {
			log.Printf("[service] WARN: failed to persist login attempt count user=%s: %v", user.ID, err)
		}
		if user.LockedUntil != nil && user.LockedUntil.After(now) {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
		if err := s.repo.UpdateUser(ctx, *user); err != nil {
			log.Printf("[service] WARN: failed to reset login attempt count user=%s: %v", user.ID, err)
		}
	}

	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, req domain.ChangePasswordRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ErrForbidden
	}
	if len(req.NewPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", store.ErrInvalidInput)
	}

	user, err := s.repo.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)) != nil {
		return ErrInvalidCredentials
	}
	if req.NewPassword == req.OldPassword {
		return fmt.Errorf("%w: new password must differ from the current one", store.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	user.NeedsPasswordChange = false
	if err := s.repo.UpdateUser(ctx, *user); err != nil {
		return err
	}

	s.logAction(ctx, "changed password")
	return nil
}

// CreateUser adds a staff or manager account to the caller's
// organization. New accounts must change the provisional password on
// first login.
func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.User{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if req.Name == "" || req.Email == "" || !strings.Contains(req.Email, "@") {
		return domain.User{}, store.ErrInvalidInput
	}
	if req.Role != domain.RoleManager && req.Role != domain.RoleStaff {
		return domain.User{}, fmt.Errorf("%w: role must be manager or staff", store.ErrInvalidInput)
	}
	if len(req.Password) < 8 {
		return domain.User{}, fmt.Errorf("%w: password must be at least 8 characters", store.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	user, err := s.repo.CreateUser(ctx, domain.User{
		Name:                req.Name,
		Email:               req.Email,
		PasswordHash:        string(hash),
		Role:                req.Role,
		OrgID:               actor.OrgID,
		NeedsPasswordChange: true,
	})
	if err != nil {
		return domain.User{}, err
	}

	s.logAction(ctx, fmt.Sprintf("created %s account %s", user.Role, user.Email))
	return *user, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx, actor.OrgID)
}

func (s *Service) ResetUserPassword(ctx context.Context, userID string, req domain.ResetPasswordRequest) error {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}
	if len(req.NewPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", store.ErrInvalidInput)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.OrgID != actor.OrgID {
		return store.ErrNotFound
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	user.NeedsPasswordChange = true
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	if err := s.repo.UpdateUser(ctx, *user); err != nil {
		return err
	}

	s.logAction(ctx, fmt.Sprintf("reset password for %s", user.Email))
	return nil
}

func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.OrgID != actor.OrgID {
		return store.ErrNotFound
	}
	if user.ID == actor.UserID {
		users, err := s.repo.ListUsers(ctx, actor.OrgID)
		if err != nil {
			return err
		}
		if len(users) > 1 {
			return fmt.Errorf("%w: remove the other accounts before deleting your own", store.ErrInvalidInput)
		}
	}

	if err := s.repo.DeleteUser(ctx, actor.OrgID, userID); err != nil {
		return err
	}

	s.logAction(ctx, fmt.Sprintf("deleted account %s", user.Email))
	return nil
}

// ReconcileSales applies one day's requested sale quantities. The
// store moves stock by the per-product delta against what is already
// recorded for the date; the whole batch is one transaction, with
// per-line rejections reported as data rather than as an error.
func (s *Service) ReconcileSales(ctx context.Context, req domain.ReconcileRequest) (domain.SaleBatchResult, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.SaleBatchResult{}, err
	}

	saleDate, err := parseDateOrToday(req.SaleDate)
	if err != nil {
		return domain.SaleBatchResult{}, err
	}

	lines := make([]domain.SaleLine, 0, len(req.Items))
	for productID, qty := range req.Items {
		if qty < 0 {
			continue
		}
		lines = append(lines, domain.SaleLine{ProductID: productID, Quantity: qty})
	}

	result, err := s.repo.ApplySales(ctx, domain.SaleBatch{
		OrgID:    actor.OrgID,
		ActorID:  actor.UserID,
		SaleDate: saleDate,
		Lines:    lines,
	})
	if err != nil {
		return domain.SaleBatchResult{}, err
	}

	s.logAction(ctx, fmt.Sprintf("reconciled sales for %s: applied=%d rejected=%d",
		saleDate.Format(domain.DateLayout), len(result.Applied), len(result.Rejected)))
	return *result, nil
}

// AdjustStock assigns absolute on-hand quantities (manual recount).
// No-op assignments are skipped entirely, so the audit trail only
// carries real movements.
func (s *Service) AdjustStock(ctx context.Context, req domain.AdjustStockRequest) (domain.AdjustStockResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.AdjustStockResponse{}, err
	}

	changes := make([]domain.StockChange, 0, len(req.Updates))
	for productID, qty := range req.Updates {
		if qty < 0 {
			continue
		}
		changes = append(changes, domain.StockChange{ProductID: productID, Quantity: qty})
	}

	applied, err := s.repo.AdjustStock(ctx, actor.OrgID, actor.UserID, changes, time.Now().UTC())
	if err != nil {
		return domain.AdjustStockResponse{}, err
	}

	if applied > 0 {
		s.logAction(ctx, fmt.Sprintf("adjusted stock for %d products", applied))
	}
	return domain.AdjustStockResponse{Applied: applied}, nil
}

func (s *Service) GetStock(ctx context.Context, productID string) (domain.Stock, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Stock{}, ErrForbidden
	}

	stock, err := s.repo.GetStock(ctx, actor.OrgID, productID)
	if err != nil {
		return domain.Stock{}, err
	}
	return *stock, nil
}

func (s *Service) StockHistory(ctx context.Context, productID string, limit int) ([]domain.StockUpdate, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListStockUpdates(ctx, actor.OrgID, productID, limit)
}

// CurrentPrice resolves a product's effective price through the price
// cache. Missing price history resolves to 0.00 rather than an error.
func (s *Service) CurrentPrice(ctx context.Context, productID string) (decimal.Decimal, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return decimal.Zero, ErrForbidden
	}
	if _, err := s.repo.GetProduct(ctx, actor.OrgID, productID); err != nil {
		return decimal.Zero, err
	}

	if cached, ok, err := s.prices.Get(ctx, productID); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: price cache read failed product=%s: %v", productID, err)
	}

	amount, err := s.repo.GetCurrentPrice(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.prices.Set(ctx, productID, amount, priceCacheTTL); err != nil {
		log.Printf("[service] WARN: price cache write failed product=%s: %v", productID, err)
	}
	return amount, nil
}

func (s *Service) ListSales(ctx context.Context, date string) ([]domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	day, err := parseDateOrToday(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, actor.OrgID, day)
}

func (s *Service) ListActionLogs(ctx context.Context, limit int) ([]domain.ActionLog, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListActionLogs(ctx, limit)
}

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, ErrForbidden
}

func (s *Service) logAction(ctx context.Context, action string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Name: "system"}
	}
	if err := s.repo.CreateActionLog(ctx, domain.ActionLog{
		UserID:    actor.UserID,
		UserName:  actor.Name,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write action log action=%q: %v", action, err)
	}
}

// logActionAs records an action for a user who is not yet on the
// request context (registration happens before login).
func (s *Service) logActionAs(ctx context.Context, user domain.User, action string) {
	if err := s.repo.CreateActionLog(ctx, domain.ActionLog{
		UserID:    user.ID,
		UserName:  user.Name,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write action log action=%q: %v", action, err)
	}
}

func parseDateOrToday(date string) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: sale_date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	return parsed.UTC(), nil
}
