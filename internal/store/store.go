package store

import (
	"context"
	"errors"
	"time"

	"barstock/backend/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicate         = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
)

type Repository interface {
	CreateOrganization(ctx context.Context, org domain.Organization) (*domain.Organization, error)
	// RegisterOrganization creates an organization and its first user
	// atomically: a duplicate email must not leave the organization
	// behind.
	RegisterOrganization(ctx context.Context, org domain.Organization, user domain.User) (*domain.Organization, *domain.User, error)
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)

	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context, orgID string) ([]domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) error
	DeleteUser(ctx context.Context, orgID, userID string) error

	GetOrCreateBrand(ctx context.Context, name string) (*domain.Brand, error)
	GetOrCreateCategory(ctx context.Context, name string) (*domain.Category, error)
	GetOrCreateVolume(ctx context.Context, ml int) (*domain.Volume, error)
	ListBrands(ctx context.Context) ([]domain.Brand, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListVolumes(ctx context.Context) ([]domain.Volume, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, orgID string, id string) (*domain.Product, error)
	FindProduct(ctx context.Context, orgID, name, brandID, categoryID, volumeID string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, orgID string, id string) error
	ListInventory(ctx context.Context, orgID string, filter domain.InventoryFilter) ([]domain.InventoryItem, error)

	// SetPrice mutates the latest price row in place, or appends the
	// first row when the product has no price history yet.
	SetPrice(ctx context.Context, productID string, amount decimal.Decimal, updatedBy string, at time.Time) error
	GetCurrentPrice(ctx context.Context, productID string) (decimal.Decimal, error)

	GetStock(ctx context.Context, orgID string, productID string) (*domain.Stock, error)
	ListStockUpdates(ctx context.Context, orgID string, productID string, limit int) ([]domain.StockUpdate, error)

	// ApplySales runs one reconciliation batch inside a single
	// transaction. Per-item rejections come back in the result; a
	// non-nil error means the whole batch rolled back.
	ApplySales(ctx context.Context, batch domain.SaleBatch) (*domain.SaleBatchResult, error)

	// AdjustStock assigns absolute quantities inside a single
	// transaction. Unknown and foreign products are skipped, and so
	// are no-op assignments. Returns the number of rows written.
	AdjustStock(ctx context.Context, orgID string, actorID string, changes []domain.StockChange, at time.Time) (int, error)

	ListSales(ctx context.Context, orgID string, date time.Time) ([]domain.Sale, error)
	SalesReport(ctx context.Context, orgID string, date time.Time) ([]domain.SalesReportRow, error)

	CreateActionLog(ctx context.Context, entry domain.ActionLog) error
	ListActionLogs(ctx context.Context, limit int) ([]domain.ActionLog, error)
}
