package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

// DateLayout is the wire format for sale dates and report dates.
const DateLayout = "2006-01-02"

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	OrgID               string     `json:"org_id"`
	NeedsPasswordChange bool       `json:"needs_password_change"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
}

type Brand struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Volume struct {
	ID string `json:"id"`
	ML int    `json:"ml"`
}

type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	BrandID    string `json:"brand_id"`
	CategoryID string `json:"category_id"`
	VolumeID   string `json:"volume_id"`
	OrgID      string `json:"org_id"`
}

// Price is one row of a product's price history. The effective price is
// the row with the latest EffectiveAt.
type Price struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	Amount      decimal.Decimal `json:"amount"`
	EffectiveAt time.Time       `json:"effective_at"`
	UpdatedBy   string          `json:"updated_by"`
}

// Stock is the single mutable on-hand row per (product, org), created
// lazily on the first quantity write. Quantity never goes below zero.
type Stock struct {
	ProductID     string    `json:"product_id"`
	OrgID         string    `json:"org_id"`
	Quantity      int       `json:"quantity"`
	LastUpdated   time.Time `json:"last_updated"`
	LastUpdatedBy string    `json:"last_updated_by"`
}

// StockUpdate is the append-only audit row written alongside every
// stock quantity mutation, whatever the mutation's origin.
type StockUpdate struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	UpdatedAt        time.Time `json:"updated_at"`
	UpdatedBy        string    `json:"updated_by"`
}

// Sale holds at most one row per (product, org, sale date). Re-submitted
// quantities for the same day overwrite the row rather than adding one.
type Sale struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	OrgID        string          `json:"org_id"`
	SaleDate     time.Time       `json:"sale_date"`
	QuantitySold int             `json:"quantity_sold"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	SoldBy       string          `json:"sold_by"`
}

// ActionLog is the process-wide user action trail. Deliberately not
// scoped by organization.
type ActionLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor identifies the authenticated caller on a request context.
type Actor struct {
	UserID string
	Name   string
	Role   string
	OrgID  string
}

// SaleLine is one requested (product, quantity) pair inside a
// reconciliation batch.
type SaleLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// SaleBatch is the unit of work the reconciliation engine applies. All
// lines share one organization, one sale date, and one actor.
type SaleBatch struct {
	OrgID    string
	ActorID  string
	SaleDate time.Time
	Lines    []SaleLine
}

type SaleRejection struct {
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

// SaleBatchResult reports itemized outcomes for one reconcile call.
// Products absent from both slices were skipped without comment:
// unknown IDs and products belonging to another organization.
type SaleBatchResult struct {
	Applied  []string        `json:"applied"`
	Rejected []SaleRejection `json:"rejected"`
}

// StockChange is one absolute quantity assignment inside a stock
// adjustment batch.
type StockChange struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ReconcileRequest struct {
	SaleDate string         `json:"sale_date"`
	Items    map[string]int `json:"items"`
}

type AdjustStockRequest struct {
	Updates map[string]int `json:"updates"`
}

type AdjustStockResponse struct {
	Applied int `json:"applied"`
}

type ProductCreateRequest struct {
	Name        string          `json:"name"`
	BrandID     string          `json:"brand_id"`
	NewBrand    string          `json:"new_brand"`
	CategoryID  string          `json:"category_id"`
	NewCategory string          `json:"new_category"`
	VolumeID    string          `json:"volume_id"`
	Price       decimal.Decimal `json:"price"`
}

type ProductUpdateRequest struct {
	Name       *string          `json:"name,omitempty"`
	BrandID    *string          `json:"brand_id,omitempty"`
	CategoryID *string          `json:"category_id,omitempty"`
	VolumeID   *string          `json:"volume_id,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
}

// InventoryFilter narrows the inventory listing. Empty fields match
// everything.
type InventoryFilter struct {
	Search     string
	BrandID    string
	CategoryID string
}

// InventoryItem is a product joined with its stock and effective price
// for the inventory listing.
type InventoryItem struct {
	Product  Product         `json:"product"`
	Brand    string          `json:"brand"`
	Category string          `json:"category"`
	VolumeML int             `json:"volume_ml"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// SalesReportRow is one line of the daily sales report. PrevStock comes
// from the latest stock update strictly before the report date, falling
// back to QuantitySold when no such row exists.
type SalesReportRow struct {
	ProductName  string          `json:"product_name"`
	Category     string          `json:"category"`
	VolumeML     int             `json:"volume_ml"`
	PrevStock    int             `json:"previous_stock"`
	QuantitySold int             `json:"quantity_sold"`
	PresentStock int             `json:"present_stock"`
	TotalPrice   decimal.Decimal `json:"total_price"`
}

type RegisterRequest struct {
	OrgName  string `json:"org_name"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken         string `json:"access_token"`
	Role                string `json:"role"`
	OrgID               string `json:"org_id"`
	NeedsPasswordChange bool   `json:"needs_password_change"`
	ExpiresAt           string `json:"expires_at"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type UserCreateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type ResetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// CatalogImportResult summarizes one catalog CSV import.
type CatalogImportResult struct {
	ProductsCreated int `json:"products_created"`
	RowsSeen        int `json:"rows_seen"`
}
