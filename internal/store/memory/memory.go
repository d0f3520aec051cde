package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"barstock/backend/internal/domain"
	"barstock/backend/internal/store"
	"barstock/backend/internal/xid"
)

type stockKey struct {
	orgID     string
	productID string
}

type saleKey struct {
	orgID     string
	productID string
	date      string
}

type Store struct {
	mu           sync.RWMutex
	orgsByID     map[string]domain.Organization
	usersByID    map[string]domain.User
	usersByEmail map[string]string
	brandsByID   map[string]domain.Brand
	catsByID     map[string]domain.Category
	volsByID     map[string]domain.Volume
	productsByID map[string]domain.Product
	pricesByProd map[string][]domain.Price
	stocks       map[stockKey]domain.Stock
	stockUpdates []domain.StockUpdate
	salesByKey   map[saleKey]domain.Sale
	actionLogs   []domain.ActionLog
}

func New() *Store {
	return &Store{
		orgsByID:     make(map[string]domain.Organization),
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
		brandsByID:   make(map[string]domain.Brand),
		catsByID:     make(map[string]domain.Category),
		volsByID:     make(map[string]domain.Volume),
		productsByID: make(map[string]domain.Product),
		pricesByProd: make(map[string][]domain.Price),
		stocks:       make(map[stockKey]domain.Stock),
		stockUpdates: make([]domain.StockUpdate, 0, 128),
		salesByKey:   make(map[saleKey]domain.Sale),
		actionLogs:   make([]domain.ActionLog, 0, 128),
	}
}

// NewSeeded builds a store pre-populated with a demo organization, an
// admin account, and a small bar catalog for dev mode. The admin
// password comes from SEED_ADMIN_PASSWORD; a hardcoded dev default is
// used with a warning when unset. Dev credentials never reach
// production (the backend uses PostgreSQL when DATABASE_URL is set).
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	org := domain.Organization{ID: xid.New("org"), Name: "Demo Bar", CreatedAt: now}
	s.orgsByID[org.ID] = org

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	admin := domain.User{
		ID:           xid.New("usr"),
		Name:         "Demo Admin",
		Email:        "admin@demo.bar",
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		OrgID:        org.ID,
		CreatedAt:    now,
	}
	s.usersByID[admin.ID] = admin
	s.usersByEmail[admin.Email] = admin.ID

	type seedRow struct {
		name     string
		brand    string
		category string
		ml       int
		price    string
		stock    int
	}
	rows := []seedRow{
		{"Jameson", "Jameson", "Whiskey", 750, "32.99", 24},
		{"Jameson", "Jameson", "Whiskey", 1000, "41.50", 12},
		{"Tito's Handmade", "Tito's", "Vodka", 750, "24.99", 36},
		{"Bombay Sapphire", "Bombay", "Gin", 750, "27.50", 18},
		{"Bacardi Superior", "Bacardi", "Rum", 1000, "22.00", 30},
		{"Corona Extra", "Corona", "Beer", 355, "2.50", 120},
		{"Guinness Draught", "Guinness", "Beer", 440, "3.25", 96},
		{"Campo Viejo Rioja", "Campo Viejo", "Wine", 750, "13.75", 40},
	}
	for _, row := range rows {
		brand := s.getOrCreateBrandLocked(row.brand)
		category := s.getOrCreateCategoryLocked(row.category)
		volume := s.getOrCreateVolumeLocked(row.ml)

		product := domain.Product{
			ID:         xid.New("prod"),
			Name:       row.name,
			BrandID:    brand.ID,
			CategoryID: category.ID,
			VolumeID:   volume.ID,
			OrgID:      org.ID,
		}
		s.productsByID[product.ID] = product

		amount, err := decimal.NewFromString(row.price)
		if err != nil {
			log.Fatalf("[memory-store] bad seed price %q: %v", row.price, err)
		}
		s.pricesByProd[product.ID] = []domain.Price{{
			ID:          xid.New("price"),
			ProductID:   product.ID,
			Amount:      amount,
			EffectiveAt: now,
			UpdatedBy:   admin.ID,
		}}
		s.stocks[stockKey{orgID: org.ID, productID: product.ID}] = domain.Stock{
			ProductID:     product.ID,
			OrgID:         org.ID,
			Quantity:      row.stock,
			LastUpdated:   now,
			LastUpdatedBy: admin.ID,
		}
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateOrganization(_ context.Context, org domain.Organization) (*domain.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if org.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if org.ID == "" {
		org.ID = xid.New("org")
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	for _, existing := range s.orgsByID {
		if strings.EqualFold(existing.Name, org.Name) {
			return nil, store.ErrDuplicate
		}
	}

	s.orgsByID[org.ID] = org
	created := org
	return &created, nil
}

func (s *Store) RegisterOrganization(_ context.Context, org domain.Organization, user domain.User) (*domain.Organization, *domain.User, error) {
	if org.Name == "" || user.Email == "" || user.PasswordHash == "" {
		return nil, nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Both duplicate checks run before either write so a rejected
	// registration leaves no organization behind.
	for _, existing := range s.orgsByID {
		if strings.EqualFold(existing.Name, org.Name) {
			return nil, nil, store.ErrDuplicate
		}
	}
	user.Email = strings.ToLower(user.Email)
	if _, exists := s.usersByEmail[user.Email]; exists {
		return nil, nil, store.ErrDuplicate
	}

	now := time.Now().UTC()
	if org.ID == "" {
		org.ID = xid.New("org")
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.OrgID = org.ID

	s.orgsByID[org.ID] = org
	s.usersByID[user.ID] = user
	s.usersByEmail[user.Email] = user.ID

	createdOrg, createdUser := org, user
	return &createdOrg, &createdUser, nil
}

func (s *Store) GetOrganization(_ context.Context, id string) (*domain.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.orgsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyOrg := org
	return &copyOrg, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Email == "" || user.PasswordHash == "" || user.OrgID == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.usersByEmail[strings.ToLower(user.Email)]; exists {
		return nil, store.ErrDuplicate
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = strings.ToLower(user.Email)

	s.usersByID[user.ID] = user
	s.usersByEmail[user.Email] = user.ID
	created := user
	return &created, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.usersByEmail[strings.ToLower(email)]
	if !exists {
		return nil, store.ErrNotFound
	}
	user := s.usersByID[id]
	copyUser := user
	return &copyUser, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context, orgID string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		if u.OrgID != orgID {
			continue
		}
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.usersByID[user.ID]
	if !exists {
		return store.ErrNotFound
	}
	if !strings.EqualFold(existing.Email, user.Email) {
		delete(s.usersByEmail, existing.Email)
		user.Email = strings.ToLower(user.Email)
		s.usersByEmail[user.Email] = user.ID
	}
	user.CreatedAt = existing.CreatedAt
	s.usersByID[user.ID] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, orgID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.usersByID[userID]
	if !exists || existing.OrgID != orgID {
		return store.ErrNotFound
	}
	delete(s.usersByEmail, existing.Email)
	delete(s.usersByID, userID)
	return nil
}

func (s *Store) getOrCreateBrandLocked(name string) domain.Brand {
	for _, b := range s.brandsByID {
		if strings.EqualFold(b.Name, name) {
			return b
		}
	}
	brand := domain.Brand{ID: xid.New("brand"), Name: name}
	s.brandsByID[brand.ID] = brand
	return brand
}

func (s *Store) getOrCreateCategoryLocked(name string) domain.Category {
	for _, c := range s.catsByID {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	category := domain.Category{ID: xid.New("cat"), Name: name}
	s.catsByID[category.ID] = category
	return category
}

func (s *Store) getOrCreateVolumeLocked(ml int) domain.Volume {
	for _, v := range s.volsByID {
		if v.ML == ml {
			return v
		}
	}
	volume := domain.Volume{ID: xid.New("vol"), ML: ml}
	s.volsByID[volume.ID] = volume
	return volume
}

func (s *Store) GetOrCreateBrand(_ context.Context, name string) (*domain.Brand, error) {
	if name == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	brand := s.getOrCreateBrandLocked(name)
	return &brand, nil
}

func (s *Store) GetOrCreateCategory(_ context.Context, name string) (*domain.Category, error) {
	if name == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	category := s.getOrCreateCategoryLocked(name)
	return &category, nil
}

func (s *Store) GetOrCreateVolume(_ context.Context, ml int) (*domain.Volume, error) {
	if ml < 1 {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	volume := s.getOrCreateVolumeLocked(ml)
	return &volume, nil
}

func (s *Store) ListBrands(_ context.Context) ([]domain.Brand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	brands := make([]domain.Brand, 0, len(s.brandsByID))
	for _, b := range s.brandsByID {
		brands = append(brands, b)
	}
	slices.SortFunc(brands, func(a, b domain.Brand) int {
		return cmpString(a.Name, b.Name)
	})
	return brands, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.catsByID))
	for _, c := range s.catsByID {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) ListVolumes(_ context.Context) ([]domain.Volume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	volumes := make([]domain.Volume, 0, len(s.volsByID))
	for _, v := range s.volsByID {
		volumes = append(volumes, v)
	}
	slices.SortFunc(volumes, func(a, b domain.Volume) int {
		return a.ML - b.ML
	})
	return volumes, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.BrandID == "" || product.CategoryID == "" || product.VolumeID == "" || product.OrgID == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.productsByID {
		if existing.OrgID == product.OrgID &&
			strings.EqualFold(existing.Name, product.Name) &&
			existing.BrandID == product.BrandID &&
			existing.CategoryID == product.CategoryID &&
			existing.VolumeID == product.VolumeID {
			return nil, store.ErrDuplicate
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, orgID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[id]
	if !exists || product.OrgID != orgID {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) FindProduct(_ context.Context, orgID, name, brandID, categoryID, volumeID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.productsByID {
		if p.OrgID == orgID &&
			strings.EqualFold(p.Name, name) &&
			p.BrandID == brandID &&
			p.CategoryID == categoryID &&
			p.VolumeID == volumeID {
			copyProduct := p
			return &copyProduct, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.BrandID == "" || product.CategoryID == "" || product.VolumeID == "" {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.productsByID[product.ID]
	if !exists || existing.OrgID != product.OrgID {
		return nil, store.ErrNotFound
	}
	for _, other := range s.productsByID {
		if other.ID == product.ID {
			continue
		}
		if other.OrgID == product.OrgID &&
			strings.EqualFold(other.Name, product.Name) &&
			other.BrandID == product.BrandID &&
			other.CategoryID == product.CategoryID &&
			other.VolumeID == product.VolumeID {
			return nil, store.ErrDuplicate
		}
	}

	s.productsByID[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, orgID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[id]
	if !exists || product.OrgID != orgID {
		return store.ErrNotFound
	}
	delete(s.productsByID, id)
	delete(s.pricesByProd, id)
	delete(s.stocks, stockKey{orgID: orgID, productID: id})
	// Sales and audit rows cascade with the product, matching the
	// foreign keys in the postgres schema.
	for key := range s.salesByKey {
		if key.productID == id {
			delete(s.salesByKey, key)
		}
	}
	kept := s.stockUpdates[:0]
	for _, u := range s.stockUpdates {
		if u.ProductID != id {
			kept = append(kept, u)
		}
	}
	s.stockUpdates = kept
	return nil
}

func (s *Store) ListInventory(_ context.Context, orgID string, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if p.OrgID != orgID {
			continue
		}
		if filter.BrandID != "" && p.BrandID != filter.BrandID {
			continue
		}
		if filter.CategoryID != "" && p.CategoryID != filter.CategoryID {
			continue
		}
		brand := s.brandsByID[p.BrandID]
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(p.Name), needle) &&
				!strings.Contains(strings.ToLower(brand.Name), needle) {
				continue
			}
		}

		item := domain.InventoryItem{
			Product:  p,
			Brand:    brand.Name,
			Category: s.catsByID[p.CategoryID].Name,
			VolumeML: s.volsByID[p.VolumeID].ML,
			Price:    s.currentPriceLocked(p.ID),
		}
		if stock, ok := s.stocks[stockKey{orgID: orgID, productID: p.ID}]; ok {
			item.Quantity = stock.Quantity
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		if a.Brand != b.Brand {
			return cmpString(a.Brand, b.Brand)
		}
		if a.Product.Name != b.Product.Name {
			return cmpString(a.Product.Name, b.Product.Name)
		}
		return a.VolumeML - b.VolumeML
	})
	return items, nil
}

func (s *Store) currentPriceLocked(productID string) decimal.Decimal {
	prices := s.pricesByProd[productID]
	if len(prices) == 0 {
		return decimal.Zero
	}
	latest := prices[0]
	for _, p := range prices[1:] {
		if p.EffectiveAt.After(latest.EffectiveAt) {
			latest = p
		}
	}
	return latest.Amount
}

func (s *Store) SetPrice(_ context.Context, productID string, amount decimal.Decimal, updatedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if productID == "" || amount.IsNegative() {
		return store.ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	prices := s.pricesByProd[productID]
	if len(prices) == 0 {
		s.pricesByProd[productID] = []domain.Price{{
			ID:          xid.New("price"),
			ProductID:   productID,
			Amount:      amount,
			EffectiveAt: at,
			UpdatedBy:   updatedBy,
		}}
		return nil
	}

	latest := 0
	for i := range prices {
		if prices[i].EffectiveAt.After(prices[latest].EffectiveAt) {
			latest = i
		}
	}
	prices[latest].Amount = amount
	prices[latest].EffectiveAt = at
	prices[latest].UpdatedBy = updatedBy
	return nil
}

func (s *Store) GetCurrentPrice(_ context.Context, productID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.currentPriceLocked(productID), nil
}

func (s *Store) GetStock(_ context.Context, orgID string, productID string) (*domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock, exists := s.stocks[stockKey{orgID: orgID, productID: productID}]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyStock := stock
	return &copyStock, nil
}

func (s *Store) ListStockUpdates(_ context.Context, orgID string, productID string, limit int) ([]domain.StockUpdate, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists || product.OrgID != orgID {
		return []domain.StockUpdate{}, nil
	}

	updates := make([]domain.StockUpdate, 0, limit)
	for _, u := range s.stockUpdates {
		if u.ProductID == productID {
			updates = append(updates, u)
		}
	}
	slices.SortFunc(updates, func(a, b domain.StockUpdate) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if len(updates) > limit {
		updates = updates[:limit]
	}
	return updates, nil
}

// ApplySales mirrors the transactional reconciliation the postgres
// store performs: per-line delta against any existing sale row for the
// same date, rejection when the delta exceeds on-hand stock, silent
// skip of products the organization does not own.
func (s *Store) ApplySales(_ context.Context, batch domain.SaleBatch) (*domain.SaleBatchResult, error) {
	if batch.OrgID == "" || batch.ActorID == "" || batch.SaleDate.IsZero() {
		return nil, store.ErrInvalidInput
	}
	saleDate := dateUTC(batch.SaleDate)
	dateStr := saleDate.Format(domain.DateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &domain.SaleBatchResult{
		Applied:  make([]string, 0, len(batch.Lines)),
		Rejected: make([]domain.SaleRejection, 0),
	}
	seen := make(map[string]struct{}, len(batch.Lines))
	now := time.Now().UTC()

	for _, line := range batch.Lines {
		if line.ProductID == "" {
			continue
		}
		if _, dup := seen[line.ProductID]; dup {
			continue
		}
		seen[line.ProductID] = struct{}{}

		product, exists := s.productsByID[line.ProductID]
		if !exists || product.OrgID != batch.OrgID {
			continue
		}
		if line.Quantity < 0 {
			continue
		}

		sk := saleKey{orgID: batch.OrgID, productID: line.ProductID, date: dateStr}
		prevSold := 0
		existingSale, hasSale := s.salesByKey[sk]
		if hasSale {
			prevSold = existingSale.QuantitySold
		}
		delta := line.Quantity - prevSold

		stk := stockKey{orgID: batch.OrgID, productID: line.ProductID}
		available := 0
		if stock, ok := s.stocks[stk]; ok {
			available = stock.Quantity
		}
		if delta > available {
			result.Rejected = append(result.Rejected, domain.SaleRejection{
				ProductID: line.ProductID,
				Reason:    fmt.Sprintf("insufficient stock, available=%d, requested_delta=%d", available, delta),
			})
			continue
		}

		price := s.currentPriceLocked(line.ProductID)
		total := price.Mul(decimal.NewFromInt(int64(line.Quantity)))

		if hasSale {
			existingSale.QuantitySold = line.Quantity
			existingSale.TotalPrice = total
			existingSale.SoldBy = batch.ActorID
			s.salesByKey[sk] = existingSale
		} else {
			s.salesByKey[sk] = domain.Sale{
				ID:           xid.New("sale"),
				ProductID:    line.ProductID,
				OrgID:        batch.OrgID,
				SaleDate:     saleDate,
				QuantitySold: line.Quantity,
				TotalPrice:   total,
				SoldBy:       batch.ActorID,
			}
		}

		// delta <= available was checked above, so newQty >= 0; a
		// negative delta only raises the quantity.
		newQty := available - delta
		s.stocks[stk] = domain.Stock{
			ProductID:     line.ProductID,
			OrgID:         batch.OrgID,
			Quantity:      newQty,
			LastUpdated:   now,
			LastUpdatedBy: batch.ActorID,
		}
		s.stockUpdates = append(s.stockUpdates, domain.StockUpdate{
			ID:               xid.New("stk"),
			ProductID:        line.ProductID,
			PreviousQuantity: available,
			NewQuantity:      newQty,
			UpdatedAt:        now,
			UpdatedBy:        batch.ActorID,
		})

		result.Applied = append(result.Applied, line.ProductID)
	}

	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, orgID string, actorID string, changes []domain.StockChange, at time.Time) (int, error) {
	if orgID == "" || actorID == "" {
		return 0, store.ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, change := range changes {
		product, exists := s.productsByID[change.ProductID]
		if !exists || product.OrgID != orgID {
			continue
		}
		if change.Quantity < 0 {
			continue
		}

		stk := stockKey{orgID: orgID, productID: change.ProductID}
		prev := 0
		if stock, ok := s.stocks[stk]; ok {
			if stock.Quantity == change.Quantity {
				continue
			}
			prev = stock.Quantity
		}

		s.stocks[stk] = domain.Stock{
			ProductID:     change.ProductID,
			OrgID:         orgID,
			Quantity:      change.Quantity,
			LastUpdated:   at,
			LastUpdatedBy: actorID,
		}
		s.stockUpdates = append(s.stockUpdates, domain.StockUpdate{
			ID:               xid.New("stk"),
			ProductID:        change.ProductID,
			PreviousQuantity: prev,
			NewQuantity:      change.Quantity,
			UpdatedAt:        at,
			UpdatedBy:        actorID,
		})
		applied++
	}

	return applied, nil
}

func (s *Store) ListSales(_ context.Context, orgID string, date time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dateStr := dateUTC(date).Format(domain.DateLayout)
	sales := make([]domain.Sale, 0, 32)
	for key, sale := range s.salesByKey {
		if key.orgID == orgID && key.date == dateStr {
			sales = append(sales, sale)
		}
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return cmpString(a.ProductID, b.ProductID)
	})
	return sales, nil
}

func (s *Store) SalesReport(_ context.Context, orgID string, date time.Time) ([]domain.SalesReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := dateUTC(date)
	dateStr := day.Format(domain.DateLayout)

	report := make([]domain.SalesReportRow, 0, 32)
	for key, sale := range s.salesByKey {
		if key.orgID != orgID || key.date != dateStr {
			continue
		}
		product := s.productsByID[sale.ProductID]

		row := domain.SalesReportRow{
			ProductName:  product.Name,
			Category:     s.catsByID[product.CategoryID].Name,
			VolumeML:     s.volsByID[product.VolumeID].ML,
			QuantitySold: sale.QuantitySold,
			TotalPrice:   sale.TotalPrice,
		}

		prev, found := 0, false
		var prevAt time.Time
		for _, u := range s.stockUpdates {
			if u.ProductID != sale.ProductID || !u.UpdatedAt.Before(day) {
				continue
			}
			if !found || u.UpdatedAt.After(prevAt) {
				prev, prevAt, found = u.NewQuantity, u.UpdatedAt, true
			}
		}
		if found {
			row.PrevStock = prev
		} else {
			row.PrevStock = sale.QuantitySold
		}
		row.PresentStock = row.PrevStock - row.QuantitySold

		report = append(report, row)
	}

	slices.SortFunc(report, func(a, b domain.SalesReportRow) int {
		if a.ProductName != b.ProductName {
			return cmpString(a.ProductName, b.ProductName)
		}
		return a.VolumeML - b.VolumeML
	})
	return report, nil
}

func (s *Store) CreateActionLog(_ context.Context, entry domain.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("act")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.actionLogs = append(s.actionLogs, entry)
	return nil
}

func (s *Store) ListActionLogs(_ context.Context, limit int) ([]domain.ActionLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.ActionLog, 0, limit)
	for i := len(s.actionLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		logs = append(logs, s.actionLogs[i])
	}
	return logs, nil
}

func cmpString(a, b string) int {
	return strings.Compare(a, b)
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}
