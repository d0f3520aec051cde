package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"barstock/backend/internal/domain"
	"barstock/backend/internal/store"
	"barstock/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateOrganization(ctx context.Context, org domain.Organization) (*domain.Organization, error) {
	if org.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if org.ID == "" {
		org.ID = xid.New("org")
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at)
		VALUES ($1,$2,$3)
	`, org.ID, org.Name, org.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := org
	return &created, nil
}

func (s *Store) RegisterOrganization(ctx context.Context, org domain.Organization, user domain.User) (*domain.Organization, *domain.User, error) {
	if org.Name == "" || user.Email == "" || user.PasswordHash == "" {
		return nil, nil, store.ErrInvalidInput
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at)
		VALUES ($1,$2,$3)
	`, org.ID, org.Name, org.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, store.ErrDuplicate
		}
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (
			id, name, email, password_hash, role, org_id,
			needs_password_change, failed_login_attempts, locked_until, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.OrgID,
		user.NeedsPasswordChange, user.FailedLoginAttempts, nullTime(user.LockedUntil), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, store.ErrDuplicate
		}
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	createdOrg, createdUser := org, user
	return &createdOrg, &createdUser, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	var org domain.Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at
		FROM organizations
		WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	org.CreatedAt = org.CreatedAt.UTC()
	return &org, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	if user.Email == "" || user.PasswordHash == "" || user.OrgID == "" {
		return nil, store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, name, email, password_hash, role, org_id,
			needs_password_change, failed_login_attempts, locked_until, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.OrgID,
		user.NeedsPasswordChange, user.FailedLoginAttempts, nullTime(user.LockedUntil), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := user
	return &created, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *Store) getUser(ctx context.Context, column string, value string) (*domain.User, error) {
	var user domain.User
	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, name, email, password_hash, role, org_id,
			needs_password_change, failed_login_attempts, locked_until, created_at
		FROM users
		WHERE %s = $1
	`, column), value).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role,
		&user.OrgID, &user.NeedsPasswordChange, &user.FailedLoginAttempts, &lockedUntil, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time.UTC()
		user.LockedUntil = &t
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context, orgID string) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, role, org_id, needs_password_change, created_at
		FROM users
		WHERE org_id = $1
		ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.OrgID, &u.NeedsPasswordChange, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name = $2, email = $3, password_hash = $4, role = $5,
			needs_password_change = $6, failed_login_attempts = $7, locked_until = $8
		WHERE id = $1
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role,
		user.NeedsPasswordChange, user.FailedLoginAttempts, nullTime(user.LockedUntil))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, orgID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM users
		WHERE id = $1 AND org_id = $2
	`, userID, orgID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetOrCreateBrand(ctx context.Context, name string) (*domain.Brand, error) {
	if name == "" {
		return nil, store.ErrInvalidInput
	}
	var brand domain.Brand
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO brands (id, name)
		VALUES ($1,$2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`, xid.New("brand"), name).Scan(&brand.ID, &brand.Name)
	if err != nil {
		return nil, err
	}
	return &brand, nil
}

func (s *Store) GetOrCreateCategory(ctx context.Context, name string) (*domain.Category, error) {
	if name == "" {
		return nil, store.ErrInvalidInput
	}
	var category domain.Category
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (id, name)
		VALUES ($1,$2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`, xid.New("cat"), name).Scan(&category.ID, &category.Name)
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func (s *Store) GetOrCreateVolume(ctx context.Context, ml int) (*domain.Volume, error) {
	if ml < 1 {
		return nil, store.ErrInvalidInput
	}
	var volume domain.Volume
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO volumes (id, ml)
		VALUES ($1,$2)
		ON CONFLICT (ml) DO UPDATE SET ml = EXCLUDED.ml
		RETURNING id, ml
	`, xid.New("vol"), ml).Scan(&volume.ID, &volume.ML)
	if err != nil {
		return nil, err
	}
	return &volume, nil
}

func (s *Store) ListBrands(ctx context.Context) ([]domain.Brand, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM brands ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	brands := make([]domain.Brand, 0, 32)
	for rows.Next() {
		var b domain.Brand
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, err
		}
		brands = append(brands, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return brands, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) ListVolumes(ctx context.Context) ([]domain.Volume, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ml FROM volumes ORDER BY ml`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	volumes := make([]domain.Volume, 0, 16)
	for rows.Next() {
		var v domain.Volume
		if err := rows.Scan(&v.ID, &v.ML); err != nil {
			return nil, err
		}
		volumes = append(volumes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return volumes, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.BrandID == "" || product.CategoryID == "" || product.VolumeID == "" || product.OrgID == "" {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, brand_id, category_id, volume_id, org_id)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, product.ID, product.Name, product.BrandID, product.CategoryID, product.VolumeID, product.OrgID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, orgID string, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, brand_id, category_id, volume_id, org_id
		FROM products
		WHERE id = $1 AND org_id = $2
	`, id, orgID).Scan(&p.ID, &p.Name, &p.BrandID, &p.CategoryID, &p.VolumeID, &p.OrgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) FindProduct(ctx context.Context, orgID, name, brandID, categoryID, volumeID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, brand_id, category_id, volume_id, org_id
		FROM products
		WHERE org_id = $1 AND lower(name) = lower($2) AND brand_id = $3 AND category_id = $4 AND volume_id = $5
	`, orgID, name, brandID, categoryID, volumeID).Scan(&p.ID, &p.Name, &p.BrandID, &p.CategoryID, &p.VolumeID, &p.OrgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.BrandID == "" || product.CategoryID == "" || product.VolumeID == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $3, brand_id = $4, category_id = $5, volume_id = $6
		WHERE id = $1 AND org_id = $2
	`, product.ID, product.OrgID, product.Name, product.BrandID, product.CategoryID, product.VolumeID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, orgID string, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM products
		WHERE id = $1 AND org_id = $2
	`, id, orgID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListInventory(ctx context.Context, orgID string, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	query := `
		SELECT p.id, p.name, p.brand_id, p.category_id, p.volume_id, p.org_id,
			b.name, c.name, v.ml,
			COALESCE(s.quantity, 0),
			COALESCE((
				SELECT pr.amount FROM prices pr
				WHERE pr.product_id = p.id
				ORDER BY pr.effective_at DESC
				LIMIT 1
			), 0)
		FROM products p
		JOIN brands b ON b.id = p.brand_id
		JOIN categories c ON c.id = p.category_id
		JOIN volumes v ON v.id = p.volume_id
		LEFT JOIN stocks s ON s.product_id = p.id AND s.org_id = p.org_id
		WHERE p.org_id = $1
	`
	args := []any{orgID}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND (p.name ILIKE $%d OR b.name ILIKE $%d)", len(args), len(args))
	}
	if filter.BrandID != "" {
		args = append(args, filter.BrandID)
		query += fmt.Sprintf(" AND p.brand_id = $%d", len(args))
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		query += fmt.Sprintf(" AND p.category_id = $%d", len(args))
	}
	query += " ORDER BY b.name, p.name, v.ml"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 128)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.Product.ID, &item.Product.Name, &item.Product.BrandID,
			&item.Product.CategoryID, &item.Product.VolumeID, &item.Product.OrgID,
			&item.Brand, &item.Category, &item.VolumeML, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetPrice(ctx context.Context, productID string, amount decimal.Decimal, updatedBy string, at time.Time) error {
	if productID == "" || amount.IsNegative() {
		return store.ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var priceID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM prices
		WHERE product_id = $1
		ORDER BY effective_at DESC
		LIMIT 1
		FOR UPDATE
	`, productID).Scan(&priceID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO prices (id, product_id, amount, effective_at, updated_by)
			VALUES ($1,$2,$3,$4,$5)
		`, xid.New("price"), productID, amount, at, updatedBy)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE prices
			SET amount = $2, effective_at = $3, updated_by = $4
			WHERE id = $1
		`, priceID, amount, at, updatedBy)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetCurrentPrice(ctx context.Context, productID string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT amount FROM prices
		WHERE product_id = $1
		ORDER BY effective_at DESC
		LIMIT 1
	`, productID).Scan(&amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return amount, nil
}

func (s *Store) GetStock(ctx context.Context, orgID string, productID string) (*domain.Stock, error) {
	var st domain.Stock
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, org_id, quantity, last_updated, last_updated_by
		FROM stocks
		WHERE product_id = $1 AND org_id = $2
	`, productID, orgID).Scan(&st.ProductID, &st.OrgID, &st.Quantity, &st.LastUpdated, &st.LastUpdatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	st.LastUpdated = st.LastUpdated.UTC()
	return &st, nil
}

func (s *Store) ListStockUpdates(ctx context.Context, orgID string, productID string, limit int) ([]domain.StockUpdate, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT su.id, su.product_id, su.previous_quantity, su.new_quantity, su.updated_at, su.updated_by
		FROM stock_updates su
		JOIN products p ON p.id = su.product_id
		WHERE su.product_id = $1 AND p.org_id = $2
		ORDER BY su.updated_at DESC
		LIMIT $3
	`, productID, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updates := make([]domain.StockUpdate, 0, limit)
	for rows.Next() {
		var u domain.StockUpdate
		if err := rows.Scan(&u.ID, &u.ProductID, &u.PreviousQuantity, &u.NewQuantity, &u.UpdatedAt, &u.UpdatedBy); err != nil {
			return nil, err
		}
		u.UpdatedAt = u.UpdatedAt.UTC()
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return updates, nil
}

// ApplySales reconciles one day's requested sale quantities against
// existing sale rows and on-hand stock. Each line moves stock by the
// difference between the requested quantity and the quantity already
// recorded for that product and date; the whole batch commits or rolls
// back as one transaction.
func (s *Store) ApplySales(ctx context.Context, batch domain.SaleBatch) (*domain.SaleBatchResult, error) {
	if batch.OrgID == "" || batch.ActorID == "" {
		return nil, store.ErrInvalidInput
	}
	if batch.SaleDate.IsZero() {
		return nil, store.ErrInvalidInput
	}
	saleDate := dateUTC(batch.SaleDate)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := uniqueProductIDs(batch.Lines)
	result := &domain.SaleBatchResult{
		Applied:  make([]string, 0, len(ids)),
		Rejected: make([]domain.SaleRejection, 0),
	}
	if len(ids) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return result, nil
	}

	// Only products belonging to the batch's organization take part;
	// everything else is dropped without a rejection entry.
	known := make(map[string]struct{}, len(ids))
	productRows, err := tx.QueryContext(ctx, `
		SELECT id FROM products
		WHERE org_id = $1 AND id = ANY($2)
	`, batch.OrgID, ids)
	if err != nil {
		return nil, err
	}
	for productRows.Next() {
		var id string
		if err := productRows.Scan(&id); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		known[id] = struct{}{}
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, err
	}
	_ = productRows.Close()

	stockMap := make(map[string]int, len(ids))
	stockRows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM stocks
		WHERE org_id = $1 AND product_id = ANY($2)
		FOR UPDATE
	`, batch.OrgID, ids)
	if err != nil {
		return nil, err
	}
	for stockRows.Next() {
		var id string
		var qty int
		if err := stockRows.Scan(&id, &qty); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		stockMap[id] = qty
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	type saleState struct {
		id  string
		qty int
	}
	saleMap := make(map[string]saleState, len(ids))
	saleRows, err := tx.QueryContext(ctx, `
		SELECT id, product_id, quantity_sold
		FROM sales
		WHERE org_id = $1 AND sale_date = $2 AND product_id = ANY($3)
		FOR UPDATE
	`, batch.OrgID, saleDate, ids)
	if err != nil {
		return nil, err
	}
	for saleRows.Next() {
		var id, productID string
		var qty int
		if err := saleRows.Scan(&id, &productID, &qty); err != nil {
			_ = saleRows.Close()
			return nil, err
		}
		saleMap[productID] = saleState{id: id, qty: qty}
	}
	if err := saleRows.Err(); err != nil {
		_ = saleRows.Close()
		return nil, err
	}
	_ = saleRows.Close()

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(batch.Lines))
	for _, line := range batch.Lines {
		if _, dup := seen[line.ProductID]; dup {
			continue
		}
		seen[line.ProductID] = struct{}{}
		if _, ok := known[line.ProductID]; !ok {
			continue
		}
		if line.Quantity < 0 {
			continue
		}

		prevSold := 0
		if existing, ok := saleMap[line.ProductID]; ok {
			prevSold = existing.qty
		}
		delta := line.Quantity - prevSold
		available := stockMap[line.ProductID]
		if delta > available {
			result.Rejected = append(result.Rejected, domain.SaleRejection{
				ProductID: line.ProductID,
				Reason:    fmt.Sprintf("insufficient stock, available=%d, requested_delta=%d", available, delta),
			})
			continue
		}

		price, err := s.currentPriceTx(ctx, tx, line.ProductID)
		if err != nil {
			return nil, err
		}
		total := price.Mul(decimal.NewFromInt(int64(line.Quantity)))

		if existing, ok := saleMap[line.ProductID]; ok {
			_, err = tx.ExecContext(ctx, `
				UPDATE sales
				SET quantity_sold = $2, total_price = $3, sold_by = $4
				WHERE id = $1
			`, existing.id, line.Quantity, total, batch.ActorID)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sales (id, product_id, org_id, sale_date, quantity_sold, total_price, sold_by)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, xid.New("sale"), line.ProductID, batch.OrgID, saleDate, line.Quantity, total, batch.ActorID)
		}
		if err != nil {
			return nil, err
		}

		// delta <= available was checked above, so newQty >= 0; a
		// negative delta only raises the quantity.
		newQty := available - delta
		if err := upsertStockTx(ctx, tx, batch.OrgID, line.ProductID, newQty, batch.ActorID, now); err != nil {
			return nil, err
		}
		// The audit row is written even when the delta is zero so the
		// trail stays reconstructable from stock_updates alone.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_updates (id, product_id, previous_quantity, new_quantity, updated_at, updated_by)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, xid.New("stk"), line.ProductID, available, newQty, now, batch.ActorID)
		if err != nil {
			return nil, err
		}

		stockMap[line.ProductID] = newQty
		saleMap[line.ProductID] = saleState{id: "", qty: line.Quantity}
		result.Applied = append(result.Applied, line.ProductID)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) currentPriceTx(ctx context.Context, tx *sql.Tx, productID string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT amount FROM prices
		WHERE product_id = $1
		ORDER BY effective_at DESC
		LIMIT 1
	`, productID).Scan(&amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return amount, nil
}

func upsertStockTx(ctx context.Context, tx *sql.Tx, orgID string, productID string, qty int, actorID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stocks (product_id, org_id, quantity, last_updated, last_updated_by)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (product_id, org_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, last_updated = EXCLUDED.last_updated, last_updated_by = EXCLUDED.last_updated_by
	`, productID, orgID, qty, at, actorID)
	return err
}

// AdjustStock assigns absolute on-hand quantities. Lines whose product
// is unknown to the organization are skipped, as are lines that leave
// the quantity unchanged.
func (s *Store) AdjustStock(ctx context.Context, orgID string, actorID string, changes []domain.StockChange, at time.Time) (int, error) {
	if orgID == "" || actorID == "" {
		return 0, store.ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(changes))
	for _, change := range changes {
		if change.ProductID != "" {
			ids = append(ids, change.ProductID)
		}
	}
	if len(ids) == 0 {
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return 0, nil
	}

	known := make(map[string]struct{}, len(ids))
	productRows, err := tx.QueryContext(ctx, `
		SELECT id FROM products
		WHERE org_id = $1 AND id = ANY($2)
	`, orgID, ids)
	if err != nil {
		return 0, err
	}
	for productRows.Next() {
		var id string
		if err := productRows.Scan(&id); err != nil {
			_ = productRows.Close()
			return 0, err
		}
		known[id] = struct{}{}
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return 0, err
	}
	_ = productRows.Close()

	stockMap := make(map[string]int, len(ids))
	haveRow := make(map[string]struct{}, len(ids))
	stockRows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM stocks
		WHERE org_id = $1 AND product_id = ANY($2)
		FOR UPDATE
	`, orgID, ids)
	if err != nil {
		return 0, err
	}
	for stockRows.Next() {
		var id string
		var qty int
		if err := stockRows.Scan(&id, &qty); err != nil {
			_ = stockRows.Close()
			return 0, err
		}
		stockMap[id] = qty
		haveRow[id] = struct{}{}
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return 0, err
	}
	_ = stockRows.Close()

	applied := 0
	for _, change := range changes {
		if _, ok := known[change.ProductID]; !ok {
			continue
		}
		if change.Quantity < 0 {
			continue
		}

		prev := stockMap[change.ProductID]
		if _, exists := haveRow[change.ProductID]; exists && prev == change.Quantity {
			continue
		}

		if err := upsertStockTx(ctx, tx, orgID, change.ProductID, change.Quantity, actorID, at); err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_updates (id, product_id, previous_quantity, new_quantity, updated_at, updated_by)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, xid.New("stk"), change.ProductID, prev, change.Quantity, at, actorID)
		if err != nil {
			return 0, err
		}

		stockMap[change.ProductID] = change.Quantity
		haveRow[change.ProductID] = struct{}{}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return applied, nil
}

func (s *Store) ListSales(ctx context.Context, orgID string, date time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, org_id, sale_date, quantity_sold, total_price, sold_by
		FROM sales
		WHERE org_id = $1 AND sale_date = $2
		ORDER BY product_id
	`, orgID, dateUTC(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.ProductID, &sale.OrgID, &sale.SaleDate,
			&sale.QuantitySold, &sale.TotalPrice, &sale.SoldBy); err != nil {
			return nil, err
		}
		sale.SaleDate = sale.SaleDate.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) SalesReport(ctx context.Context, orgID string, date time.Time) ([]domain.SalesReportRow, error) {
	day := dateUTC(date)
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name, c.name, v.ml,
			sl.quantity_sold, sl.total_price,
			(
				SELECT su.new_quantity FROM stock_updates su
				WHERE su.product_id = p.id AND su.updated_at < $3
				ORDER BY su.updated_at DESC
				LIMIT 1
			)
		FROM sales sl
		JOIN products p ON p.id = sl.product_id
		JOIN categories c ON c.id = p.category_id
		JOIN volumes v ON v.id = p.volume_id
		WHERE sl.org_id = $1 AND sl.sale_date = $2
		ORDER BY p.name, v.ml
	`, orgID, day, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := make([]domain.SalesReportRow, 0, 64)
	for rows.Next() {
		var row domain.SalesReportRow
		var prev sql.NullInt64
		if err := rows.Scan(&row.ProductName, &row.Category, &row.VolumeML,
			&row.QuantitySold, &row.TotalPrice, &prev); err != nil {
			return nil, err
		}
		if prev.Valid {
			row.PrevStock = int(prev.Int64)
		} else {
			// No audit row before the report day: the best available
			// estimate of opening stock is the day's sold quantity.
			row.PrevStock = row.QuantitySold
		}
		row.PresentStock = row.PrevStock - row.QuantitySold
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Store) CreateActionLog(ctx context.Context, entry domain.ActionLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("act")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_logs (id, user_id, user_name, action, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.ID, entry.UserID, entry.UserName, entry.Action, entry.CreatedAt)
	return err
}

func (s *Store) ListActionLogs(ctx context.Context, limit int) ([]domain.ActionLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, user_name, action, created_at
		FROM action_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.ActionLog, 0, limit)
	for rows.Next() {
		var entry domain.ActionLog
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.UserName, &entry.Action, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func uniqueProductIDs(lines []domain.SaleLine) []string {
	set := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			continue
		}
		if _, ok := set[line.ProductID]; ok {
			continue
		}
		set[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
