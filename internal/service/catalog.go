package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"barstock/backend/internal/domain"
	"barstock/backend/internal/store"
)

type Catalog struct {
	Brands     []domain.Brand    `json:"brands"`
	Categories []domain.Category `json:"categories"`
	Volumes    []domain.Volume   `json:"volumes"`
}

func (s *Service) GetCatalog(ctx context.Context) (Catalog, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return Catalog{}, ErrForbidden
	}

	brands, err := s.repo.ListBrands(ctx)
	if err != nil {
		return Catalog{}, err
	}
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return Catalog{}, err
	}
	volumes, err := s.repo.ListVolumes(ctx)
	if err != nil {
		return Catalog{}, err
	}

	return Catalog{Brands: brands, Categories: categories, Volumes: volumes}, nil
}

func (s *Service) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	return s.repo.ListInventory(ctx, actor.OrgID, filter)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.NewBrand = strings.TrimSpace(req.NewBrand)
	req.NewCategory = strings.TrimSpace(req.NewCategory)
	if req.Name == "" || req.VolumeID == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.Price.IsNegative() {
		return domain.Product{}, store.ErrInvalidInput
	}

	brandID := req.BrandID
	if req.NewBrand != "" {
		brand, err := s.repo.GetOrCreateBrand(ctx, req.NewBrand)
		if err != nil {
			return domain.Product{}, err
		}
		brandID = brand.ID
	}
	categoryID := req.CategoryID
	if req.NewCategory != "" {
		category, err := s.repo.GetOrCreateCategory(ctx, req.NewCategory)
		if err != nil {
			return domain.Product{}, err
		}
		categoryID = category.ID
	}
	if brandID == "" || categoryID == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:       req.Name,
		BrandID:    brandID,
		CategoryID: categoryID,
		VolumeID:   req.VolumeID,
		OrgID:      actor.OrgID,
	})
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.repo.SetPrice(ctx, created.ID, req.Price, actor.UserID, time.Now().UTC()); err != nil {
		return domain.Product{}, err
	}
	_ = s.prices.Invalidate(ctx, created.ID)

	s.logAction(ctx, fmt.Sprintf("created product %q", created.Name))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, actor.OrgID, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.BrandID != nil {
		updated.BrandID = *req.BrandID
	}
	if req.CategoryID != nil {
		updated.CategoryID = *req.CategoryID
	}
	if req.VolumeID != nil {
		updated.VolumeID = *req.VolumeID
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, store.ErrInvalidInput
		}
		if err := s.repo.SetPrice(ctx, saved.ID, *req.Price, actor.UserID, time.Now().UTC()); err != nil {
			return domain.Product{}, err
		}
		_ = s.prices.Invalidate(ctx, saved.ID)
	}

	s.logAction(ctx, fmt.Sprintf("updated product %q", saved.Name))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}

	product, err := s.repo.GetProduct(ctx, actor.OrgID, productID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, actor.OrgID, productID); err != nil {
		return err
	}
	_ = s.prices.Invalidate(ctx, productID)

	s.logAction(ctx, fmt.Sprintf("deleted product %q", product.Name))
	return nil
}

// ImportCatalogCSV loads products from a CSV with Name, ML and
// Category columns. Brands are derived from the product name, created
// products get a 0.00 price row, and re-importing the same file is a
// no-op. Stock and sales are never touched.
func (s *Service) ImportCatalogCSV(ctx context.Context, r io.Reader) (domain.CatalogImportResult, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.CatalogImportResult{}, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return domain.CatalogImportResult{}, fmt.Errorf("%w: missing header row", store.ErrInvalidInput)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	nameIdx, okName := cols["name"]
	mlIdx, okML := cols["ml"]
	catIdx, okCat := cols["category"]
	if !okName || !okML || !okCat {
		return domain.CatalogImportResult{}, fmt.Errorf("%w: header must contain Name, ML, Category", store.ErrInvalidInput)
	}

	result := domain.CatalogImportResult{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.CatalogImportResult{}, fmt.Errorf("%w: malformed CSV: %v", store.ErrInvalidInput, err)
		}
		result.RowsSeen++

		if nameIdx >= len(record) || mlIdx >= len(record) || catIdx >= len(record) {
			continue
		}
		name := strings.TrimSpace(record[nameIdx])
		categoryName := strings.TrimSpace(record[catIdx])
		ml, convErr := strconv.Atoi(strings.TrimSpace(record[mlIdx]))
		if name == "" || categoryName == "" || convErr != nil || ml < 1 {
			continue
		}

		brand, err := s.repo.GetOrCreateBrand(ctx, name)
		if err != nil {
			return domain.CatalogImportResult{}, err
		}
		category, err := s.repo.GetOrCreateCategory(ctx, categoryName)
		if err != nil {
			return domain.CatalogImportResult{}, err
		}
		volume, err := s.repo.GetOrCreateVolume(ctx, ml)
		if err != nil {
			return domain.CatalogImportResult{}, err
		}

		if _, err := s.repo.FindProduct(ctx, actor.OrgID, name, brand.ID, category.ID, volume.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.CatalogImportResult{}, err
		}

		created, err := s.repo.CreateProduct(ctx, domain.Product{
			Name:       name,
			BrandID:    brand.ID,
			CategoryID: category.ID,
			VolumeID:   volume.ID,
			OrgID:      actor.OrgID,
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			return domain.CatalogImportResult{}, err
		}
		if err := s.repo.SetPrice(ctx, created.ID, decimal.Zero, actor.UserID, time.Now().UTC()); err != nil {
			return domain.CatalogImportResult{}, err
		}
		result.ProductsCreated++
	}

	s.logAction(ctx, fmt.Sprintf("imported catalog CSV: rows=%d created=%d", result.RowsSeen, result.ProductsCreated))
	return result, nil
}
