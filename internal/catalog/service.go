package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/stocklane/stocklane/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates catalog operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Create registers a new product and its zero stock row.
func (s *Service) Create(ctx context.Context, req CreateProductRequest, createdBy int64) (Product, error) {
	if _, _, err := s.repo.GetByCode(ctx, req.Code); err == nil {
		return Product{}, ErrCodeTaken
	} else if !errors.Is(err, ErrNotFound) {
		return Product{}, fmt.Errorf("catalog: check existing code: %w", err)
	}

	product := Product{
		Code:      req.Code,
		Name:      req.Name,
		Unit:      req.Unit,
		SalePrice: req.SalePrice,
		Barcode:   req.Barcode,
		IsActive:  true,
		CreatedBy: createdBy,
	}
	id, err := s.repo.Create(ctx, product)
	if err != nil {
		return Product{}, err
	}
	product.ID = id

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  createdBy,
			Action:   "catalog:create",
			Entity:   "product",
			EntityID: product.Code,
			After:    map[string]any{"name": product.Name, "unit": product.Unit, "sale_price": product.SalePrice},
		})
	}
	return product, nil
}

// Update applies a partial update; deactivation is the soft delete used
// for products going out of business.
func (s *Service) Update(ctx context.Context, id int64, req UpdateProductRequest, actorID int64) (Product, error) {
	existing, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}

	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Unit != nil {
		updates["unit"] = *req.Unit
	}
	if req.SalePrice != nil {
		updates["sale_price"] = *req.SalePrice
	}
	if req.Barcode != nil {
		updates["barcode"] = *req.Barcode
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		return existing, nil
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return Product{}, err
	}

	updated, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "catalog:update",
			Entity:   "product",
			EntityID: existing.Code,
			Before:   map[string]any{"name": existing.Name, "is_active": existing.IsActive, "sale_price": existing.SalePrice},
			After:    map[string]any{"name": updated.Name, "is_active": updated.IsActive, "sale_price": updated.SalePrice},
		})
	}
	return updated, nil
}

// Deactivate soft-deletes a product.
func (s *Service) Deactivate(ctx context.Context, id int64, actorID int64) (Product, error) {
	inactive := false
	return s.Update(ctx, id, UpdateProductRequest{IsActive: &inactive}, actorID)
}

// Get loads one product with its stock quantity.
func (s *Service) Get(ctx context.Context, id int64) (Product, int64, error) {
	return s.repo.Get(ctx, id)
}

// GetByCode loads one product by code.
func (s *Service) GetByCode(ctx context.Context, code string) (Product, int64, error) {
	return s.repo.GetByCode(ctx, code)
}

// List returns products and their stock quantities.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, map[string]int64, error) {
	return s.repo.List(ctx, filter)
}
