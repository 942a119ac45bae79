package suppliers

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

type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) Create(ctx context.Context, req CreateSupplierRequest, createdBy int64) (Supplier, error) {
	if _, err := s.repo.GetByCode(ctx, req.Code); err == nil {
		return Supplier{}, ErrCodeTaken
	} else if !errors.Is(err, ErrNotFound) {
		return Supplier{}, fmt.Errorf("suppliers: check existing code: %w", err)
	}

	sup := Supplier{
		Code:          req.Code,
		Name:          req.Name,
		ContactPerson: req.ContactPerson,
		Phone:         req.Phone,
		Email:         req.Email,
		Address:       req.Address,
		TaxID:         req.TaxID,
		Notes:         req.Notes,
		IsActive:      true,
		CreatedBy:     createdBy,
	}
	id, err := s.repo.Create(ctx, sup)
	if err != nil {
		return Supplier{}, err
	}
	sup.ID = id

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  createdBy,
			Action:   "suppliers:create",
			Entity:   "supplier",
			EntityID: sup.Code,
			After:    map[string]any{"name": sup.Name},
		})
	}
	return sup, nil
}

func (s *Service) Update(ctx context.Context, id int64, req UpdateSupplierRequest, actorID int64) (Supplier, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Supplier{}, err
	}

	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.ContactPerson != nil {
		updates["contact_person"] = *req.ContactPerson
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.Address != nil {
		updates["address"] = *req.Address
	}
	if req.TaxID != nil {
		updates["tax_id"] = *req.TaxID
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		return existing, nil
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return Supplier{}, err
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "suppliers:update",
			Entity:   "supplier",
			EntityID: existing.Code,
			Before:   map[string]any{"name": existing.Name, "is_active": existing.IsActive},
			After:    map[string]any{"name": updated.Name, "is_active": updated.IsActive},
		})
	}
	return updated, nil
}

// Deactivate soft-deletes a supplier; import slips keep referencing it.
func (s *Service) Deactivate(ctx context.Context, id int64, actorID int64) (Supplier, error) {
	inactive := false
	return s.Update(ctx, id, UpdateSupplierRequest{IsActive: &inactive}, actorID)
}

func (s *Service) Get(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListSuppliersRequest) ([]Supplier, int, error) {
	return s.repo.List(ctx, req)
}
