package customers

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

func (s *Service) Create(ctx context.Context, req CreateCustomerRequest, createdBy int64) (Customer, error) {
	if _, err := s.repo.GetByCode(ctx, req.Code); err == nil {
		return Customer{}, ErrCodeTaken
	} else if !errors.Is(err, ErrNotFound) {
		return Customer{}, fmt.Errorf("customers: check existing code: %w", err)
	}

	c := Customer{
		Code:      req.Code,
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		Address:   req.Address,
		TaxID:     req.TaxID,
		Notes:     req.Notes,
		IsActive:  true,
		CreatedBy: createdBy,
	}
	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return Customer{}, err
	}
	c.ID = id

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  createdBy,
			Action:   "customers:create",
			Entity:   "customer",
			EntityID: c.Code,
			After:    map[string]any{"name": c.Name},
		})
	}
	return c, nil
}

func (s *Service) Update(ctx context.Context, id int64, req UpdateCustomerRequest, actorID int64) (Customer, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Customer{}, err
	}

	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
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
		return Customer{}, err
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return Customer{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "customers:update",
			Entity:   "customer",
			EntityID: existing.Code,
			Before:   map[string]any{"name": existing.Name, "is_active": existing.IsActive},
			After:    map[string]any{"name": updated.Name, "is_active": updated.IsActive},
		})
	}
	return updated, nil
}

// Deactivate soft-deletes a customer; export slips keep referencing it.
func (s *Service) Deactivate(ctx context.Context, id int64, actorID int64) (Customer, error) {
	inactive := false
	return s.Update(ctx, id, UpdateCustomerRequest{IsActive: &inactive}, actorID)
}

func (s *Service) Get(ctx context.Context, id int64) (Customer, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error) {
	return s.repo.List(ctx, req)
}
