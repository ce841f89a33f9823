package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/catalog-api/internal/application/dto"
	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
	"github.com/jhoicas/catalog-api/internal/domain/repository"
)

// VariantUseCase casos de uso del catálogo de variantes. El stock se descuenta solo vía reservas;
// Update permite un ajuste administrativo explícito.
type VariantUseCase struct {
	repo repository.VariantRepository
}

// NewVariantUseCase construye el caso de uso.
func NewVariantUseCase(repo repository.VariantRepository) *VariantUseCase {
	return &VariantUseCase{repo: repo}
}

// Create crea una nueva variante con id generado.
func (uc *VariantUseCase) Create(ctx context.Context, in dto.CreateVariantRequest) (*dto.VariantResponse, error) {
	if in.ProductID == "" || in.Price < 0 || in.Stock < 0 {
		return nil, domain.ErrInvalidInput
	}
	now := time.Now().UTC()
	v := &entity.Variant{
		ID:        uuid.New().String(),
		ProductID: in.ProductID,
		Price:     in.Price,
		Stock:     in.Stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.repo.Create(ctx, v); err != nil {
		return nil, err
	}
	return toVariantResponse(v), nil
}

// GetByID obtiene una variante por ID; nil si no existe.
func (uc *VariantUseCase) GetByID(ctx context.Context, id string) (*dto.VariantResponse, error) {
	v, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return toVariantResponse(v), nil
}

// Update actualiza precio y/o stock; nil si la variante no existe. La escritura es atómica en el
// repositorio: un campo omitido nunca se reescribe con un valor leído antes.
func (uc *VariantUseCase) Update(ctx context.Context, id string, in dto.UpdateVariantRequest) (*dto.VariantResponse, error) {
	if (in.Price != nil && *in.Price < 0) || (in.Stock != nil && *in.Stock < 0) {
		return nil, domain.ErrInvalidInput
	}
	v, err := uc.repo.Patch(ctx, id, repository.VariantPatch{
		Price:     in.Price,
		Stock:     in.Stock,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return toVariantResponse(v), nil
}

// ListByProduct lista variantes de un producto con paginación.
func (uc *VariantUseCase) ListByProduct(ctx context.Context, productID string, page dto.PageRequest) (*dto.VariantListResponse, error) {
	page.DefaultPage()
	list, err := uc.repo.ListByProduct(ctx, productID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	items := make([]dto.VariantResponse, 0, len(list))
	for _, v := range list {
		items = append(items, *toVariantResponse(v))
	}
	return &dto.VariantListResponse{
		Items: items,
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset},
	}, nil
}

func toVariantResponse(v *entity.Variant) *dto.VariantResponse {
	if v == nil {
		return nil
	}
	return &dto.VariantResponse{
		ID:        v.ID,
		ProductID: v.ProductID,
		Price:     v.Price,
		Stock:     v.Stock,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}
