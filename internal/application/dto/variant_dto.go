package dto

import "time"

// CreateVariantRequest entrada para crear una variante. Price en unidades menores.
type CreateVariantRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Price     int64  `json:"price" validate:"min=0"`
	Stock     int64  `json:"stock" validate:"min=0"`
}

// UpdateVariantRequest actualización parcial de precio y/o stock (ajuste administrativo).
type UpdateVariantRequest struct {
	Price *int64 `json:"price"`
	Stock *int64 `json:"stock"`
}

// VariantResponse salida de una variante.
type VariantResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	Price     int64     `json:"price"`
	Stock     int64     `json:"stock"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VariantListResponse lista paginada de variantes de un producto.
type VariantListResponse struct {
	Items []VariantResponse `json:"items"`
	Page  PageResponse      `json:"page"`
}
