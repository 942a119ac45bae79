package catalog

// CreateProductRequest is the payload for product creation.
type CreateProductRequest struct {
	Code      string  `json:"code" validate:"required,max=50"`
	Name      string  `json:"name" validate:"required,max=200"`
	Unit      string  `json:"unit" validate:"required,max=20"`
	SalePrice float64 `json:"sale_price" validate:"gte=0"`
	Barcode   string  `json:"barcode,omitempty" validate:"omitempty,max=64"`
}

// UpdateProductRequest carries partial product updates.
type UpdateProductRequest struct {
	Name      *string  `json:"name,omitempty" validate:"omitempty,max=200"`
	Unit      *string  `json:"unit,omitempty" validate:"omitempty,max=20"`
	SalePrice *float64 `json:"sale_price,omitempty" validate:"omitempty,gte=0"`
	Barcode   *string  `json:"barcode,omitempty" validate:"omitempty,max=64"`
	IsActive  *bool    `json:"is_active,omitempty"`
}

// ProductResponse is the wire shape of a product.
type ProductResponse struct {
	ID        int64   `json:"id"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit"`
	SalePrice float64 `json:"sale_price"`
	Barcode   string  `json:"barcode,omitempty"`
	IsActive  bool    `json:"is_active"`
	QtyOnHand int64   `json:"qty_on_hand"`
}
