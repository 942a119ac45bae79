package receiving

type SlipLineRequest struct {
	ItemCode  string  `json:"item_code" validate:"required,max=50"`
	Qty       int64   `json:"qty" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type CreateSlipRequest struct {
	SupplierID *int64            `json:"supplier_id,omitempty" validate:"omitempty,gt=0"`
	Note       *string           `json:"note,omitempty"`
	Lines      []SlipLineRequest `json:"lines" validate:"required,min=1,dive"`

	// IdempotencyKey comes from the Idempotency-Key header, not the body.
	IdempotencyKey string `json:"-"`
}

type UpdateSlipRequest struct {
	SupplierID *int64            `json:"supplier_id,omitempty" validate:"omitempty,gt=0"`
	Note       *string           `json:"note,omitempty"`
	Lines      []SlipLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type ListSlipsRequest struct {
	Status *string `json:"status,omitempty"`
	From   *string `json:"from,omitempty"`
	To     *string `json:"to,omitempty"`
	Limit  int     `json:"limit" validate:"gte=0,lte=1000"`
	Offset int     `json:"offset" validate:"gte=0"`
}
