package stocktake

type CreateSheetRequest struct {
	Note      *string  `json:"note,omitempty"`
	ItemCodes []string `json:"item_codes" validate:"required,min=1,dive,required,max=50"`
}

type RecordCountRequest struct {
	Lines []RecordCountLine `json:"lines" validate:"required,min=1,dive"`
}

type RecordCountLine struct {
	ItemCode   string  `json:"item_code" validate:"required,max=50"`
	CountedQty int64   `json:"counted_qty" validate:"gte=0"`
	Note       *string `json:"note,omitempty"`
}

type ListSheetsRequest struct {
	Status *string `json:"status,omitempty"`
	Limit  int     `json:"limit" validate:"gte=0,lte=1000"`
	Offset int     `json:"offset" validate:"gte=0"`
}
