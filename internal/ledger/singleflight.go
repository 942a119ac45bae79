package ledger

import (
	"context"

	"golang.org/x/sync/singleflight"
)

var stockReadGroup singleflight.Group

// singleflightStock collapses concurrent reads of the same item into one
// repository query. Hot items get hammered by the document registries
// during validation, so duplicate in-flight lookups are common.
func singleflightStock(ctx context.Context, key string, fn func(context.Context) (StockItem, error)) (StockItem, error, bool) {
	resultChan := stockReadGroup.DoChan(key, func() (interface{}, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return StockItem{}, ctx.Err(), false
	case res := <-resultChan:
		item, _ := res.Val.(StockItem)
		return item, res.Err, res.Shared
	}
}
