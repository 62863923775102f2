// Package workers contains the background processes which drain the
// database backed queues.
package workers

import (
	"context"

	"gorm.io/gorm"
)

// process makes one pass through the objects matching the scope, calling fn
// for each one. fn is responsible for removing the object from the queue.
// The pass stops early if ctx is done or fn returns an error.
func process[T any](ctx context.Context, db *gorm.DB, scope func(*gorm.DB) *gorm.DB, fn func(context.Context, *T) error) error {
	var requests []T
	return db.Scopes(scope).FindInBatches(&requests, 100, func(db *gorm.DB, batch int) error {
		return forEach(requests, func(request *T) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, request)
		})
	}).Error
}

func forEach[T any](a []T, fn func(*T) error) error {
	for i := range a {
		if err := fn(&a[i]); err != nil {
			return err
		}
	}
	return nil
}
