package storage

import "errors"

// Sentinel errors for the item store.
// Use errors.Is to check: errors.Is(err, storage.ErrDuplicateKey)
var (
	ErrDuplicateKey     = errors.New("storage: item with this prompt already exists")
	ErrEmptyStore       = errors.New("storage: no items stored")
	ErrNotFound         = errors.New("storage: item not found")
	ErrStoreUnavailable = errors.New("storage: store is closed")
)
