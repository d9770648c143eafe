package storage

import (
	"sort"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
)

// SortObjects orders objects by creation time, then id. Backends use it so
// list results are stable.
func SortObjects(objs []ledger.Object) {
	sort.Slice(objs, func(i, j int) bool {
		if objs[i].CreatedAt.Equal(objs[j].CreatedAt) {
			return objs[i].ID < objs[j].ID
		}
		return objs[i].CreatedAt.Before(objs[j].CreatedAt)
	})
}
