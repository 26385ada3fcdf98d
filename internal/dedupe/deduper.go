package dedupe

import "context"

// Deduper answers whether a settlement id (normalized tx hash) was already
// processed. It is the fast-path guard; the transactions table's unique index
// is the hard constraint behind it.
type Deduper interface {
	// alreadySeen=true -> duplicate, the settlement can be skipped
	Seen(ctx context.Context, id string) (alreadySeen bool, err error)
}
