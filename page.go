package obscache

import "context"

// PageRequest selects a page of a sorted stream. Pages start at 1.
type PageRequest struct {
	Page int
	Size int
}

// valid reports whether the request is well formed. Malformed requests
// are ignored rather than failing the stream.
func (r PageRequest) valid() bool {
	return r.Page >= 1 && r.Size >= 1
}

// Page presents a paged window over a sorted changeset stream. Each
// upstream batch and each page request yields a PagedChangeSet holding
// the changes relative to the window, the window snapshot, and a
// PageResponse. Nothing is emitted until the first valid request
// arrives; invalid requests and requests identical to the current one
// are ignored. A requested page beyond the last clamps to the last page.
func Page[K comparable, V any](ctx context.Context, in <-chan SortedChangeSet[K, V], requests <-chan PageRequest) <-chan PagedChangeSet[K, V] {
	out := make(chan PagedChangeSet[K, V], cap(in))

	go func() {
		defer close(out)

		var (
			all       []KeyValue[K, V]
			window    []KeyValue[K, V]
			request   PageRequest
			requested bool
			comparer  Comparer[V]
			opt       SortOptimisation
		)

		recompute := func(upstream ChangeSet[K, V], reason SortReason) PagedChangeSet[K, V] {
			pages := 0
			if request.Size > 0 {
				pages = (len(all) + request.Size - 1) / request.Size
			}
			page := request.Page
			if pages > 0 && page > pages {
				page = pages
			}
			if pages == 0 {
				page = 1
			}

			next := clip(all, (page-1)*request.Size, request.Size)
			diff := windowDiff(window, next, upstream)
			window = next

			response := PageResponse{
				PageSize:  request.Size,
				TotalSize: len(all),
				Page:      page,
				Pages:     pages,
			}
			return PagedChangeSet[K, V]{
				Changes: diff,
				Window: KeyValueCollection[K, V]{
					Items:         next,
					Comparer:      comparer,
					Reason:        reason,
					Optimisations: opt,
				},
				Response: response,
			}
		}

		emit := func(pcs PagedChangeSet[K, V]) bool {
			select {
			case out <- pcs:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case scs, ok := <-in:
				if !ok {
					return
				}
				all = scs.Sorted.Items
				comparer = scs.Sorted.Comparer
				opt = scs.Sorted.Optimisations
				if !requested {
					continue
				}
				pcs := recompute(scs.Changes, scs.Sorted.Reason)
				if !emit(pcs) {
					return
				}

			case req, ok := <-requests:
				if !ok {
					requests = nil
					continue
				}
				if !req.valid() || (requested && req == request) {
					continue
				}
				request = req
				requested = true
				pcs := recompute(nil, SortReasonDataChanged)
				if !emit(pcs) {
					return
				}
			}
		}
	}()

	return out
}
