package obscache

import "context"

// VirtualRequest selects a contiguous range of a sorted stream by start
// index and size.
type VirtualRequest struct {
	StartIndex int
	Size       int
}

// valid reports whether the request is well formed. Malformed requests
// are ignored rather than failing the stream.
func (r VirtualRequest) valid() bool {
	return r.StartIndex >= 0 && r.Size >= 1
}

// Virtualise presents a range window over a sorted changeset stream, the
// scrolled sibling of Page. Each upstream batch and each range request
// yields a VirtualChangeSet with the window-relative changes, the window
// snapshot, and a VirtualResponse. Nothing is emitted until the first
// valid request arrives; invalid and duplicate requests are ignored.
func Virtualise[K comparable, V any](ctx context.Context, in <-chan SortedChangeSet[K, V], requests <-chan VirtualRequest) <-chan VirtualChangeSet[K, V] {
	out := make(chan VirtualChangeSet[K, V], cap(in))

	go func() {
		defer close(out)

		var (
			all       []KeyValue[K, V]
			window    []KeyValue[K, V]
			request   VirtualRequest
			requested bool
			comparer  Comparer[V]
			opt       SortOptimisation
		)

		recompute := func(upstream ChangeSet[K, V], reason SortReason) VirtualChangeSet[K, V] {
			next := clip(all, request.StartIndex, request.Size)
			diff := windowDiff(window, next, upstream)
			window = next

			return VirtualChangeSet[K, V]{
				Changes: diff,
				Window: KeyValueCollection[K, V]{
					Items:         next,
					Comparer:      comparer,
					Reason:        reason,
					Optimisations: opt,
				},
				Response: VirtualResponse{
					StartIndex: request.StartIndex,
					Size:       request.Size,
					TotalSize:  len(all),
				},
			}
		}

		emit := func(vcs VirtualChangeSet[K, V]) bool {
			select {
			case out <- vcs:
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
				if !emit(recompute(scs.Changes, scs.Sorted.Reason)) {
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
				if !emit(recompute(nil, SortReasonDataChanged)) {
					return
				}
			}
		}
	}()

	return out
}
