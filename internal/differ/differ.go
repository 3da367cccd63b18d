// Package differ computes which extracted resources are new relative to a baseline.
package differ

import "site_tracker/internal/model"

// ComputeNew returns the members of current whose URL does not appear in stored,
// in the order of current. Name or kind changes on a known URL are not new.
// Neither input is modified.
func ComputeNew(current, stored []model.Resource) []model.Resource {
	known := make(map[string]struct{}, len(stored))
	for _, r := range stored {
		known[r.URL] = struct{}{}
	}

	out := make([]model.Resource, 0)
	for _, r := range current {
		if _, ok := known[r.URL]; ok {
			continue
		}
		known[r.URL] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Merge returns a new baseline: stored followed by the resources of added whose URL
// is not yet stored. Resources that disappeared from the page are kept.
func Merge(stored, added []model.Resource) []model.Resource {
	out := make([]model.Resource, 0, len(stored)+len(added))
	out = append(out, stored...)
	return append(out, ComputeNew(added, stored)...)
}
