// Package model defines the domain types used across the application.
package model

import (
	"cmp"
	"slices"
	"strings"
)

// Kind classifies a downloadable resource.
type Kind string

// Supported resource kinds.
const (
	KindDocument Kind = "document"
	KindImage    Kind = "image"
)

// Label returns the kind with its first letter capitalized, e.g. "Document".
func (k Kind) Label() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

// Resource is a document or image referenced by a tracked page.
// Two resources with the same URL are the same resource.
type Resource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Kind Kind   `json:"type"`
}

// TrackedPage is a page a subscriber monitors, together with its baseline.
type TrackedPage struct {
	URL       string     `json:"url"`
	Hash      string     `json:"hash"`
	Resources []Resource `json:"files"`
}

// Subscriber is a private chat or channel that owns tracked pages.
type Subscriber struct {
	ID    int64
	Pages []TrackedPage
}

// Snapshot maps subscriber IDs to their tracked pages.
type Snapshot map[int64][]TrackedPage

// Subscribers returns the snapshot as a slice ordered by subscriber ID.
func (s Snapshot) Subscribers() []Subscriber {
	out := make([]Subscriber, 0, len(s))
	for id, pages := range s {
		out = append(out, Subscriber{ID: id, Pages: pages})
	}
	slices.SortFunc(out, func(a, b Subscriber) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
