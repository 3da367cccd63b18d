package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"site_tracker/internal/model"
)

// document is the on-disk layout of the JSON backend.
type document struct {
	Subscribers map[string]subscriberDoc `json:"subscribers"`
	SudoUsers   []int64                  `json:"sudo_users"`
	Channels    []int64                  `json:"channels"`
}

type subscriberDoc struct {
	TrackedURLs []model.TrackedPage `json:"tracked_urls"`
}

// JSONFile implements Storage as a single JSON document rewritten atomically on
// every change.
type JSONFile struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	doc document
}

// NewJSONFile opens the JSON document at path. A missing file starts empty. A file
// that cannot be decoded is moved aside with a ".corrupt" suffix and the store
// starts empty. A file in the legacy layout is converted in place, together with
// the sudo_users.json and authorized_channels.json files beside it, and the
// original is kept with a ".legacy" suffix.
func NewJSONFile(path string, logger *slog.Logger) (*JSONFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &JSONFile{path: path, logger: logger, doc: emptyDocument()}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		logger.Error("read store, starting empty", "path", path, "error", err)
		return s, nil
	}

	doc, legacy, err := decodeDocument(data)
	if err != nil {
		logger.Error("decode store, starting empty", "path", path, "error", err)
		if err := os.Rename(path, path+".corrupt"); err != nil {
			logger.Warn("move corrupt store aside", "path", path, "error", err)
		}
		return s, nil
	}
	if !legacy {
		s.doc = normalize(doc)
		return s, nil
	}

	dir := filepath.Dir(path)
	doc.SudoUsers = readLegacyIDs(filepath.Join(dir, legacySudoFile), logger)
	doc.Channels = readLegacyIDs(filepath.Join(dir, legacyChannelsFile), logger)
	s.doc = normalize(doc)

	logger.Info("migrating legacy store layout",
		"path", path,
		"subscribers", len(s.doc.Subscribers),
		"sudo_users", len(s.doc.SudoUsers),
		"channels", len(s.doc.Channels),
	)
	if err := os.WriteFile(path+".legacy", data, 0o600); err != nil {
		return nil, fmt.Errorf("back up legacy store: %w", err)
	}
	if err := writeAtomic(path, s.doc); err != nil {
		return nil, persistErr("migrate legacy store", err)
	}
	return s, nil
}

// Access lists of the legacy layout live in files next to the subscriptions.
const (
	legacySudoFile     = "sudo_users.json"
	legacyChannelsFile = "authorized_channels.json"
)

// decodeDocument parses data in the current layout, or in the legacy layout that
// keys subscribers by id at the top level. It reports whether data was legacy.
func decodeDocument(data []byte) (document, bool, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return document{}, false, err
	}

	_, hasSubs := top["subscribers"]
	_, hasSudo := top["sudo_users"]
	_, hasChannels := top["channels"]
	if hasSubs || hasSudo || hasChannels {
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return document{}, false, err
		}
		return doc, false, nil
	}

	doc := emptyDocument()
	for key, raw := range top {
		if _, err := strconv.ParseInt(key, 10, 64); err != nil {
			return document{}, false, fmt.Errorf("unrecognized top-level key %q", key)
		}
		var sub subscriberDoc
		if err := json.Unmarshal(raw, &sub); err != nil {
			return document{}, false, fmt.Errorf("subscriber %s: %w", key, err)
		}
		doc.Subscribers[key] = sub
	}
	return doc, true, nil
}

func readLegacyIDs(path string, logger *slog.Logger) []int64 {
	data, err := os.ReadFile(path) //nolint:gosec // sibling of the configured store path
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("read legacy access list", "path", path, "error", err)
		}
		return nil
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		logger.Warn("decode legacy access list", "path", path, "error", err)
		return nil
	}
	return ids
}

func emptyDocument() document {
	return document{
		Subscribers: make(map[string]subscriberDoc),
		SudoUsers:   []int64{},
		Channels:    []int64{},
	}
}

// normalize drops entries that violate the schema: non-numeric subscriber keys,
// pages without a URL, duplicate page URLs and duplicate resource URLs.
func normalize(doc document) document {
	out := emptyDocument()
	for key, sub := range doc.Subscribers {
		if _, err := strconv.ParseInt(key, 10, 64); err != nil {
			continue
		}
		seen := make(map[string]bool, len(sub.TrackedURLs))
		pages := make([]model.TrackedPage, 0, len(sub.TrackedURLs))
		for _, p := range sub.TrackedURLs {
			if p.URL == "" || seen[p.URL] {
				continue
			}
			seen[p.URL] = true
			p.Resources = dedupResources(p.Resources)
			pages = append(pages, p)
		}
		out.Subscribers[key] = subscriberDoc{TrackedURLs: pages}
	}
	out.SudoUsers = uniqueIDs(doc.SudoUsers)
	out.Channels = uniqueIDs(doc.Channels)
	return out
}

func dedupResources(in []model.Resource) []model.Resource {
	seen := make(map[string]bool, len(in))
	out := make([]model.Resource, 0, len(in))
	for _, r := range in {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func subKey(id int64) string { return strconv.FormatInt(id, 10) }

// Close is a no-op; every change is already on disk.
func (s *JSONFile) Close() error { return nil }

// Load returns a copy of every subscriber with its tracked pages.
func (s *JSONFile) Load(_ context.Context) (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(model.Snapshot, len(s.doc.Subscribers))
	for key, sub := range s.doc.Subscribers {
		id, _ := strconv.ParseInt(key, 10, 64)
		snap[id] = clonePages(sub.TrackedURLs)
	}
	return snap, nil
}

// Save replaces all subscriptions with snap. The access lists are kept.
func (s *JSONFile) Save(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc
	next.Subscribers = make(map[string]subscriberDoc, len(snap))
	for id, pages := range snap {
		next.Subscribers[subKey(id)] = subscriberDoc{TrackedURLs: clonePages(pages)}
	}
	return s.commit("save", next)
}

// AddPage stores a new tracked page with its initial baseline.
func (s *JSONFile) AddPage(_ context.Context, subscriberID int64, page model.TrackedPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.doc.Subscribers[subKey(subscriberID)]
	if indexOf(sub.TrackedURLs, page.URL) >= 0 {
		return ErrAlreadyTracked
	}

	next := s.cloneDoc()
	sub = next.Subscribers[subKey(subscriberID)]
	sub.TrackedURLs = append(sub.TrackedURLs, clonePage(page))
	next.Subscribers[subKey(subscriberID)] = sub
	return s.commit("add page", next)
}

// RemovePage deletes a tracked page. The subscriber remains, possibly with no pages.
func (s *JSONFile) RemovePage(_ context.Context, subscriberID int64, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.doc.Subscribers[subKey(subscriberID)].TrackedURLs, url)
	if i < 0 {
		return ErrNotTracked
	}

	next := s.cloneDoc()
	sub := next.Subscribers[subKey(subscriberID)]
	sub.TrackedURLs = slices.Delete(sub.TrackedURLs, i, i+1)
	next.Subscribers[subKey(subscriberID)] = sub
	return s.commit("remove page", next)
}

// GetPage returns a copy of one tracked page of a subscriber.
func (s *JSONFile) GetPage(_ context.Context, subscriberID int64, url string) (*model.TrackedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := s.doc.Subscribers[subKey(subscriberID)].TrackedURLs
	i := indexOf(pages, url)
	if i < 0 {
		return nil, ErrNotTracked
	}
	p := clonePage(pages[i])
	return &p, nil
}

// ListPages returns a copy of the tracked pages of a subscriber.
func (s *JSONFile) ListPages(_ context.Context, subscriberID int64) ([]model.TrackedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.doc.Subscribers[subKey(subscriberID)]
	if !ok {
		return nil, nil
	}
	return clonePages(sub.TrackedURLs), nil
}

// RecordDelivery replaces the hash and resources of a tracked page.
func (s *JSONFile) RecordDelivery(_ context.Context, subscriberID int64, url, hash string, resources []model.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.doc.Subscribers[subKey(subscriberID)].TrackedURLs, url)
	if i < 0 {
		return ErrNotTracked
	}

	next := s.cloneDoc()
	pages := next.Subscribers[subKey(subscriberID)].TrackedURLs
	pages[i].Hash = hash
	pages[i].Resources = slices.Clone(resources)
	if pages[i].Resources == nil {
		pages[i].Resources = []model.Resource{}
	}
	return s.commit("record delivery", next)
}

// AddSudoUser grants a user access. It reports false if the user was already present.
func (s *JSONFile) AddSudoUser(_ context.Context, userID int64) (bool, error) {
	return s.addID(func(d *document) *[]int64 { return &d.SudoUsers }, userID)
}

// RemoveSudoUser revokes a user's access. It reports false if the user was not present.
func (s *JSONFile) RemoveSudoUser(_ context.Context, userID int64) (bool, error) {
	return s.removeID(func(d *document) *[]int64 { return &d.SudoUsers }, userID)
}

// IsSudoUser reports whether a user was granted access.
func (s *JSONFile) IsSudoUser(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.doc.SudoUsers, userID), nil
}

// AddChannel authorizes a channel. It reports false if the channel was already present.
func (s *JSONFile) AddChannel(_ context.Context, channelID int64) (bool, error) {
	return s.addID(func(d *document) *[]int64 { return &d.Channels }, channelID)
}

// RemoveChannel revokes a channel. It reports false if the channel was not present.
func (s *JSONFile) RemoveChannel(_ context.Context, channelID int64) (bool, error) {
	return s.removeID(func(d *document) *[]int64 { return &d.Channels }, channelID)
}

// IsChannelAuthorized reports whether a channel was authorized.
func (s *JSONFile) IsChannelAuthorized(_ context.Context, channelID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.doc.Channels, channelID), nil
}

// AccessLists returns copies of the sudo user and channel lists.
func (s *JSONFile) AccessLists() (sudoUsers, channels []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.doc.SudoUsers), slices.Clone(s.doc.Channels)
}

func (s *JSONFile) addID(list func(*document) *[]int64, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(*list(&s.doc), id) {
		return false, nil
	}
	next := s.cloneDoc()
	ids := list(&next)
	*ids = append(*ids, id)
	if err := s.commit("add id", next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *JSONFile) removeID(list func(*document) *[]int64, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(*list(&s.doc), id)
	if i < 0 {
		return false, nil
	}
	next := s.cloneDoc()
	ids := list(&next)
	*ids = slices.Delete(*ids, i, i+1)
	if err := s.commit("remove id", next); err != nil {
		return false, err
	}
	return true, nil
}

// commit writes next to disk and, on success, makes it the in-memory state.
// Callers must hold s.mu.
func (s *JSONFile) commit(op string, next document) error {
	if err := writeAtomic(s.path, next); err != nil {
		return persistErr(op, err)
	}
	s.doc = next
	return nil
}

func writeAtomic(path string, doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *JSONFile) cloneDoc() document {
	next := document{
		Subscribers: make(map[string]subscriberDoc, len(s.doc.Subscribers)+1),
		SudoUsers:   slices.Clone(s.doc.SudoUsers),
		Channels:    slices.Clone(s.doc.Channels),
	}
	for k, sub := range s.doc.Subscribers {
		next.Subscribers[k] = subscriberDoc{TrackedURLs: clonePages(sub.TrackedURLs)}
	}
	return next
}

func indexOf(pages []model.TrackedPage, url string) int {
	return slices.IndexFunc(pages, func(p model.TrackedPage) bool { return p.URL == url })
}

func clonePage(p model.TrackedPage) model.TrackedPage {
	p.Resources = slices.Clone(p.Resources)
	if p.Resources == nil {
		p.Resources = []model.Resource{}
	}
	return p
}

func clonePages(pages []model.TrackedPage) []model.TrackedPage {
	out := make([]model.TrackedPage, len(pages))
	for i, p := range pages {
		out[i] = clonePage(p)
	}
	return out
}
