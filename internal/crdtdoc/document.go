// Package crdtdoc implements the typed CRDT document façade described in
// spec §4.C: a commutative, associative, idempotent merge over the Link/
// Note data model, backed by github.com/brunoga/deep/v3's diff-based CRDT
// primitives.
package crdtdoc

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/brunoga/deep/v3/crdt/hlc"
	"github.com/google/uuid"

	"github.com/evcraddock/rott/internal/docid"
	"github.com/evcraddock/rott/internal/model"
)

// CurrentSchemaVersion is the schema_version header stamped into every
// document this engine creates.
const CurrentSchemaVersion = 2

// DocState is the value type replicated by the CRDT: the document header
// plus the full set of links (and, transitively, their notes).
type DocState struct {
	SchemaVersion int                   `json:"schema_version"`
	RootDocID     string                `json:"root_doc_id"`
	Links         map[string]model.Link `json:"links"`
}

// Document is the façade over a replicated DocState.
type Document struct {
	id  docid.ID
	rep *replicated[DocState]
}

// New builds an empty document with a freshly generated id.
func New() (*Document, error) {
	id, err := docid.New()
	if err != nil {
		return nil, err
	}
	return WithID(id), nil
}

// WithID builds an empty document whose header carries the given id.
func WithID(id docid.ID) *Document {
	state := DocState{
		SchemaVersion: CurrentSchemaVersion,
		RootDocID:     id.ToBs58Check(),
		Links:         map[string]model.Link{},
	}
	return &Document{id: id, rep: newReplicated(state, id.ToBs58Check())}
}

// EmptyForSync builds a document carrying the id but no local history —
// used when joining from a remote root id, so this replica never
// introduces changes that could conflict with the authoritative copy
// before the first sync.
func EmptyForSync(id docid.ID) *Document {
	return WithID(id)
}

// RootID returns the document's id.
func (d *Document) RootID() docid.ID { return d.id }

// persistedDoc is the on-the-wire (and on-disk) shape of Save/Load.
type persistedDoc struct {
	Value      DocState           `json:"value"`
	Clocks     map[string]hlc.HLC `json:"clocks"`
	Tombstones map[string]hlc.HLC `json:"tombstones"`
	NodeID     string             `json:"node_id"`
	Latest     hlc.HLC            `json:"latest"`
}

// Save returns the canonical binary serialization of the full document
// history (value plus per-field clocks and tombstones, needed so a
// future Merge remains commutative with documents loaded elsewhere).
func (d *Document) Save() ([]byte, error) {
	d.rep.mu.RLock()
	defer d.rep.mu.RUnlock()

	out := persistedDoc{
		Value:      d.rep.value,
		Clocks:     d.rep.clocks,
		Tombstones: d.rep.tombstones,
		NodeID:     d.rep.nodeID,
		Latest:     d.rep.clock.Latest,
	}

	bytes, err := json.Marshal(out)
	if err != nil {
		return nil, codecError("save", err)
	}
	return bytes, nil
}

// Load parses the CRDT binary form and extracts the embedded root id.
func Load(data []byte) (*Document, error) {
	var parsed persistedDoc
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, codecError("load", err)
	}

	if parsed.Value.RootDocID == "" {
		return nil, missingField("root_doc_id")
	}

	id, err := docid.FromBs58Check(parsed.Value.RootDocID)
	if err != nil {
		return nil, invalidUUID("root_doc_id")
	}

	if parsed.Value.Links == nil {
		parsed.Value.Links = map[string]model.Link{}
	}

	rep := &replicated[DocState]{
		value:      parsed.Value,
		clocks:     parsed.Clocks,
		tombstones: parsed.Tombstones,
		nodeID:     parsed.NodeID,
		clock:      hlc.NewClock(parsed.NodeID),
	}
	if rep.clocks == nil {
		rep.clocks = map[string]hlc.HLC{}
	}
	if rep.tombstones == nil {
		rep.tombstones = map[string]hlc.HLC{}
	}
	rep.clock.Latest = parsed.Latest

	return &Document{id: id, rep: rep}, nil
}

// Fork returns an independent copy with shared history.
func (d *Document) Fork() *Document {
	return &Document{id: d.id, rep: d.rep.fork()}
}

// Merge integrates another document's history into this one. Commutative,
// associative, and idempotent over any sequence of merges, because the
// underlying state resolver only ever compares per-field clock values.
func (d *Document) Merge(other *Document) bool {
	return d.rep.merge(other.rep)
}

// edit is the shared helper for link-mutating operations.
func (d *Document) edit(fn func(*DocState)) {
	d.rep.edit(fn)
}

// AddLink inserts or replaces a link by id.
func (d *Document) AddLink(link model.Link) {
	d.edit(func(s *DocState) {
		s.Links[link.ID.String()] = link
	})
}

// UpdateLink replaces an existing link wholesale. Returns ErrLinkNotFound
// if no link with that id exists.
func (d *Document) UpdateLink(link model.Link) error {
	key := link.ID.String()
	if _, err := d.GetLink(link.ID); err != nil {
		return err
	}
	d.edit(func(s *DocState) {
		s.Links[key] = link
	})
	return nil
}

// DeleteLink removes a link and, transitively, all of its notes.
func (d *Document) DeleteLink(id uuid.UUID) {
	key := id.String()
	d.edit(func(s *DocState) {
		delete(s.Links, key)
	})
}

// GetLink returns a single link by id.
func (d *Document) GetLink(id uuid.UUID) (model.Link, error) {
	view := d.rep.view()
	link, ok := view.Links[id.String()]
	if !ok {
		return model.Link{}, &DocumentError{Context: id.String(), Err: ErrLinkNotFound}
	}
	return link, nil
}

// GetAllLinks returns every link in the document, in no particular order.
func (d *Document) GetAllLinks() []model.Link {
	view := d.rep.view()
	links := make([]model.Link, 0, len(view.Links))
	for _, l := range view.Links {
		links = append(links, l)
	}
	return links
}

// AddNoteToLink attaches a note to an existing link.
func (d *Document) AddNoteToLink(linkID uuid.UUID, note model.Note, now time.Time) error {
	key := linkID.String()
	if _, err := d.GetLink(linkID); err != nil {
		return err
	}
	d.edit(func(s *DocState) {
		link := s.Links[key]
		link.AddNote(note, now)
		s.Links[key] = link
	})
	return nil
}

// RemoveNoteFromLink detaches a note from a link. Returns an
// ErrMissingField error if the link has no note with that id.
func (d *Document) RemoveNoteFromLink(linkID, noteID uuid.UUID, now time.Time) error {
	key := linkID.String()
	link, err := d.GetLink(linkID)
	if err != nil {
		return err
	}
	if _, ok := link.Notes[noteID.String()]; !ok {
		return missingField("note " + noteID.String())
	}
	d.edit(func(s *DocState) {
		link := s.Links[key]
		link.RemoveNote(noteID, now)
		s.Links[key] = link
	})
	return nil
}

// normalizeURL trims whitespace, lowercases the scheme and host, and
// strips one trailing slash iff the path has at least one other segment.
// Mirrors the original implementation exactly so get_link_by_url stays
// idempotent under repeated normalization.
func normalizeURL(raw string) string {
	normalized := strings.TrimSpace(raw)

	if strings.HasSuffix(normalized, "/") && strings.Count(normalized, "/") > 3 {
		normalized = strings.TrimSuffix(normalized, "/")
	}

	if idx := strings.Index(normalized, "://"); idx != -1 {
		scheme := strings.ToLower(normalized[:idx+3])
		rest := normalized[idx+3:]
		if pathIdx := strings.Index(rest, "/"); pathIdx != -1 {
			domain, path := rest[:pathIdx], rest[pathIdx:]
			normalized = scheme + strings.ToLower(domain) + path
		} else {
			normalized = scheme + strings.ToLower(rest)
		}
	}

	return normalized
}

// GetLinkByURL performs a linear scan with URL normalization, returning
// the first match by normalized or raw equality.
func (d *Document) GetLinkByURL(url string) (model.Link, bool) {
	normalized := normalizeURL(url)
	for _, link := range d.GetAllLinks() {
		if normalizeURL(link.URL) == normalized || link.URL == url {
			return link, true
		}
	}
	return model.Link{}, false
}

// SearchLinks performs a case-insensitive substring match across title,
// url, and description.
func (d *Document) SearchLinks(query string) []model.Link {
	q := strings.ToLower(query)
	var out []model.Link
	for _, link := range d.GetAllLinks() {
		if strings.Contains(strings.ToLower(link.Title), q) ||
			strings.Contains(strings.ToLower(link.URL), q) ||
			(link.Description != nil && strings.Contains(strings.ToLower(*link.Description), q)) {
			out = append(out, link)
		}
	}
	return out
}

// TagCount is one entry of GetTagsWithCounts's result.
type TagCount struct {
	Name  string
	Count int64
}

// GetTagsWithCounts returns the multiset of tags across all links, sorted
// by descending count then ascending name.
func (d *Document) GetTagsWithCounts() []TagCount {
	counts := map[string]int64{}
	for _, link := range d.GetAllLinks() {
		for _, tag := range link.Tags {
			counts[tag]++
		}
	}

	out := make([]TagCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, TagCount{Name: name, Count: count})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})

	return out
}

// LinkCount returns the number of links.
func (d *Document) LinkCount() int {
	return len(d.rep.view().Links)
}

// NoteCount returns the total number of notes across all links.
func (d *Document) NoteCount() int {
	total := 0
	for _, link := range d.GetAllLinks() {
		total += len(link.Notes)
	}
	return total
}
