package rott

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evcraddock/rott/internal/config"
	"github.com/evcraddock/rott/internal/crdtdoc"
	"github.com/evcraddock/rott/internal/docid"
	"github.com/evcraddock/rott/internal/model"
	"github.com/evcraddock/rott/internal/projection"
	"github.com/evcraddock/rott/internal/storage"
	"github.com/evcraddock/rott/internal/syncclient"
	"github.com/evcraddock/rott/internal/syncproto"
)

const projectionFileName = "rott.db"

// Store is the façade described in spec §4.H: it unifies the CRDT
// document, its atomic on-disk persistence, the SQL projection, and the
// sync client behind one transactional API. Every write mutates the CRDT,
// persists it atomically, then rebuilds the projection; every read is
// served from the projection.
type Store struct {
	cfg    *config.Config
	logger *slog.Logger

	docMu sync.Mutex
	doc   *crdtdoc.Document

	files      *storage.Store
	projection *projection.Store
	peerBag    *syncproto.PeerStateBag
	peers      *syncclient.PeerStates

	wasRecovered bool
}

// Open validates the data directory, opens the SQL projection, and loads
// the CRDT document — creating one if absent, or recovering from
// corruption per spec §4.D. It always reprojects after load, since the
// on-disk projection may lag the CRDT.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	files := storage.New(cfg.DataDir, logger)
	if err := files.ValidateStorage(); err != nil {
		return nil, wrapStorageErr(err)
	}

	proj, err := projection.NewStore(filepath.Join(cfg.DataDir, projectionFileName), logger)
	if err != nil {
		return nil, wrapError(KindProjection, err, false, "")
	}

	s := &Store{
		cfg:        cfg,
		logger:     logger,
		files:      files,
		projection: proj,
		peerBag:    syncproto.NewPeerStateBag(cfg.DataDir, logger),
		peers:      syncclient.NewPeerStates(),
	}

	doc, recovered, err := s.loadOrCreateDocument()
	if err != nil {
		proj.Close()
		return nil, err
	}
	s.doc = doc
	s.wasRecovered = recovered

	if err := s.peerBag.Load(); err != nil {
		s.logger.Warn("failed to load peer-state bag, starting empty", "error", err)
	}
	s.peers.LoadSnapshot(s.peerBag.All())

	if err := s.RebuildProjection(); err != nil {
		proj.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) loadOrCreateDocument() (*crdtdoc.Document, bool, error) {
	data, found, err := s.files.Load()
	if err != nil {
		return nil, false, wrapStorageErr(err)
	}

	if !found {
		// A sidecar without a document means a prior caller joined a
		// remote document id (via SaveSidecarOnly) and is waiting on the
		// first sync — equivalent to s.files.IsPendingSync() being true,
		// since docFound is already known false here. Build from that id
		// rather than minting an unrelated random one, or the join target
		// is lost the moment this Store persists.
		pendingID, pending, err := s.files.LoadRootID()
		if err != nil {
			return nil, false, wrapStorageErr(err)
		}

		var doc *crdtdoc.Document
		if pending {
			s.logger.Info("resuming join from pending sidecar", "root_doc_id", pendingID.ToBs58Check())
			doc = crdtdoc.EmptyForSync(pendingID)
		} else {
			doc, err = crdtdoc.New()
			if err != nil {
				return nil, false, wrapError(KindDocument, err, false, "")
			}
		}

		if err := s.persist(doc); err != nil {
			return nil, false, err
		}
		return doc, false, nil
	}

	doc, err := crdtdoc.Load(data)
	if err != nil {
		s.logger.Warn("document failed to parse, backing up and starting fresh", "error", err)
		backupPath, backupErr := s.files.BackupCorrupt()
		if backupErr != nil {
			return nil, false, wrapStorageErr(backupErr)
		}
		s.logger.Warn("corrupt document backed up", "path", backupPath)

		fresh, err := crdtdoc.New()
		if err != nil {
			return nil, false, wrapError(KindDocument, err, false, "")
		}
		if err := s.persist(fresh); err != nil {
			return nil, false, err
		}
		return fresh, true, nil
	}

	return doc, false, nil
}

// WasRecovered reports whether Open had to discard a corrupt document and
// start fresh.
func (s *Store) WasRecovered() bool {
	return s.wasRecovered
}

func (s *Store) persist(doc *crdtdoc.Document) error {
	data, err := doc.Save()
	if err != nil {
		return wrapError(KindDocument, err, false, "")
	}
	if err := s.files.Save(data, doc.RootID()); err != nil {
		return wrapStorageErr(err)
	}
	return nil
}

// RebuildProjection reprojects the entire CRDT document into the SQL
// projection. Called on open, and after a sync applies remote changes.
func (s *Store) RebuildProjection() error {
	s.docMu.Lock()
	doc := s.doc
	s.docMu.Unlock()

	if err := s.projection.ProjectFull(doc); err != nil {
		return wrapError(KindProjection, err, false, "")
	}
	return nil
}

// write mutates the CRDT under lock, persists it, then reprojects —
// the single-transaction write path every mutating operation shares.
func (s *Store) write(fn func(*crdtdoc.Document)) error {
	s.docMu.Lock()
	fn(s.doc)
	doc := s.doc
	s.docMu.Unlock()

	if err := s.persist(doc); err != nil {
		return err
	}
	return s.RebuildProjection()
}

// RootID returns the document's identity.
func (s *Store) RootID() docid.ID {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	return s.doc.RootID()
}

// RootURL returns the document's automerge: URL form.
func (s *Store) RootURL() string {
	return s.RootID().ToURL()
}

// Config returns the resolved configuration this Store was opened with.
func (s *Store) Config() *config.Config {
	return s.cfg
}

// AddLink inserts a new link for url and returns it.
func (s *Store) AddLink(url string) (model.Link, error) {
	link := model.NewLink(url, time.Now())
	err := s.write(func(doc *crdtdoc.Document) {
		doc.AddLink(link)
	})
	return link, err
}

// UpdateLink replaces an existing link wholesale.
func (s *Store) UpdateLink(link model.Link) error {
	var notFound error
	err := s.write(func(doc *crdtdoc.Document) {
		notFound = doc.UpdateLink(link)
	})
	if notFound != nil {
		return wrapLinkNotFound(notFound)
	}
	return err
}

// DeleteLink removes a link and its notes.
func (s *Store) DeleteLink(id uuid.UUID) error {
	return s.write(func(doc *crdtdoc.Document) {
		doc.DeleteLink(id)
	})
}

// GetLink returns a single link by id from the projection.
func (s *Store) GetLink(id string) (*model.Link, error) {
	link, err := s.projection.GetLink(id)
	if err != nil {
		return nil, wrapError(KindProjection, err, false, "")
	}
	return link, nil
}

// GetAllLinks returns every link from the projection.
func (s *Store) GetAllLinks() ([]model.Link, error) {
	links, err := s.projection.GetAllLinks()
	if err != nil {
		return nil, wrapError(KindProjection, err, false, "")
	}
	return links, nil
}

// GetLinksByTag returns every link carrying tag, from the projection.
func (s *Store) GetLinksByTag(tag string) ([]model.Link, error) {
	links, err := s.projection.GetLinksByTag(tag)
	if err != nil {
		return nil, wrapError(KindProjection, err, false, "")
	}
	return links, nil
}

// SearchLinks performs an FTS5 search against the projection.
func (s *Store) SearchLinks(query string) ([]model.Link, error) {
	links, err := s.projection.SearchLinks(query)
	if err != nil {
		return nil, wrapError(KindProjection, err, false, "")
	}
	return links, nil
}

// GetLinkByURL scans the live CRDT document for a normalized URL match —
// the one read that bypasses the projection, since normalization lives in
// crdtdoc and the projection stores raw URLs only.
func (s *Store) GetLinkByURL(url string) (model.Link, bool) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	return s.doc.GetLinkByURL(url)
}

// AddNoteToLink attaches a note to an existing link, bumping its
// updated_at.
func (s *Store) AddNoteToLink(linkID uuid.UUID, body string) error {
	var notFound error
	err := s.write(func(doc *crdtdoc.Document) {
		notFound = doc.AddNoteToLink(linkID, model.NewNote(body, time.Now()), time.Now())
	})
	if notFound != nil {
		return wrapLinkNotFound(notFound)
	}
	return err
}

// RemoveNoteFromLink detaches a note from a link, bumping the link's
// updated_at.
func (s *Store) RemoveNoteFromLink(linkID, noteID uuid.UUID) error {
	var notFound error
	err := s.write(func(doc *crdtdoc.Document) {
		notFound = doc.RemoveNoteFromLink(linkID, noteID, time.Now())
	})
	if notFound != nil {
		return wrapLinkNotFound(notFound)
	}
	return err
}

// GetAllTags returns every distinct tag, alphabetically.
func (s *Store) GetAllTags() ([]string, error) {
	tags, err := s.projection.GetAllTags()
	if err != nil {
		return nil, wrapError(KindProjection, err, false, "")
	}
	return tags, nil
}

// TagCount is one row of GetTagsWithCounts.
type TagCount = projection.TagCount

// GetTagsWithCounts returns tag usage counts, sorted by descending count
// then ascending name.
func (s *Store) GetTagsWithCounts() ([]TagCount, error) {
	counts, err := s.projection.GetTagsWithCounts()
	if err != nil {
		return nil, wrapError(KindProjection, err, false, "")
	}
	return counts, nil
}

// LinkCount returns the number of links in the projection.
func (s *Store) LinkCount() (int, error) {
	n, err := s.projection.LinkCount()
	if err != nil {
		return 0, wrapError(KindProjection, err, false, "")
	}
	return n, nil
}

// NoteCount returns the total number of notes across all links.
func (s *Store) NoteCount() (int, error) {
	n, err := s.projection.NoteCount()
	if err != nil {
		return 0, wrapError(KindProjection, err, false, "")
	}
	return n, nil
}

// StorageStats returns the CRDT file's on-disk size in bytes.
func (s *Store) StorageStats() (int64, error) {
	n, err := s.files.StorageStats()
	if err != nil {
		return 0, wrapStorageErr(err)
	}
	return n, nil
}

// SharedDocument exposes the mutex-guarded CRDT handle the sync client
// needs for generate/receive sync message calls, per spec §4.H/§5: the
// sync task holds this only for the duration of those two calls, never
// across a network await.
func (s *Store) SharedDocument() syncclient.SharedDocument {
	return (*guardedDocument)(s)
}

// guardedDocument adapts Store's internal mutex to the narrow
// syncclient.SharedDocument interface without exposing the rest of the
// façade to the sync client.
type guardedDocument Store

func (g *guardedDocument) GenerateSyncMessage(peer *crdtdoc.PeerSyncState) ([]byte, error) {
	s := (*Store)(g)
	s.docMu.Lock()
	defer s.docMu.Unlock()
	return s.doc.GenerateSyncMessage(peer)
}

func (g *guardedDocument) ReceiveSyncMessage(peer *crdtdoc.PeerSyncState, data []byte) (bool, error) {
	s := (*Store)(g)
	s.docMu.Lock()
	applied, err := s.doc.ReceiveSyncMessage(peer, data)
	s.docMu.Unlock()
	return applied, err
}

// SyncOnce performs one connect/handshake/exchange/disconnect cycle
// against the configured sync URL, persisting peer progress and
// rebuilding the projection if any remote change was applied.
func (s *Store) SyncOnce(ctx context.Context) (bool, error) {
	if s.cfg.SyncURL == "" {
		return false, wrapError(KindSync, errors.New("sync: no sync_url configured"), false, "set sync_url in config or ROTT_SYNC_URL")
	}

	changed, err := syncclient.SyncOnce(ctx, s.cfg.SyncURL, s.RootID().String(), s.SharedDocument(), s.peers, nil)
	s.persistPeerState()
	if err != nil {
		return changed, wrapError(KindSync, err, true, "")
	}

	if changed {
		if err := s.RebuildProjection(); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// NewSyncClient builds a persistent sync client against the configured
// sync URL. Callers run its Run method in a goroutine and drain Events.
func (s *Store) NewSyncClient() (*syncclient.Client, error) {
	if s.cfg.SyncURL == "" {
		return nil, wrapError(KindSync, errors.New("sync: no sync_url configured"), false, "set sync_url in config or ROTT_SYNC_URL")
	}
	return syncclient.New(s.cfg.SyncURL, s.RootID().String(), s.SharedDocument(), s.peers, s.logger), nil
}

func (s *Store) persistPeerState() {
	for peerID, data := range s.peers.Snapshot() {
		s.peerBag.Set(peerID, data)
	}
	if err := s.peerBag.Save(); err != nil {
		s.logger.Warn("failed to persist peer-state bag", "error", err)
	}
}

// Close releases the projection database handle.
func (s *Store) Close() error {
	return s.projection.Close()
}

// wrapLinkNotFound marks a missing-link condition as recoverable, since
// it reflects caller input (a stale or mistyped id) rather than a broken
// invariant: the caller can retry with a valid id.
func wrapLinkNotFound(err error) error {
	if errors.Is(err, crdtdoc.ErrLinkNotFound) {
		return wrapError(KindInvariant, err, true, "check the link id and try again")
	}
	return wrapError(KindInvariant, err, false, "")
}

func wrapStorageErr(err error) error {
	var storageErr *storage.Error
	if errors.As(err, &storageErr) {
		return wrapError(KindStorage, err, storageErr.Recoverable, storageErr.Suggestion)
	}
	return wrapError(KindStorage, err, false, "")
}
