// Package projection implements spec §4.E: a SQLite relational mirror of
// the CRDT document, rebuilt wholesale on every change and read by every
// query the Store façade serves. The projection never writes back to the
// CRDT; any inconsistency is corrected by running ProjectFull again.
package projection

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"

	"github.com/evcraddock/rott/internal/crdtdoc"
	"github.com/evcraddock/rott/internal/model"
)

const walJournalSizeLimit = 67108864 // 64 MiB

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations applies the links/notes/tags/authors schema (and any
// schema migrations added after it) to the projection database, via
// goose's Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	// Strip the "migrations/" prefix so goose sees files at the root of the FS.
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("projection: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("projection: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("projection: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Store is the SQL projection store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stmts statements
}

type statements struct {
	getLink, listLinks, deleteAllLinkTags, deleteAllLinkAuthors,
	deleteAllNotes, deleteAllLinks, deleteAllTags,
	insertLink, insertNote, insertAuthor, getOrCreateTag, insertLinkTag,
	linksByTag, tagsByLink, authorsByLink, notesByLink,
	allTags, linkCount, noteCount *sql.Stmt

	searchLinks, searchNotes *sql.Stmt
}

// stmtDef and prepareAll mirror the teacher's batch-prepare helper: a flat
// list of (destination, SQL, name) triples prepared in one pass so errors
// name the statement that failed instead of a bare index.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}
		*defs[i].dest = stmt
	}
	return nil
}

// NewStore opens the projection database at dbPath (use ":memory:" in
// tests), applies PRAGMAs and migrations, and prepares all statements.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening projection database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("projection: open sqlite: %w", err)
	}

	ctx := context.Background()

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("projection: prepare statements: %w", err)
	}

	logger.Info("projection database ready", "path", dbPath)
	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct{ sql, desc string }{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("projection: set pragma %s: %w", p.desc, err)
		}
		logger.Debug("pragma set", "pragma", p.desc)
	}
	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.stmts.getLink, `SELECT id, title, url, description, created_at, updated_at FROM links WHERE id = ?`, "getLink"},
		{&s.stmts.listLinks, `SELECT id, title, url, description, created_at, updated_at FROM links`, "listLinks"},
		{&s.stmts.deleteAllLinkTags, `DELETE FROM link_tags`, "deleteAllLinkTags"},
		{&s.stmts.deleteAllLinkAuthors, `DELETE FROM link_authors`, "deleteAllLinkAuthors"},
		{&s.stmts.deleteAllNotes, `DELETE FROM notes`, "deleteAllNotes"},
		{&s.stmts.deleteAllLinks, `DELETE FROM links`, "deleteAllLinks"},
		{&s.stmts.deleteAllTags, `DELETE FROM tags`, "deleteAllTags"},
		{&s.stmts.insertLink, `INSERT INTO links (id, title, url, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`, "insertLink"},
		{&s.stmts.insertNote, `INSERT INTO notes (id, link_id, title, body, created_at) VALUES (?, ?, ?, ?, ?)`, "insertNote"},
		{&s.stmts.insertAuthor, `INSERT INTO link_authors (link_id, author, position) VALUES (?, ?, ?)`, "insertAuthor"},
		{&s.stmts.getOrCreateTag, `INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO UPDATE SET name = excluded.name RETURNING id`, "getOrCreateTag"},
		{&s.stmts.insertLinkTag, `INSERT INTO link_tags (link_id, tag_id) VALUES (?, ?)`, "insertLinkTag"},
		{&s.stmts.linksByTag, `SELECT l.id, l.title, l.url, l.description, l.created_at, l.updated_at
			FROM links l JOIN link_tags lt ON lt.link_id = l.id JOIN tags t ON t.id = lt.tag_id
			WHERE t.name = ?`, "linksByTag"},
		{&s.stmts.tagsByLink, `SELECT t.name FROM tags t JOIN link_tags lt ON lt.tag_id = t.id WHERE lt.link_id = ?`, "tagsByLink"},
		{&s.stmts.authorsByLink, `SELECT author FROM link_authors WHERE link_id = ? ORDER BY position ASC`, "authorsByLink"},
		{&s.stmts.notesByLink, `SELECT id, title, body, created_at FROM notes WHERE link_id = ? ORDER BY created_at ASC`, "notesByLink"},
		{&s.stmts.allTags, `SELECT name FROM tags ORDER BY name ASC`, "allTags"},
		{&s.stmts.linkCount, `SELECT COUNT(*) FROM links`, "linkCount"},
		{&s.stmts.noteCount, `SELECT COUNT(*) FROM notes`, "noteCount"},
		{&s.stmts.searchLinks, `SELECT l.id, l.title, l.url, l.description, l.created_at, l.updated_at
			FROM links_fts f JOIN links l ON l.rowid = f.rowid
			WHERE links_fts MATCH ? ORDER BY rank`, "searchLinks"},
	})
}

// ProjectFull rebuilds every table from scratch inside one transaction:
// delete link_tags, link_authors, notes, links, tags (FK cascade order),
// then re-insert everything from doc.
func (s *Store) ProjectFull(doc *crdtdoc.Document) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("projection: begin project_full: %w", err)
	}

	if err := s.wipe(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}

	for _, link := range doc.GetAllLinks() {
		if err := s.insertLink(ctx, tx, link); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("projection: commit project_full: %w", err)
	}

	s.logger.Debug("projection rebuilt", "links", len(doc.GetAllLinks()))
	return nil
}

func (s *Store) wipe(ctx context.Context, tx *sql.Tx) error {
	stmts := []*sql.Stmt{
		s.stmts.deleteAllLinkTags, s.stmts.deleteAllLinkAuthors,
		s.stmts.deleteAllNotes, s.stmts.deleteAllLinks, s.stmts.deleteAllTags,
	}
	for _, stmt := range stmts {
		if _, err := tx.StmtContext(ctx, stmt).ExecContext(ctx); err != nil {
			return fmt.Errorf("projection: wipe: %w", err)
		}
	}
	return nil
}

func (s *Store) insertLink(ctx context.Context, tx *sql.Tx, link model.Link) error {
	var description any
	if link.Description != nil {
		description = *link.Description
	}

	_, err := tx.StmtContext(ctx, s.stmts.insertLink).ExecContext(ctx,
		link.ID.String(), link.Title, link.URL, description, link.CreatedAt, link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("projection: insert link %s: %w", link.ID, err)
	}

	for pos, author := range link.Author {
		if _, err := tx.StmtContext(ctx, s.stmts.insertAuthor).ExecContext(ctx, link.ID.String(), author, pos); err != nil {
			return fmt.Errorf("projection: insert author for link %s: %w", link.ID, err)
		}
	}

	for _, tag := range link.Tags {
		var tagID int64
		if err := tx.StmtContext(ctx, s.stmts.getOrCreateTag).QueryRowContext(ctx, tag).Scan(&tagID); err != nil {
			return fmt.Errorf("projection: get-or-create tag %q: %w", tag, err)
		}
		if _, err := tx.StmtContext(ctx, s.stmts.insertLinkTag).ExecContext(ctx, link.ID.String(), tagID); err != nil {
			return fmt.Errorf("projection: link tag %q to %s: %w", tag, link.ID, err)
		}
	}

	for _, note := range link.SortedNotes() {
		var title any
		if note.Title != nil {
			title = *note.Title
		}
		_, err := tx.StmtContext(ctx, s.stmts.insertNote).ExecContext(ctx,
			note.ID.String(), link.ID.String(), title, note.Body, note.CreatedAt)
		if err != nil {
			return fmt.Errorf("projection: insert note %s: %w", note.ID, err)
		}
	}

	return nil
}

func scanLinkRow(row interface{ Scan(...any) error }) (model.Link, error) {
	var (
		idStr       string
		description sql.NullString
	)
	link := model.Link{}
	if err := row.Scan(&idStr, &link.Title, &link.URL, &description, &link.CreatedAt, &link.UpdatedAt); err != nil {
		return model.Link{}, err
	}
	id, err := parseLinkID(idStr)
	if err != nil {
		return model.Link{}, err
	}
	link.ID = id
	if description.Valid {
		d := description.String
		link.Description = &d
	}
	link.Author = []string{}
	link.Tags = []string{}
	link.Notes = map[string]model.Note{}
	return link, nil
}

func (s *Store) hydrate(ctx context.Context, link *model.Link) error {
	idStr := link.ID.String()

	rows, err := s.stmts.authorsByLink.QueryContext(ctx, idStr)
	if err != nil {
		return fmt.Errorf("projection: authors for %s: %w", idStr, err)
	}
	for rows.Next() {
		var author string
		if err := rows.Scan(&author); err != nil {
			rows.Close()
			return err
		}
		link.Author = append(link.Author, author)
	}
	rows.Close()

	tagRows, err := s.stmts.tagsByLink.QueryContext(ctx, idStr)
	if err != nil {
		return fmt.Errorf("projection: tags for %s: %w", idStr, err)
	}
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			tagRows.Close()
			return err
		}
		link.Tags = append(link.Tags, tag)
	}
	tagRows.Close()

	noteRows, err := s.stmts.notesByLink.QueryContext(ctx, idStr)
	if err != nil {
		return fmt.Errorf("projection: notes for %s: %w", idStr, err)
	}
	for noteRows.Next() {
		var (
			noteIDStr string
			title     sql.NullString
			note      model.Note
		)
		if err := noteRows.Scan(&noteIDStr, &title, &note.Body, &note.CreatedAt); err != nil {
			noteRows.Close()
			return err
		}
		noteID, err := parseLinkID(noteIDStr)
		if err != nil {
			noteRows.Close()
			return err
		}
		note.ID = noteID
		if title.Valid {
			t := title.String
			note.Title = &t
		}
		link.Notes[note.ID.String()] = note
	}
	noteRows.Close()

	return nil
}

// GetLink returns a single link with tags, authors, and notes populated.
func (s *Store) GetLink(id string) (*model.Link, error) {
	ctx := context.Background()

	link, err := scanLinkRow(s.stmts.getLink.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil link means "not found"
	}
	if err != nil {
		return nil, fmt.Errorf("projection: get link %s: %w", id, err)
	}

	if err := s.hydrate(ctx, &link); err != nil {
		return nil, err
	}

	return &link, nil
}

func (s *Store) scanLinkRows(rows *sql.Rows) ([]model.Link, error) {
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		link, err := scanLinkRow(rows)
		if err != nil {
			return nil, fmt.Errorf("projection: scan link row: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("projection: iterate link rows: %w", err)
	}

	ctx := context.Background()
	for i := range links {
		if err := s.hydrate(ctx, &links[i]); err != nil {
			return nil, err
		}
	}

	return links, nil
}

// GetAllLinks returns every link, fully hydrated.
func (s *Store) GetAllLinks() ([]model.Link, error) {
	rows, err := s.stmts.listLinks.QueryContext(context.Background())
	if err != nil {
		return nil, fmt.Errorf("projection: list links: %w", err)
	}
	return s.scanLinkRows(rows)
}

// GetLinksByTag returns every link carrying the given tag.
func (s *Store) GetLinksByTag(tag string) ([]model.Link, error) {
	rows, err := s.stmts.linksByTag.QueryContext(context.Background(), tag)
	if err != nil {
		return nil, fmt.Errorf("projection: links by tag %q: %w", tag, err)
	}
	return s.scanLinkRows(rows)
}

// SearchLinks performs an FTS5 MATCH search across title, url, description,
// ordered by rank.
func (s *Store) SearchLinks(query string) ([]model.Link, error) {
	rows, err := s.stmts.searchLinks.QueryContext(context.Background(), query)
	if err != nil {
		return nil, fmt.Errorf("projection: search links %q: %w", query, err)
	}
	return s.scanLinkRows(rows)
}

// GetAllTags returns every distinct tag name, alphabetically.
func (s *Store) GetAllTags() ([]string, error) {
	rows, err := s.stmts.allTags.QueryContext(context.Background())
	if err != nil {
		return nil, fmt.Errorf("projection: all tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// TagCount is one row of GetTagsWithCounts.
type TagCount struct {
	Name  string
	Count int64
}

// GetTagsWithCounts computes tag usage counts across all links, sorted by
// descending count then ascending name.
func (s *Store) GetTagsWithCounts() ([]TagCount, error) {
	links, err := s.GetAllLinks()
	if err != nil {
		return nil, err
	}

	counts := map[string]int64{}
	for _, link := range links {
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

	return out, nil
}

// LinkCount returns the number of links in the projection.
func (s *Store) LinkCount() (int, error) {
	var count int
	if err := s.stmts.linkCount.QueryRowContext(context.Background()).Scan(&count); err != nil {
		return 0, fmt.Errorf("projection: link count: %w", err)
	}
	return count, nil
}

// NoteCount returns the total number of notes across all links.
func (s *Store) NoteCount() (int, error) {
	var count int
	if err := s.stmts.noteCount.QueryRowContext(context.Background()).Scan(&count); err != nil {
		return 0, fmt.Errorf("projection: note count: %w", err)
	}
	return count, nil
}

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing projection database")

	stmts := []*sql.Stmt{
		s.stmts.getLink, s.stmts.listLinks, s.stmts.deleteAllLinkTags,
		s.stmts.deleteAllLinkAuthors, s.stmts.deleteAllNotes, s.stmts.deleteAllLinks,
		s.stmts.deleteAllTags, s.stmts.insertLink, s.stmts.insertNote,
		s.stmts.insertAuthor, s.stmts.getOrCreateTag, s.stmts.insertLinkTag,
		s.stmts.linksByTag, s.stmts.tagsByLink, s.stmts.authorsByLink,
		s.stmts.notesByLink, s.stmts.allTags, s.stmts.linkCount, s.stmts.noteCount,
		s.stmts.searchLinks,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				s.logger.Error("error closing statement", "error", err)
			}
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("projection: close database: %w", err)
	}
	return nil
}
