// Package model defines the plain value types stored inside the CRDT
// document: Link and its child Notes.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Note is a child of a Link; it has no independent existence.
type Note struct {
	ID        uuid.UUID `json:"id"`
	Title     *string   `json:"title,omitempty"`
	Body      string    `json:"body"`
	CreatedAt int64     `json:"created_at"`
}

// NewNote builds a Note with a fresh id and the given creation time
// (milliseconds since epoch, supplied by the caller's clock).
func NewNote(body string, now time.Time) Note {
	return Note{
		ID:        uuid.New(),
		Body:      body,
		CreatedAt: now.UnixMilli(),
	}
}

// SetTitle sets the note's title.
func (n *Note) SetTitle(title string) {
	n.Title = &title
}

// Link is a URL with metadata and child notes.
type Link struct {
	ID          uuid.UUID      `json:"id"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Description *string        `json:"description,omitempty"`
	Author      []string       `json:"author"`
	Tags        []string       `json:"tags"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
	Notes       map[string]Note `json:"notes"`
}

// NewLink builds a Link whose title defaults to its url.
func NewLink(url string, now time.Time) Link {
	ts := now.UnixMilli()
	return Link{
		ID:        uuid.New(),
		Title:     url,
		URL:       url,
		Author:    []string{},
		Tags:      []string{},
		CreatedAt: ts,
		UpdatedAt: ts,
		Notes:     map[string]Note{},
	}
}

// touch bumps UpdatedAt to now, guaranteeing UpdatedAt >= CreatedAt.
func (l *Link) touch(now time.Time) {
	ts := now.UnixMilli()
	if ts < l.CreatedAt {
		ts = l.CreatedAt
	}
	l.UpdatedAt = ts
}

// SetTitle updates the title and bumps UpdatedAt.
func (l *Link) SetTitle(title string, now time.Time) {
	l.Title = title
	l.touch(now)
}

// SetDescription updates the description and bumps UpdatedAt.
func (l *Link) SetDescription(description string, now time.Time) {
	l.Description = &description
	l.touch(now)
}

// AddAuthor appends an author, preserving position order.
func (l *Link) AddAuthor(author string, now time.Time) {
	l.Author = append(l.Author, author)
	l.touch(now)
}

// AddTag adds a tag if not already present; a no-op for duplicates.
func (l *Link) AddTag(tag string, now time.Time) {
	for _, t := range l.Tags {
		if t == tag {
			return
		}
	}
	l.Tags = append(l.Tags, tag)
	l.touch(now)
}

// SetTags replaces the tag list wholesale, preserving the given order.
func (l *Link) SetTags(tags []string, now time.Time) {
	l.Tags = append([]string(nil), tags...)
	l.touch(now)
}

// AddNote attaches a note to the link and bumps the link's UpdatedAt.
func (l *Link) AddNote(note Note, now time.Time) {
	if l.Notes == nil {
		l.Notes = map[string]Note{}
	}
	l.Notes[note.ID.String()] = note
	l.touch(now)
}

// RemoveNote removes a note by id and bumps the link's UpdatedAt.
func (l *Link) RemoveNote(id uuid.UUID, now time.Time) {
	delete(l.Notes, id.String())
	l.touch(now)
}

// SortedNotes returns the link's notes ordered by CreatedAt ascending.
func (l *Link) SortedNotes() []Note {
	notes := make([]Note, 0, len(l.Notes))
	for _, n := range l.Notes {
		notes = append(notes, n)
	}
	for i := 1; i < len(notes); i++ {
		for j := i; j > 0 && notes[j].CreatedAt < notes[j-1].CreatedAt; j-- {
			notes[j], notes[j-1] = notes[j-1], notes[j]
		}
	}
	return notes
}
