package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLinkDefaultsTitleToURL(t *testing.T) {
	now := time.Now()
	link := NewLink("https://example.com", now)
	assert.Equal(t, "https://example.com", link.Title)
	assert.Equal(t, link.CreatedAt, link.UpdatedAt)
}

func TestAddTagIsIdempotent(t *testing.T) {
	now := time.Now()
	link := NewLink("https://example.com", now)
	link.AddTag("rust", now)
	link.AddTag("rust", now.Add(time.Second))
	assert.Equal(t, []string{"rust"}, link.Tags)
}

func TestSetTagsReplacesWholesale(t *testing.T) {
	now := time.Now()
	link := NewLink("https://example.com", now)
	link.AddTag("rust", now)
	link.SetTags([]string{"web", "go"}, now)
	assert.Equal(t, []string{"web", "go"}, link.Tags)
}

func TestTouchNeverMovesBeforeCreatedAt(t *testing.T) {
	now := time.Now()
	link := NewLink("https://example.com", now)
	past := now.Add(-time.Hour)
	link.SetTitle("new title", past)
	assert.GreaterOrEqual(t, link.UpdatedAt, link.CreatedAt)
}

func TestNotesSortedByCreatedAt(t *testing.T) {
	now := time.Now()
	link := NewLink("https://example.com", now)

	second := NewNote("second", now.Add(2*time.Second))
	first := NewNote("first", now.Add(1*time.Second))

	link.AddNote(second, now)
	link.AddNote(first, now)

	sorted := link.SortedNotes()
	require.Len(t, sorted, 2)
	assert.Equal(t, "first", sorted[0].Body)
	assert.Equal(t, "second", sorted[1].Body)
}

func TestRemoveNote(t *testing.T) {
	now := time.Now()
	link := NewLink("https://example.com", now)
	note := NewNote("body", now)
	link.AddNote(note, now)
	link.RemoveNote(note.ID, now)
	assert.Empty(t, link.Notes)
}
