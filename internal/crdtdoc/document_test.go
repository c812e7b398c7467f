package crdtdoc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcraddock/rott/internal/model"
)

func TestNewDocumentIsEmpty(t *testing.T) {
	doc, err := New()
	require.NoError(t, err)
	assert.Empty(t, doc.GetAllLinks())
	assert.Equal(t, 0, doc.LinkCount())
}

func TestAddAndGetLink(t *testing.T) {
	doc, err := New()
	require.NoError(t, err)

	now := time.Now()
	link := model.NewLink("https://example.com", now)
	link.SetTitle("Example Site", now)
	link.AddTag("test", now)

	doc.AddLink(link)

	got, err := doc.GetLink(link.ID)
	require.NoError(t, err)
	assert.Equal(t, link.ID, got.ID)
	assert.Equal(t, "Example Site", got.Title)
	assert.Equal(t, "https://example.com", got.URL)
}

func TestDeleteLinkRemovesNotesTransitively(t *testing.T) {
	doc, err := New()
	require.NoError(t, err)

	now := time.Now()
	link := model.NewLink("https://example.com", now)
	link.AddNote(model.NewNote("hi", now), now)
	doc.AddLink(link)

	doc.DeleteLink(link.ID)

	_, err = doc.GetLink(link.ID)
	assert.Error(t, err)
	assert.Equal(t, 0, doc.NoteCount())
}

func TestGetLinkByURLNormalized(t *testing.T) {
	doc, err := New()
	require.NoError(t, err)

	now := time.Now()
	doc.AddLink(model.NewLink("https://Example.COM/path/", now))

	found, ok := doc.GetLinkByURL("https://example.com/path/")
	assert.True(t, ok)
	assert.NotEmpty(t, found.ID)
}

func TestSearchLinksByTitle(t *testing.T) {
	doc, err := New()
	require.NoError(t, err)

	now := time.Now()
	link := model.NewLink("https://rust-lang.org", now)
	link.SetTitle("Rust Programming Language", now)
	doc.AddLink(link)

	results := doc.SearchLinks("Programming")
	require.Len(t, results, 1)
	assert.Equal(t, "Rust Programming Language", results[0].Title)
}

func TestGetTagsWithCounts(t *testing.T) {
	doc, err := New()
	require.NoError(t, err)

	now := time.Now()
	link1 := model.NewLink("https://one.com", now)
	link1.AddTag("rust", now)
	link1.AddTag("web", now)
	doc.AddLink(link1)

	link2 := model.NewLink("https://two.com", now)
	link2.AddTag("rust", now)
	doc.AddLink(link2)

	counts := doc.GetTagsWithCounts()
	require.NotEmpty(t, counts)
	assert.Equal(t, "rust", counts[0].Name)
	assert.Equal(t, int64(2), counts[0].Count)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	doc, err := New()
	require.NoError(t, err)

	now := time.Now()
	doc.AddLink(model.NewLink("https://example.com", now))

	bytes, err := doc.Save()
	require.NoError(t, err)

	loaded, err := Load(bytes)
	require.NoError(t, err)

	assert.Equal(t, doc.RootID(), loaded.RootID())
	assert.Len(t, loaded.GetAllLinks(), 1)
}

func TestAddNoteToLinkBumpsUpdatedAt(t *testing.T) {
	doc, err := New()
	require.NoError(t, err)

	now := time.Now()
	link := model.NewLink("https://example.com", now)
	doc.AddLink(link)

	later := now.Add(time.Minute)
	require.NoError(t, doc.AddNoteToLink(link.ID, model.NewNote("first", later), later))

	got, err := doc.GetLink(link.ID)
	require.NoError(t, err)
	assert.Len(t, got.Notes, 1)
	assert.Greater(t, got.UpdatedAt, got.CreatedAt)
}

func TestMergeIsCommutative(t *testing.T) {
	now := time.Now()

	base, err := New()
	require.NoError(t, err)

	a := base.Fork()
	b := base.Fork()

	linkA := model.NewLink("https://a.com", now)
	a.AddLink(linkA)

	linkB := model.NewLink("https://b.com", now.Add(time.Second))
	b.AddLink(linkB)

	ab := a.Fork()
	ab.Merge(b)

	ba := b.Fork()
	ba.Merge(a)

	assert.Equal(t, len(ab.GetAllLinks()), len(ba.GetAllLinks()))
}
