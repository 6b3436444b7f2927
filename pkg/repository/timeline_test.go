package repository_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/repository"
)

func newTimelineStore(t *testing.T) (repository.Timeline, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeline_store.json")
	store, err := repository.NewTimeline(path)
	gt.NoError(t, err)
	return store, path
}

func TestItemLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTimelineStore(t)

	created, err := store.AddItem(ctx, &model.TimelineItem{
		Title:  "T",
		UserID: "u1",
	})
	gt.NoError(t, err)
	gt.NotEqual(t, created.ID, model.ItemID(""))
	gt.Equal(t, created.Status, "unread")
	gt.Equal(t, created.PostedBy, "agent")
	gt.False(t, created.CreatedAt.IsZero())
	gt.Nil(t, created.UpdatedAt)

	got, err := store.GetItem(ctx, created.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Title, "T")
	gt.Equal(t, got.UserID, "u1")
	gt.Nil(t, got.UpdatedAt)

	gt.NoError(t, store.DeleteItem(ctx, created.ID))

	_, err = store.GetItem(ctx, created.ID)
	gt.True(t, err != nil)

	err = store.DeleteItem(ctx, created.ID)
	gt.True(t, err != nil)
}

func TestUpdateItemPartial(t *testing.T) {
	ctx := context.Background()
	store, _ := newTimelineStore(t)

	created, err := store.AddItem(ctx, &model.TimelineItem{
		Title:    "original title",
		Body:     "original body",
		Metadata: map[string]any{"b": 2},
	})
	gt.NoError(t, err)

	status := "read"
	updated, err := store.UpdateItem(ctx, created.ID, &model.ItemUpdate{Status: &status})
	gt.NoError(t, err)
	gt.Equal(t, updated.Status, "read")
	gt.Equal(t, updated.Title, "original title")
	gt.Equal(t, updated.Body, "original body")
	gt.NotNil(t, updated.UpdatedAt)
}

func TestUpdateItemMetadataMerge(t *testing.T) {
	ctx := context.Background()
	store, _ := newTimelineStore(t)

	created, err := store.AddItem(ctx, &model.TimelineItem{
		Title:    "T",
		Metadata: map[string]any{"b": 2},
	})
	gt.NoError(t, err)

	_, err = store.UpdateItem(ctx, created.ID, &model.ItemUpdate{
		Metadata: map[string]any{"a": 1},
	})
	gt.NoError(t, err)

	got, err := store.GetItem(ctx, created.ID)
	gt.NoError(t, err)
	gt.Map(t, got.Metadata).HasKey("a")
	gt.Map(t, got.Metadata).HasKey("b")
	gt.Equal(t, got.Metadata["a"].(float64), 1)
	gt.Equal(t, got.Metadata["b"].(float64), 2)
}

func TestListItemsFilter(t *testing.T) {
	ctx := context.Background()
	store, _ := newTimelineStore(t)

	_, err := store.AddItem(ctx, &model.TimelineItem{Title: "a", UserID: "u1"})
	gt.NoError(t, err)
	_, err = store.AddItem(ctx, &model.TimelineItem{Title: "b", UserID: "u1", Status: "read"})
	gt.NoError(t, err)
	_, err = store.AddItem(ctx, &model.TimelineItem{Title: "c", UserID: "u2"})
	gt.NoError(t, err)

	items, err := store.ListItems(ctx, "u1", "")
	gt.NoError(t, err)
	gt.Equal(t, len(items), 2)

	items, err = store.ListItems(ctx, "u1", "read")
	gt.NoError(t, err)
	gt.Equal(t, len(items), 1)
	gt.Equal(t, items[0].Title, "b")

	items, err = store.ListItems(ctx, "nobody", "")
	gt.NoError(t, err)
	gt.Equal(t, len(items), 0)
}

func TestItemsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	store, path := newTimelineStore(t)

	created, err := store.AddItem(ctx, &model.TimelineItem{Title: "persisted"})
	gt.NoError(t, err)

	reopened, err := repository.NewTimeline(path)
	gt.NoError(t, err)

	got, err := reopened.GetItem(ctx, created.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Title, "persisted")
}

func TestCorruptStoreIsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "timeline_store.json")
	gt.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := repository.NewTimeline(path)
	gt.NoError(t, err)

	items, err := store.ListItems(ctx, "default", "")
	gt.NoError(t, err)
	gt.Equal(t, len(items), 0)

	// The corrupt document is overwritten by the next write.
	created, err := store.AddItem(ctx, &model.TimelineItem{Title: "fresh"})
	gt.NoError(t, err)

	got, err := store.GetItem(ctx, created.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Title, "fresh")
}

func TestCallersReceiveCopies(t *testing.T) {
	ctx := context.Background()
	store, _ := newTimelineStore(t)

	created, err := store.AddItem(ctx, &model.TimelineItem{Title: "T", Metadata: map[string]any{"k": "v"}})
	gt.NoError(t, err)

	created.Title = "mutated"
	created.Metadata["k"] = "mutated"

	got, err := store.GetItem(ctx, created.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Title, "T")
	gt.Equal(t, got.Metadata["k"], "v")
}
