package model

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

type ItemID string

// NewItemID generates a new unique ItemID
func NewItemID() ItemID {
	return ItemID(uuid.New().String())
}

// Default field values applied when a timeline item is created without them.
const (
	DefaultUserID   = "default"
	DefaultTitle    = "Untitled"
	DefaultStatus   = "unread"
	DefaultPostedBy = "agent"
)

// TimelineItem is a unit of work surfaced to a human or agent. Status is a
// free-form string ("unread" or an action verb set by the UI).
type TimelineItem struct {
	ID        ItemID         `json:"id"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Status    string         `json:"status"`
	PostedBy  string         `json:"posted_by"`
	Actions   []string       `json:"actions"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt *time.Time     `json:"updated_at"`
}

// Normalize fills in defaults for missing fields and stamps CreatedAt.
// UpdatedAt stays nil until the first update.
func (x *TimelineItem) Normalize(now time.Time) {
	if x.ID == "" {
		x.ID = NewItemID()
	}
	if x.UserID == "" {
		x.UserID = DefaultUserID
	}
	if x.Title == "" {
		x.Title = DefaultTitle
	}
	if x.Status == "" {
		x.Status = DefaultStatus
	}
	if x.PostedBy == "" {
		x.PostedBy = DefaultPostedBy
	}
	if x.Actions == nil {
		x.Actions = []string{}
	}
	if x.Metadata == nil {
		x.Metadata = map[string]any{}
	}
	x.CreatedAt = now
	x.UpdatedAt = nil
}

// Clone returns a deep-enough copy so that store callers never share the
// persisted representation.
func (x *TimelineItem) Clone() *TimelineItem {
	c := *x
	c.Actions = slices.Clone(x.Actions)
	c.Metadata = maps.Clone(x.Metadata)
	if x.UpdatedAt != nil {
		t := *x.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}

// ItemUpdate is a partial update. Nil fields are left untouched; Metadata is
// shallow-merged into the existing mapping, not replaced.
type ItemUpdate struct {
	Status   *string        `json:"status"`
	PostedBy *string        `json:"posted_by"`
	Title    *string        `json:"title"`
	Body     *string        `json:"body"`
	Actions  []string       `json:"actions"`
	Metadata map[string]any `json:"metadata"`
}

// Apply mutates the item with the supplied fields and stamps UpdatedAt.
func (u *ItemUpdate) Apply(item *TimelineItem, now time.Time) {
	if u.Status != nil {
		item.Status = *u.Status
	}
	if u.PostedBy != nil {
		item.PostedBy = *u.PostedBy
	}
	if u.Title != nil {
		item.Title = *u.Title
	}
	if u.Body != nil {
		item.Body = *u.Body
	}
	if u.Actions != nil {
		item.Actions = slices.Clone(u.Actions)
	}
	if u.Metadata != nil {
		if item.Metadata == nil {
			item.Metadata = map[string]any{}
		}
		maps.Copy(item.Metadata, u.Metadata)
	}
	t := now
	item.UpdatedAt = &t
}
