package syncmodule

import (
	"regexp"
	"sort"
	"time"

	"github.com/yourusername/blinkd/internal/client"
	"github.com/yourusername/blinkd/internal/core"
)

var nonAlphanumeric = regexp.MustCompile(`\W+`)

// toAlphanumeric normalizes a device name the way the storage firmware
// reports it: every non-word run stripped.
func toAlphanumeric(name string) string {
	return nonAlphanumeric.ReplaceAllString(name, "")
}

// MediaItem is one locally stored clip record. Items are immutable
// values: ingesting a manifest never mutates an existing item.
type MediaItem struct {
	id         string
	cameraName string
	size       string
	createdAt  time.Time
}

// NewMediaItem builds an item from a manifest clip entry. The camera
// name is resolved through the module's name table before this point.
func NewMediaItem(clip client.ManifestClip, cameraName string) (MediaItem, error) {
	createdAt, err := core.ParseTimestamp(clip.CreatedAt)
	if err != nil {
		return MediaItem{}, err
	}
	return MediaItem{
		id:         clip.ID,
		cameraName: cameraName,
		size:       clip.Size,
		createdAt:  createdAt,
	}, nil
}

func (i MediaItem) ID() string           { return i.id }
func (i MediaItem) CameraName() string   { return i.cameraName }
func (i MediaItem) Size() string         { return i.size }
func (i MediaItem) CreatedAt() time.Time { return i.createdAt }

// URL expands the clip staging path for this item.
func (i MediaItem) URL(c *client.Client, networkID, syncID int, manifestID string) string {
	return c.LocalStorageClipURL(networkID, syncID, manifestID, i.id)
}

// Manifest is a set of media items ordered newest first. Insertion
// dedupes by clip id.
type Manifest struct {
	id    string
	items []MediaItem
	seen  map[string]struct{}
}

func NewManifest(id string) *Manifest {
	return &Manifest{id: id, seen: make(map[string]struct{})}
}

// ID returns the manifest id assigned by the sync module.
func (m *Manifest) ID() string {
	return m.id
}

// Insert adds an item at its sorted position. An item whose id is
// already present is ignored.
func (m *Manifest) Insert(item MediaItem) {
	if _, dup := m.seen[item.id]; dup {
		return
	}
	m.seen[item.id] = struct{}{}

	pos := sort.Search(len(m.items), func(i int) bool {
		return m.items[i].createdAt.Before(item.createdAt)
	})
	m.items = append(m.items, MediaItem{})
	copy(m.items[pos+1:], m.items[pos:])
	m.items[pos] = item
}

// Len returns the number of items in the set.
func (m *Manifest) Len() int {
	return len(m.items)
}

// Items returns all items, newest first.
func (m *Manifest) Items() []MediaItem {
	return append([]MediaItem(nil), m.items...)
}

// NewerThan returns the items created strictly after ref. The scan
// walks newest first and stops at the first item at or before ref, so
// its cost is proportional to the number of new items.
func (m *Manifest) NewerThan(ref time.Time) []MediaItem {
	var out []MediaItem
	for _, item := range m.items {
		if !item.createdAt.After(ref) {
			break
		}
		out = append(out, item)
	}
	return out
}
