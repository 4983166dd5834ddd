package antinuke

import (
	"context"
	"slices"
	"sync"
	"time"
)

const DefaultSnapshotCapacity = 5

type Overwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"`
	Allow int64  `json:"allow"`
	Deny  int64  `json:"deny"`
}

// ResourceSnapshot holds the reconstructible attributes of a channel,
// category or role.
type ResourceSnapshot struct {
	ID          string       `json:"id"`
	Type        ResourceType `json:"type"`
	Name        string       `json:"name"`
	ParentID    string       `json:"parent_id,omitempty"`
	ChannelKind int          `json:"channel_kind,omitempty"`
	Position    int          `json:"position"`
	Topic       string       `json:"topic,omitempty"`
	NSFW        bool         `json:"nsfw,omitempty"`
	Bitrate     int          `json:"bitrate,omitempty"`
	UserLimit   int          `json:"user_limit,omitempty"`
	RateLimit   int          `json:"rate_limit,omitempty"`
	Overwrites  []Overwrite  `json:"overwrites,omitempty"`
	Color       int          `json:"color,omitempty"`
	Hoist       bool         `json:"hoist,omitempty"`
	Mentionable bool         `json:"mentionable,omitempty"`
	Permissions int64        `json:"permissions,omitempty"`
}

type ServerSnapshot struct {
	GuildID    string             `json:"guild_id"`
	CapturedAt time.Time          `json:"captured_at"`
	Resources  []ResourceSnapshot `json:"resources"`
}

func (s ServerSnapshot) Find(resourceID string, resourceType ResourceType) (ResourceSnapshot, bool) {
	for _, resource := range s.Resources {
		if resource.ID == resourceID && resource.Type == resourceType {
			return resource, true
		}
	}
	return ResourceSnapshot{}, false
}

// RestoredResource is the result of a best-effort recreation. Lossy names the
// attributes that did not round-trip.
type RestoredResource struct {
	Snapshot   ResourceSnapshot `json:"snapshot"`
	NewID      string           `json:"new_id"`
	CapturedAt time.Time        `json:"captured_at"`
	Lossy      []string         `json:"lossy"`
}

// Restorer recreates a resource from a snapshot and reports which attributes
// it had to drop.
type Restorer interface {
	Recreate(ctx context.Context, guildID string, snapshot ResourceSnapshot) (newID string, dropped []string, err error)
}

// RestorationLog is a fixed-capacity ring of server snapshots, oldest first.
type RestorationLog struct {
	mu       sync.RWMutex
	capacity int
	ring     []ServerSnapshot
}

func NewRestorationLog(capacity int) *RestorationLog {
	if capacity <= 0 {
		capacity = DefaultSnapshotCapacity
	}
	return &RestorationLog{capacity: capacity, ring: make([]ServerSnapshot, 0, capacity)}
}

// Capture appends a snapshot and evicts the oldest one once full.
func (l *RestorationLog) Capture(snapshot ServerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ring) == l.capacity {
		copy(l.ring, l.ring[1:])
		l.ring = l.ring[:len(l.ring)-1]
	}
	l.ring = append(l.ring, snapshot)
}

// Load replaces the ring with persisted snapshots, keeping the newest.
func (l *RestorationLog) Load(snapshots []ServerSnapshot) {
	l.mu.Lock()
	l.ring = l.ring[:0]
	l.mu.Unlock()
	for _, snapshot := range snapshots {
		l.Capture(snapshot)
	}
}

func (l *RestorationLog) Snapshots() []ServerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ServerSnapshot, len(l.ring))
	copy(out, l.ring)
	return out
}

// Rebind rewrites every snapshot holding oldID so the resource, and any
// channel parented under it, point at newID. It returns the rewritten
// snapshots so they can be persisted.
func (l *RestorationLog) Rebind(oldID, newID string) []ServerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	var patched []ServerSnapshot
	for i, snapshot := range l.ring {
		changed := false
		resources := make([]ResourceSnapshot, len(snapshot.Resources))
		copy(resources, snapshot.Resources)
		for j := range resources {
			if resources[j].ID == oldID {
				resources[j].ID = newID
				changed = true
			}
			if resources[j].ParentID == oldID {
				resources[j].ParentID = newID
				changed = true
			}
		}
		if !changed {
			continue
		}
		snapshot.Resources = resources
		l.ring[i] = snapshot
		patched = append(patched, snapshot)
	}
	return patched
}

func (l *RestorationLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ring)
}

// Lookup finds the newest snapshot captured at or before the deletion that
// still holds the resource.
func (l *RestorationLog) Lookup(resourceID string, resourceType ResourceType, deletedAt time.Time) (ResourceSnapshot, time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.ring) - 1; i >= 0; i-- {
		snapshot := l.ring[i]
		if snapshot.CapturedAt.After(deletedAt) {
			continue
		}
		if resource, ok := snapshot.Find(resourceID, resourceType); ok {
			return resource, snapshot.CapturedAt, true
		}
	}
	return ResourceSnapshot{}, time.Time{}, false
}

// Restore recreates a deleted resource. Without a snapshot it returns
// ErrRestorationUnavailable and never fabricates a resource.
func (l *RestorationLog) Restore(ctx context.Context, restorer Restorer, guildID, resourceID string, resourceType ResourceType, deletedAt time.Time) (*RestoredResource, error) {
	snapshot, capturedAt, ok := l.Lookup(resourceID, resourceType, deletedAt)
	if !ok {
		return nil, ErrRestorationUnavailable
	}
	if restorer == nil {
		return nil, &ExternalActionError{Action: "restore", Err: ErrRestorationUnavailable}
	}
	newID, dropped, err := restorer.Recreate(ctx, guildID, snapshot)
	if err != nil {
		return nil, &ExternalActionError{Action: "restore", Err: err}
	}

	lossy := []string{"id", "position"}
	if len(snapshot.Overwrites) > 0 {
		lossy = append(lossy, "permission_overwrites")
	}
	for _, field := range dropped {
		if !slices.Contains(lossy, field) {
			lossy = append(lossy, field)
		}
	}
	return &RestoredResource{Snapshot: snapshot, NewID: newID, CapturedAt: capturedAt, Lossy: lossy}, nil
}
