package antinuke

import (
	"sort"
	"sync"
	"time"
)

// Exemption is permanent when ExpiresAt is nil.
type Exemption struct {
	ActorID   string     `json:"actor_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (e Exemption) Permanent() bool {
	return e.ExpiresAt == nil
}

// Active reports whether the exemption still applies at now. An exemption
// expiring exactly at now no longer applies.
func (e Exemption) Active(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

type ExemptionRegistry struct {
	mu        sync.RWMutex
	permanent map[string]struct{}
	temporary map[string]time.Time
}

func NewExemptionRegistry(exemptions []Exemption) *ExemptionRegistry {
	r := &ExemptionRegistry{
		permanent: make(map[string]struct{}),
		temporary: make(map[string]time.Time),
	}
	for _, exemption := range exemptions {
		if exemption.ActorID == "" {
			continue
		}
		if exemption.ExpiresAt == nil {
			r.permanent[exemption.ActorID] = struct{}{}
			continue
		}
		r.temporary[exemption.ActorID] = *exemption.ExpiresAt
	}
	return r
}

// IsExempt checks the permanent set first, then unexpired temporary entries.
// Expired entries never grant exemption even before they are purged.
func (r *ExemptionRegistry) IsExempt(actorID string, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.permanent[actorID]; ok {
		return true
	}
	expiresAt, ok := r.temporary[actorID]
	return ok && now.Before(expiresAt)
}

func (r *ExemptionRegistry) AddPermanent(actorID string) Exemption {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.temporary, actorID)
	r.permanent[actorID] = struct{}{}
	return Exemption{ActorID: actorID}
}

// AddTemporary replaces any temporary entry for the actor. A non-positive
// duration yields an exemption that is already expired.
func (r *ExemptionRegistry) AddTemporary(actorID string, duration time.Duration, now time.Time) Exemption {
	if duration < 0 {
		duration = 0
	}
	expiresAt := now.Add(duration)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.temporary[actorID] = expiresAt
	return Exemption{ActorID: actorID, ExpiresAt: &expiresAt}
}

// Remove strips the actor from both lists under one lock.
func (r *ExemptionRegistry) Remove(actorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, permanent := r.permanent[actorID]
	_, temporary := r.temporary[actorID]
	delete(r.permanent, actorID)
	delete(r.temporary, actorID)
	return permanent || temporary
}

// Purge drops expired temporary entries and returns how many were removed.
func (r *ExemptionRegistry) Purge(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for actorID, expiresAt := range r.temporary {
		if !now.Before(expiresAt) {
			delete(r.temporary, actorID)
			removed++
		}
	}
	return removed
}

// List returns every stored exemption, expired ones included, sorted by actor.
func (r *ExemptionRegistry) List() []Exemption {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Exemption, 0, len(r.permanent)+len(r.temporary))
	for actorID := range r.permanent {
		list = append(list, Exemption{ActorID: actorID})
	}
	for actorID, expiresAt := range r.temporary {
		if _, ok := r.permanent[actorID]; ok {
			continue
		}
		value := expiresAt
		list = append(list, Exemption{ActorID: actorID, ExpiresAt: &value})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ActorID < list[j].ActorID })
	return list
}
