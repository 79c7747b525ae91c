package realtime

import (
	"maps"
	"sync"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// DocKey identifies one cached document view.
type DocKey struct {
	Type domain.EntityType
	ID   string
}

// ListKey identifies the first page of a factory-scoped list view.
type ListKey struct {
	Type      domain.EntityType
	FactoryID string
}

// Document is a read-only snapshot of a cached entity. Fields is a shallow
// copy; callers must not mutate nested values.
type Document struct {
	Version int
	Fields  map[string]any
}

type cachedDoc struct {
	version int
	fields  map[string]any
	// live turns false on invalidation. The version survives so the stale
	// guard keeps rejecting out-of-order events while a refetch is pending.
	live bool
}

type cachedList struct {
	generation int
}

// ApplyResult summarizes what one event batch did to the cache.
type ApplyResult struct {
	PatchedDocs       int
	InvalidatedDocs   int
	ListInvalidations int
	DroppedStale      int
}

// ViewCache is the subscriber-side state keeper. It holds the documents and
// list heads currently on screen and applies event batches to them: stale
// events are dropped by the per-entity version guard, update events patch or
// invalidate cached documents, and membership events bump only the list head
// generation of the affected factory and type.
type ViewCache struct {
	mu    sync.Mutex
	docs  map[DocKey]*cachedDoc
	lists map[ListKey]*cachedList
}

// NewViewCache builds an empty cache.
func NewViewCache() *ViewCache {
	return &ViewCache{
		docs:  make(map[DocKey]*cachedDoc),
		lists: make(map[ListKey]*cachedList),
	}
}

// PutDoc stores a fetched document snapshot and marks the view live.
func (c *ViewCache) PutDoc(key DocKey, version int, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[key] = &cachedDoc{version: version, fields: maps.Clone(fields), live: true}
}

// Doc returns the cached document. Invalidated or unknown views read as
// missing, signalling the caller to refetch.
func (c *ViewCache) Doc(key DocKey) (Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[key]
	if !ok || !doc.live {
		return Document{}, false
	}
	return Document{Version: doc.version, Fields: maps.Clone(doc.fields)}, true
}

// Forget drops a document view entirely, for example on navigation away.
func (c *ViewCache) Forget(key DocKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, key)
}

// WatchList starts tracking a list head. Generation bumps tell the caller
// the first page must be refetched.
func (c *ViewCache) WatchList(key ListKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lists[key]; !ok {
		c.lists[key] = &cachedList{}
	}
}

// UnwatchList stops tracking a list head.
func (c *ViewCache) UnwatchList(key ListKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lists, key)
}

// ListGeneration reports the current generation of a watched list head.
// Unwatched lists report zero.
func (c *ViewCache) ListGeneration(key ListKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if list, ok := c.lists[key]; ok {
		return list.generation
	}
	return 0
}

// Apply folds one event batch into the cache. Within a batch each affected
// list head is bumped at most once, so a burst of creates coalesced into one
// window still costs a single head refetch.
func (c *ViewCache) Apply(events []Event) ApplyResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res ApplyResult
	bumped := make(map[ListKey]struct{})

	for _, event := range events {
		docKey := DocKey{Type: event.Type, ID: event.ID}
		doc, cached := c.docs[docKey]

		// Version guard: never let an out-of-order event regress state.
		if cached && event.Version > 0 && event.Version <= doc.version {
			res.DroppedStale++
			continue
		}

		switch event.Action {
		case domain.ActionCreate, domain.ActionDelete:
			if event.Action == domain.ActionDelete && cached {
				delete(c.docs, docKey)
				res.InvalidatedDocs++
			}
			listKey := ListKey{Type: event.Type, FactoryID: event.FactoryID}
			if _, done := bumped[listKey]; done {
				continue
			}
			if list, ok := c.lists[listKey]; ok {
				list.generation++
				bumped[listKey] = struct{}{}
				res.ListInvalidations++
			}
		default:
			if !cached {
				continue
			}
			if doc.live && len(event.ChangedKeys) > 0 {
				for _, key := range event.ChangedKeys {
					delete(doc.fields, key)
				}
				doc.version = event.Version
				res.PatchedDocs++
				continue
			}
			doc.live = false
			doc.version = event.Version
			res.InvalidatedDocs++
		}
	}
	return res
}

// Resync marks every visible view for one refetch after a transport
// reconnect. Document versions survive, so events raced during the outage
// still bounce off the guard. Historical events are never replayed.
func (c *ViewCache) Resync() (docs, lists int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range c.docs {
		if doc.live {
			doc.live = false
			docs++
		}
	}
	for _, list := range c.lists {
		list.generation++
		lists++
	}
	return docs, lists
}
