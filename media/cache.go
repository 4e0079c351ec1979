package media

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const fallbackMime = "application/octet-stream"

// HandleCache maps record ids to live, serveable payload handles. Each id
// owns at most one handle; releasing the id invalidates its URL and frees
// the payload.
type HandleCache struct {
	mu      sync.Mutex
	byID    map[string]*handle
	byToken map[string]*handle
}

type handle struct {
	id    string
	token string
	mime  string
	data  []byte
}

// NewHandleCache builds an empty cache.
func NewHandleCache() *HandleCache {
	return &HandleCache{
		byID:    make(map[string]*handle),
		byToken: make(map[string]*handle),
	}
}

// Acquire returns the serving path for the record's payload, minting a new
// handle when none is live. Repeated calls for the same id return the same
// path without holding the payload twice.
func (c *HandleCache) Acquire(id, mime string, payload []byte) string {
	if c == nil {
		return ""
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" || len(payload) == 0 {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byID[trimmedID]; ok {
		return handlePath(existing.token)
	}

	entry := &handle{
		id:    trimmedID,
		token: uuid.NewString(),
		mime:  strings.TrimSpace(mime),
		data:  payload,
	}
	if entry.mime == "" {
		entry.mime = fallbackMime
	}

	c.byID[trimmedID] = entry
	c.byToken[entry.token] = entry
	return handlePath(entry.token)
}

// Lookup resolves a token to its payload and MIME type.
func (c *HandleCache) Lookup(token string) ([]byte, string, bool) {
	if c == nil {
		return nil, "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byToken[strings.TrimSpace(token)]
	if !ok {
		return nil, "", false
	}
	return entry.data, entry.mime, true
}

// Release drops the handles for the given ids. Unknown ids are ignored.
func (c *HandleCache) Release(ids ...string) {
	if c == nil || len(ids) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		c.dropLocked(strings.TrimSpace(id))
	}
}

// RetainOnly drops every handle whose id is not in keep. The catalog calls
// this after recomputing the visible set so payload memory stays bounded by
// what is on screen.
func (c *HandleCache) RetainOnly(keep []string) {
	if c == nil {
		return
	}

	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			keepSet[trimmed] = struct{}{}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range c.byID {
		if _, ok := keepSet[id]; !ok {
			c.dropLocked(id)
		}
	}
}

// Len reports the number of live handles.
func (c *HandleCache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

func (c *HandleCache) dropLocked(id string) {
	entry, ok := c.byID[id]
	if !ok {
		return
	}
	delete(c.byID, id)
	delete(c.byToken, entry.token)
}

func handlePath(token string) string {
	return "/media/" + token
}
