package msgcache

import (
	"container/list"
	"sort"
	"time"
)

// roomCache is an LRU over one room's messages. order runs from least to
// most recently used; index maps message id to its list element.
type roomCache struct {
	roomID       string
	index        map[string]*list.Element
	order        *list.List
	lastActivity time.Time
	maxSize      int
}

func newRoomCache(roomID string, maxSize int, now time.Time) *roomCache {
	return &roomCache{
		roomID:       roomID,
		index:        make(map[string]*list.Element),
		order:        list.New(),
		lastActivity: now,
		maxSize:      maxSize,
	}
}

func (rc *roomCache) add(m *Message, now time.Time) (evicted []string, err error) {
	if el, ok := rc.index[m.ID]; ok {
		el.Value = m
		rc.order.MoveToBack(el)
	} else {
		rc.index[m.ID] = rc.order.PushBack(m)
	}
	rc.lastActivity = now

	for len(rc.index) > rc.maxSize {
		head := rc.order.Front()
		if head == nil {
			break
		}
		old := rc.order.Remove(head).(*Message)
		delete(rc.index, old.ID)
		evicted = append(evicted, old.ID)
	}
	if len(rc.index) > rc.maxSize || len(rc.index) != rc.order.Len() {
		return evicted, ErrInvariant
	}
	return evicted, nil
}

func (rc *roomCache) use(el *list.Element, now time.Time) *Message {
	m := el.Value.(*Message)
	m.touch(now)
	rc.order.MoveToBack(el)
	return m
}

// getAll returns copies sorted by creation time, the newest limit of them
// when limit > 0. Every returned message counts as used.
func (rc *roomCache) getAll(limit int, now time.Time) []Message {
	rc.lastActivity = now
	els := make([]*list.Element, 0, len(rc.index))
	for _, el := range rc.index {
		els = append(els, el)
	}
	sort.Slice(els, func(i, j int) bool {
		return els[i].Value.(*Message).CreatedAt.Before(els[j].Value.(*Message).CreatedAt)
	})
	if limit > 0 && len(els) > limit {
		els = els[len(els)-limit:]
	}
	out := make([]Message, 0, len(els))
	for _, el := range els {
		out = append(out, *rc.use(el, now))
	}
	return out
}

// search returns copies of the messages match accepts. Hits are used in
// creation order, like getAll.
func (rc *roomCache) search(match func(*Message) bool, now time.Time) []Message {
	var hits []*list.Element
	for _, el := range rc.index {
		if match(el.Value.(*Message)) {
			hits = append(hits, el)
		}
	}
	if len(hits) == 0 {
		return nil
	}
	rc.lastActivity = now
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Value.(*Message).CreatedAt.Before(hits[j].Value.(*Message).CreatedAt)
	})
	out := make([]Message, 0, len(hits))
	for _, el := range hits {
		out = append(out, *rc.use(el, now))
	}
	return out
}

func (rc *roomCache) get(id string, now time.Time) (Message, bool) {
	el, ok := rc.index[id]
	if !ok {
		return Message{}, false
	}
	rc.lastActivity = now
	return *rc.use(el, now), true
}

func (rc *roomCache) update(id string, p Patch, now time.Time) (Message, bool) {
	el, ok := rc.index[id]
	if !ok {
		return Message{}, false
	}
	m := rc.use(el, now)
	p.apply(m, now)
	return *m, true
}

func (rc *roomCache) remove(id string) bool {
	el, ok := rc.index[id]
	if !ok {
		return false
	}
	rc.order.Remove(el)
	delete(rc.index, id)
	return true
}

// expire drops messages not used within ttl and returns how many went.
func (rc *roomCache) expire(now time.Time, ttl time.Duration) int {
	n := 0
	for el := rc.order.Front(); el != nil; {
		next := el.Next()
		m := el.Value.(*Message)
		if now.Sub(m.LastAccessedAt) > ttl {
			rc.order.Remove(el)
			delete(rc.index, m.ID)
			n++
		}
		el = next
	}
	return n
}

// ids returns message ids from least to most recently used.
func (rc *roomCache) ids() []string {
	out := make([]string, 0, rc.order.Len())
	for el := rc.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Message).ID)
	}
	return out
}
