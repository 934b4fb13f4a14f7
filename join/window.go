package join

import "container/list"

type entry struct {
	key    Key
	record *Record
}

// window keeps the pending records of one side in arrival order so the oldest
// entry can be found without scanning the map.
type window struct {
	entries map[Key]*list.Element
	order   *list.List
}

func newWindow() *window {
	return &window{
		entries: make(map[Key]*list.Element),
		order:   list.New(),
	}
}

func (w *window) write(key Key, record *Record) (replaced *Record) {
	if el, ok := w.entries[key]; ok {
		replaced = w.order.Remove(el).(*entry).record
	}

	w.entries[key] = w.order.PushBack(&entry{key: key, record: record})
	return replaced
}

func (w *window) read(key Key) (*Record, bool) {
	el, ok := w.entries[key]
	if !ok {
		return nil, false
	}

	return el.Value.(*entry).record, true
}

func (w *window) take(key Key) (*Record, bool) {
	el, ok := w.entries[key]
	if !ok {
		return nil, false
	}

	delete(w.entries, key)
	return w.order.Remove(el).(*entry).record, true
}

func (w *window) oldest() (Key, *Record, bool) {
	el := w.order.Front()
	if el == nil {
		return ``, nil, false
	}

	e := el.Value.(*entry)
	return e.key, e.record, true
}

// purge removes every record matching match and returns them in arrival order.
func (w *window) purge(match func(record *Record) bool) []*Record {
	var purged []*Record
	for el := w.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry); match(e.record) {
			delete(w.entries, e.key)
			w.order.Remove(el)
			purged = append(purged, e.record)
		}
		el = next
	}

	return purged
}

func (w *window) len() int {
	return len(w.entries)
}

func (w *window) keys() []Key {
	keys := make([]Key, 0, len(w.entries))
	for el := w.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}

	return keys
}
