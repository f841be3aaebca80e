package reconcile

import "sort"

// indexByID returns the timeline index of the entry with the given message
// id, or -1.
func indexByID(timeline []Entry, id string) int {
	for i := range timeline {
		if timeline[i].Msg.ID == id {
			return i
		}
	}
	return -1
}

// indexByLocalID returns the index of the pending/failed entry carrying the
// given local id, or -1.
func indexByLocalID(timeline []Entry, localID string) int {
	if localID == "" {
		return -1
	}
	for i := range timeline {
		if timeline[i].Msg.LocalID == localID && (timeline[i].Pending || timeline[i].Failed) {
			return i
		}
	}
	return -1
}

// insertOrdered places e into timeline keeping CreatedAt order. Fast path
// appends when e is not older than the tail; otherwise a binary search finds
// the slot. Equal timestamps insert after existing entries, preserving
// arrival order for ties.
func insertOrdered(timeline []Entry, e Entry) []Entry {
	n := len(timeline)
	if n == 0 || timeline[n-1].Msg.CreatedAt <= e.Msg.CreatedAt {
		return append(timeline, e)
	}
	i := sort.Search(n, func(i int) bool {
		return timeline[i].Msg.CreatedAt > e.Msg.CreatedAt
	})
	timeline = append(timeline, Entry{})
	copy(timeline[i+1:], timeline[i:])
	timeline[i] = e
	return timeline
}

// removeAt deletes the entry at index i.
func removeAt(timeline []Entry, i int) []Entry {
	return append(timeline[:i], timeline[i+1:]...)
}

// clone returns a copy of timeline so reducers never alias a previous
// state's backing array.
func clone(timeline []Entry) []Entry {
	return append([]Entry(nil), timeline...)
}
