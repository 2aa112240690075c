package models

import "sort"

// Watermark is the per-channel record of which message identifiers have
// already been forwarded. Seen holds the ids still retained in the store;
// MaxID is the highest id ever committed and survives compaction, so
// identifiers at or below it are treated as forwarded even after their
// individual entries have been pruned.
type Watermark struct {
	ChannelID   string
	Seen        map[string]struct{}
	MaxID       string
	Initialized bool
}

// NewWatermark returns an empty watermark for a channel.
func NewWatermark(channelID string) *Watermark {
	return &Watermark{
		ChannelID: channelID,
		Seen:      make(map[string]struct{}),
	}
}

// Contains reports whether id has already been forwarded.
func (w *Watermark) Contains(id string) bool {
	if _, ok := w.Seen[id]; ok {
		return true
	}
	if w.MaxID == "" {
		return false
	}
	return CompareMessageIDs(id, w.MaxID) <= 0
}

// Add records id as forwarded, advancing MaxID when it is newer.
func (w *Watermark) Add(id string) {
	if w.Seen == nil {
		w.Seen = make(map[string]struct{})
	}
	w.Seen[id] = struct{}{}
	if w.MaxID == "" || CompareMessageIDs(id, w.MaxID) > 0 {
		w.MaxID = id
	}
}

// Size returns the number of retained identifiers.
func (w *Watermark) Size() int {
	return len(w.Seen)
}

// Compact drops entries covered by the MaxID floor, keeping at most keep of
// the newest ids. Contains stays exact: every dropped id is at or below
// MaxID, so the floor still reports it as forwarded.
func (w *Watermark) Compact(keep int) {
	if keep < 1 {
		keep = 1
	}
	if len(w.Seen) <= keep {
		return
	}

	ids := make([]string, 0, len(w.Seen))
	for id := range w.Seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return CompareMessageIDs(ids[i], ids[j]) > 0
	})

	w.Seen = make(map[string]struct{}, keep)
	for _, id := range ids[:keep] {
		w.Seen[id] = struct{}{}
	}
}
