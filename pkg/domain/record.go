package domain

import "time"

// PublicationRecord is the finalized per-profile selection for one cycle.
// Slices are empty, never nil-vs-missing semantics; trend winners occupy two
// independent slots. Full items are kept (not just urls) so the run loop can
// mark their ids as published.
type PublicationRecord struct {
	ProfileName string
	GeneratedAt time.Time
	Photos      []ContentItem
	Videos      []ContentItem
	ShortForm   []ContentItem
	Hashtag     *ContentItem
	Sound       *ContentItem
}

// Items returns every selected item in the record, in slot order
func (r PublicationRecord) Items() []ContentItem {
	items := make([]ContentItem, 0, len(r.Photos)+len(r.Videos)+len(r.ShortForm)+2)
	items = append(items, r.Photos...)
	items = append(items, r.Videos...)
	items = append(items, r.ShortForm...)
	if r.Hashtag != nil {
		items = append(items, *r.Hashtag)
	}
	if r.Sound != nil {
		items = append(items, *r.Sound)
	}
	return items
}

// Empty reports whether no item was selected in any slot
func (r PublicationRecord) Empty() bool {
	return len(r.Photos) == 0 && len(r.Videos) == 0 && len(r.ShortForm) == 0 &&
		r.Hashtag == nil && r.Sound == nil
}
