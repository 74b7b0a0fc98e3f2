package domain

import (
	"fmt"
	"time"
)

// Network identifies a source social network
type Network string

// supported networks
const (
	NetworkInstagram Network = "instagram"
	NetworkTwitter   Network = "twitter"
	NetworkThreads   Network = "threads"
	NetworkTikTok    Network = "tiktok"
)

// Networks returns all supported networks in stable order
func Networks() []Network {
	return []Network{NetworkInstagram, NetworkTwitter, NetworkThreads, NetworkTikTok}
}

// ParseNetwork converts a string to a Network
func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case NetworkInstagram, NetworkTwitter, NetworkThreads, NetworkTikTok:
		return Network(s), nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// Category is the content kind of an item
type Category string

// content categories
const (
	CategoryPhoto     Category = "photo"
	CategoryVideo     Category = "video"
	CategoryShortForm Category = "short_form"
	CategoryTrend     Category = "trend"
)

// Categories returns all categories in stable order
func Categories() []Category {
	return []Category{CategoryPhoto, CategoryVideo, CategoryShortForm, CategoryTrend}
}

// ParseCategory converts a string to a Category
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryPhoto, CategoryVideo, CategoryShortForm, CategoryTrend:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Tri is an explicit three-valued attribute. On items the zero value means
// "unknown" and must stay neutral in scoring; on profile preferences it
// means "indifferent".
type Tri uint8

// tri-state values
const (
	TriUnknown Tri = iota
	TriYes
	TriNo
)

// TriOf converts a known boolean to a Tri
func TriOf(b bool) Tri {
	if b {
		return TriYes
	}
	return TriNo
}

// Known reports whether the value carries information
func (t Tri) Known() bool { return t != TriUnknown }

func (t Tri) String() string {
	switch t {
	case TriYes:
		return "yes"
	case TriNo:
		return "no"
	}
	return "unknown"
}

// TrendKind is the sub-kind of a trend item
type TrendKind string

// trend sub-kinds, each yields an independent winner slot
const (
	TrendHashtag TrendKind = "hashtag"
	TrendSound   TrendKind = "sound"
)

// ContentItem is the normalized representation of one scraped artifact.
// ID is stable and unique per network+post within a cycle.
type ContentItem struct {
	ID          string
	Network     Network
	Category    Category
	URL         string
	Caption     string
	PublishedAt time.Time // zero means absent; trend items carry no publish time
	Engagement  float64
	HasSpeech   Tri
	HasCaptions Tri
	HasMusic    Tri
	TrendKind   TrendKind // set for CategoryTrend only
	TrendName   string    // tag or sound name, CategoryTrend only
}
