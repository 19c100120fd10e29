// Package canvas defines the business model canvas document and its store.
//
// A canvas is an ordered list of tagged content blocks. Tags come from a
// fixed nine-member enumeration and are always persisted in their
// canonical snake_case form (see [NormalizeTag]).
package canvas

import (
	"fmt"
	"strings"
	"time"
)

// Canonical block tags, in the order they appear on a rendered canvas.
const (
	TagCustomerSegments      = "customer_segments"
	TagValuePropositions     = "value_propositions"
	TagChannels              = "channels"
	TagCustomerRelationships = "customer_relationships"
	TagRevenueStreams        = "revenue_streams"
	TagKeyResources          = "key_resources"
	TagKeyActivities         = "key_activities"
	TagKeyPartnerships       = "key_partnerships"
	TagCostStructure         = "cost_structure"
)

// Tags lists all canonical block tags in display order.
var Tags = []string{
	TagCustomerSegments,
	TagValuePropositions,
	TagChannels,
	TagCustomerRelationships,
	TagRevenueStreams,
	TagKeyResources,
	TagKeyActivities,
	TagKeyPartnerships,
	TagCostStructure,
}

var tagSet = func() map[string]bool {
	m := make(map[string]bool, len(Tags))
	for _, t := range Tags {
		m[t] = true
	}
	return m
}()

// Block is one tagged section of a canvas.
type Block struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// Location is an optional geolocation attached to a canvas.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DefaultLocation is used when a canvas is created without coordinates.
var DefaultLocation = Location{Lat: -6.212249928667231, Lon: 106.79734681365301}

// Canvas is a persisted business model canvas.
type Canvas struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	SessionID string    `json:"session_id,omitempty"`
	IsPublic  bool      `json:"is_public"`
	Location  Location  `json:"location"`
	Blocks    []Block   `json:"blocks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidTag reports whether tag is a member of the canonical set.
func ValidTag(tag string) bool {
	return tagSet[tag]
}

// NormalizeTag converts camelCase/PascalCase variants of a canonical tag
// to snake_case. If the snake_case form is not a member of the canonical
// set, the original input is returned unchanged. Idempotent: applying it
// twice gives the same result as once.
func NormalizeTag(tag string) string {
	if tag == "" {
		return tag
	}

	var b strings.Builder
	b.Grow(len(tag) + 4)
	for i, r := range tag {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && tag[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}

	if snake := b.String(); tagSet[snake] {
		return snake
	}
	return tag
}

// NormalizeBlocks returns a copy of blocks with every tag normalized.
func NormalizeBlocks(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	out := make([]Block, len(blocks))
	for i, blk := range blocks {
		out[i] = Block{Tag: NormalizeTag(blk.Tag), Content: blk.Content}
	}
	return out
}

// ValidateBlocks checks that blocks is non-empty and every block has a
// canonical (after normalization) tag and non-empty content. It returns
// a list of human-readable problems, empty when the input is valid.
func ValidateBlocks(blocks []Block) []string {
	if len(blocks) == 0 {
		return []string{"canvas must contain at least one block"}
	}

	var problems []string
	for i, blk := range blocks {
		if blk.Tag == "" {
			problems = append(problems, fmt.Sprintf("block %d is missing a tag", i))
		} else if !ValidTag(NormalizeTag(blk.Tag)) {
			problems = append(problems, fmt.Sprintf("block %d has unknown tag %q", i, blk.Tag))
		}
		if strings.TrimSpace(blk.Content) == "" {
			problems = append(problems, fmt.Sprintf("block %d has empty content", i))
		}
	}
	return problems
}
