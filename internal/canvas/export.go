package canvas

import (
	"fmt"
	"strings"
)

// tagTitles maps canonical tags to their display headings.
var tagTitles = map[string]string{
	TagCustomerSegments:      "Customer Segments",
	TagValuePropositions:     "Value Propositions",
	TagChannels:              "Channels",
	TagCustomerRelationships: "Customer Relationships",
	TagRevenueStreams:        "Revenue Streams",
	TagKeyResources:          "Key Resources",
	TagKeyActivities:         "Key Activities",
	TagKeyPartnerships:       "Key Partnerships",
	TagCostStructure:         "Cost Structure",
}

// TagTitle returns the display heading for a canonical tag. Unknown
// tags are returned unchanged.
func TagTitle(tag string) string {
	if t, ok := tagTitles[tag]; ok {
		return t
	}
	return tag
}

// Markdown renders the canvas as a Markdown document. Blocks are
// emitted in canonical display order; blocks with tags outside the
// canonical set are appended at the end under their raw tag.
func (c *Canvas) Markdown() string {
	byTag := make(map[string][]Block)
	var extra []Block
	for _, blk := range c.Blocks {
		tag := NormalizeTag(blk.Tag)
		if tagSet[tag] {
			byTag[tag] = append(byTag[tag], blk)
			continue
		}
		extra = append(extra, blk)
	}

	var b strings.Builder
	b.WriteString("# Business Model Canvas\n\n")
	fmt.Fprintf(&b, "_Created %s_\n", c.CreatedAt.Format("2006-01-02"))

	writeSection := func(title string, blocks []Block) {
		if len(blocks) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n## %s\n\n", title)
		for _, blk := range blocks {
			b.WriteString(strings.TrimSpace(blk.Content))
			b.WriteString("\n")
		}
	}

	for _, tag := range Tags {
		writeSection(tagTitles[tag], byTag[tag])
	}
	for _, blk := range extra {
		writeSection(blk.Tag, []Block{blk})
	}
	return b.String()
}
