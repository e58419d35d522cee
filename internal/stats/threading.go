package stats

import (
	"github.com/nbd-wtf/go-nostr"
)

// ThreadInfo contains thread relationship information extracted from a note
type ThreadInfo struct {
	RootEventID  string   // The root event of the thread
	ReplyToID    string   // The direct parent event being replied to
	MentionedIDs []string // Other events mentioned in the thread
}

// ParseThreadInfo extracts thread relationships from a note's e tags,
// supporting both the marked format and the deprecated positional format.
// A note without e tags is a root post.
func ParseThreadInfo(event *nostr.Event) *ThreadInfo {
	info := &ThreadInfo{}

	var eTags []nostr.Tag
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			eTags = append(eTags, tag)
		}
	}

	if len(eTags) == 0 {
		return info
	}

	if hasMarkedTags(eTags) {
		return parseMarkedFormat(eTags)
	}
	return parsePositionalFormat(eTags)
}

// hasMarkedTags checks if any e tag has a marker (root/reply/mention)
func hasMarkedTags(eTags []nostr.Tag) bool {
	for _, tag := range eTags {
		if len(tag) >= 4 && tag[3] != "" {
			return true
		}
	}
	return false
}

// parseMarkedFormat parses marked e tags (preferred format)
func parseMarkedFormat(eTags []nostr.Tag) *ThreadInfo {
	info := &ThreadInfo{}

	for _, tag := range eTags {
		eventID := tag[1]
		marker := ""
		if len(tag) >= 4 {
			marker = tag[3]
		}

		switch marker {
		case "root":
			info.RootEventID = eventID
		case "reply":
			info.ReplyToID = eventID
		default:
			info.MentionedIDs = append(info.MentionedIDs, eventID)
		}
	}

	// A reply directly under the root carries only the root marker
	if info.ReplyToID == "" && info.RootEventID != "" {
		info.ReplyToID = info.RootEventID
	}
	// A reply marker without a root means the parent is also the root
	if info.RootEventID == "" && info.ReplyToID != "" {
		info.RootEventID = info.ReplyToID
	}

	return info
}

// parsePositionalFormat parses the deprecated positional e tag format
func parsePositionalFormat(eTags []nostr.Tag) *ThreadInfo {
	info := &ThreadInfo{}

	switch len(eTags) {
	case 1:
		info.RootEventID = eTags[0][1]
		info.ReplyToID = eTags[0][1]

	case 2:
		info.RootEventID = eTags[0][1]
		info.ReplyToID = eTags[1][1]

	default:
		info.RootEventID = eTags[0][1]
		info.ReplyToID = eTags[len(eTags)-1][1]
		for i := 1; i < len(eTags)-1; i++ {
			info.MentionedIDs = append(info.MentionedIDs, eTags[i][1])
		}
	}

	return info
}

// IsReply returns true if this event is a reply to another event
func (ti *ThreadInfo) IsReply() bool {
	return ti.ReplyToID != ""
}

// IsRoot returns true if this event starts a new thread
func (ti *ThreadInfo) IsRoot() bool {
	return ti.RootEventID == "" && ti.ReplyToID == ""
}
