// Package entities extracts NIP-19 references embedded in event content.
// Clients mention users and quote notes with nostr: URIs; the pipeline uses
// these to widen notification delivery and quote detection beyond tags.
package entities

import (
	"regexp"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var nostrEntityRegex = regexp.MustCompile(`nostr:(npub1[a-z0-9]+|nprofile1[a-z0-9]+|note1[a-z0-9]+|nevent1[a-z0-9]+)`)

// Find returns the bech32 entities referenced by nostr: URIs in the text,
// without the nostr: prefix, in order of appearance.
func Find(text string) []string {
	matches := nostrEntityRegex.FindAllString(text, -1)
	entities := make([]string, len(matches))
	for i, match := range matches {
		entities[i] = strings.TrimPrefix(match, "nostr:")
	}
	return entities
}

// MentionedPubkeys returns the hex pubkeys referenced by npub and nprofile
// URIs in the text, deduplicated. Undecodable references are skipped.
func MentionedPubkeys(text string) []string {
	var pubkeys []string
	seen := make(map[string]struct{})

	for _, entity := range Find(text) {
		prefix, decoded, err := nip19.Decode(entity)
		if err != nil {
			continue
		}

		var pubkey string
		switch prefix {
		case "npub":
			pubkey = decoded.(string)
		case "nprofile":
			pubkey = decoded.(nostr.ProfilePointer).PublicKey
		default:
			continue
		}

		if _, ok := seen[pubkey]; !ok {
			seen[pubkey] = struct{}{}
			pubkeys = append(pubkeys, pubkey)
		}
	}
	return pubkeys
}

// QuotedEventIDs returns the hex event ids referenced by note and nevent
// URIs in the text, deduplicated. Undecodable references are skipped.
func QuotedEventIDs(text string) []string {
	var ids []string
	seen := make(map[string]struct{})

	for _, entity := range Find(text) {
		prefix, decoded, err := nip19.Decode(entity)
		if err != nil {
			continue
		}

		var id string
		switch prefix {
		case "note":
			id = decoded.(string)
		case "nevent":
			id = decoded.(nostr.EventPointer).ID
		default:
			continue
		}

		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
