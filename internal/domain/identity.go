package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Conversation identity derivation.
//
// Two inbound messages belonging to the same human exchange must always
// resolve to the same thread key, and messages from different exchanges must
// never collide. The key is a hash of the normalized subject plus the
// counterpart address, so "Re: Demo?" and "RE: RE: Demo?" from the same
// sender land in the same conversation regardless of the mail client's
// reply-prefix habits.

// replyPrefixRE matches leading reply/forward markers ("Re:", "Fwd:", "FW:"),
// optionally numbered as some clients do ("Re[2]:").
var replyPrefixRE = regexp.MustCompile(`^(?i:(re|fwd?|fw)(\[\d+\])?:\s*)+`)

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// NormalizeSubject strips reply/forward prefixes, collapses whitespace, and
// lowercases the subject so that all messages of one thread normalize
// identically.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	s = replyPrefixRE.ReplaceAllString(s, "")
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeAddress lowercases and trims an email address, dropping any
// display-name decoration ("Ada <ada@example.com>" -> "ada@example.com").
func NormalizeAddress(addr string) string {
	a := strings.TrimSpace(addr)
	if i := strings.LastIndexByte(a, '<'); i >= 0 {
		if j := strings.IndexByte(a[i:], '>'); j > 0 {
			a = a[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(a))
}

// ThreadKey derives the stable thread key for a subject/counterpart pair.
// The key is the first 12 bytes of a SHA-256, hex encoded (24 chars).
func ThreadKey(subject, counterpart string) string {
	h := sha256.Sum256([]byte(NormalizeSubject(subject) + "\x00" + NormalizeAddress(counterpart)))
	return hex.EncodeToString(h[:12])
}

// ConversationID formats the identity of the seq'th conversation of a thread.
func ConversationID(threadKey string, seq int) string {
	return fmt.Sprintf("%s#%d", threadKey, seq)
}

// SplitConversationID is the inverse of ConversationID. It returns
// ("", 0) for malformed ids.
func SplitConversationID(id string) (threadKey string, seq int) {
	i := strings.LastIndexByte(id, '#')
	if i <= 0 {
		return "", 0
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 1 {
		return "", 0
	}
	return id[:i], n
}
