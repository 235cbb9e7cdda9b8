package chat

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartFile      = "file"
)

// MessagePart is one typed fragment of a message body.
type MessagePart struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Clone copies the part, including its raw payload.
func (p MessagePart) Clone() MessagePart {
	if p.Data != nil {
		p.Data = append(json.RawMessage(nil), p.Data...)
	}
	return p
}

func TextParts(text string) []MessagePart {
	return []MessagePart{{Type: PartText, Text: text}}
}

// ReplaceText swaps the text part holding prior for next and keeps every other
// fragment in place. When no part matches, the first text part is replaced;
// when there is no text part at all, one is appended.
func ReplaceText(parts []MessagePart, prior, next string) []MessagePart {
	out := make([]MessagePart, len(parts))
	copy(out, parts)
	first := -1
	for i, p := range out {
		if p.Type != PartText {
			continue
		}
		if p.Text == prior {
			out[i].Text = next
			return out
		}
		if first < 0 {
			first = i
		}
	}
	if first >= 0 {
		out[first].Text = next
		return out
	}
	return append(out, MessagePart{Type: PartText, Text: next})
}

// Fingerprint is a content hash of the parts, used to detect concurrent rewrites.
func Fingerprint(parts []MessagePart) string {
	raw, err := json.Marshal(parts)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
