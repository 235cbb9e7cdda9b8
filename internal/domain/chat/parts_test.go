package chat

import "testing"

func TestReplaceTextKeepsOtherParts(t *testing.T) {
	parts := []MessagePart{
		{Type: PartReasoning, Text: "thinking"},
		{Type: PartText, Text: "intro"},
		{Type: PartText, Text: "hello"},
	}
	out := ReplaceText(parts, "hello", "howdy")
	if out[2].Text != "howdy" || out[1].Text != "intro" || out[0].Text != "thinking" {
		t.Fatalf("unexpected parts: %+v", out)
	}
	if parts[2].Text != "hello" {
		t.Fatalf("input mutated: %+v", parts)
	}

	out = ReplaceText(parts, "missing", "x")
	if out[1].Text != "x" || out[2].Text != "hello" {
		t.Fatalf("fallback should replace first text part: %+v", out)
	}

	out = ReplaceText([]MessagePart{{Type: PartFile}}, "", "new")
	if len(out) != 2 || out[1].Type != PartText || out[1].Text != "new" {
		t.Fatalf("expected appended text part: %+v", out)
	}
}

func TestCopyTextJoinsTextParts(t *testing.T) {
	m := &ChatMessage{Parts: []MessagePart{
		{Type: PartText, Text: " first"},
		{Type: PartFile},
		{Type: PartText, Text: "second "},
	}}
	if got := m.CopyText(); got != "first\nsecond" {
		t.Fatalf("CopyText: got=%q", got)
	}
	if got := m.Text(); got != " first" {
		t.Fatalf("Text: got=%q", got)
	}
}

func TestFingerprintTracksContent(t *testing.T) {
	a := Fingerprint(TextParts("hello"))
	b := Fingerprint(TextParts("hello"))
	c := Fingerprint(TextParts("howdy"))
	if a == "" || a != b {
		t.Fatalf("fingerprint not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("fingerprint should change with content")
	}
}

func TestCloneCopiesPartData(t *testing.T) {
	m := ChatMessage{Parts: []MessagePart{{Type: PartFile, Data: []byte(`{"url":"a"}`)}}}
	c := m.Clone()
	c.Parts[0].Data[8] = 'b'
	if string(m.Parts[0].Data) != `{"url":"a"}` {
		t.Fatalf("clone aliases part data: %s", m.Parts[0].Data)
	}
}
