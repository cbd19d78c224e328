package search

import (
	"strings"
	"testing"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

func TestChunkManifestSections(t *testing.T) {
	c := NewChunker(400, 48)
	m := &models.Manifest{
		Type:        "agent",
		ID:          "pdf-summarizer",
		Name:        "PDF Summarizer",
		Version:     "1.0.0",
		Summary:     "Summarizes PDF documents",
		Description: "Extracts text from PDFs and produces concise summaries.",
		Examples:    []string{"summarize ./report.pdf"},
	}

	chunks := c.ChunkManifest("agent:pdf-summarizer@1.0.0", m)
	if len(chunks) != 4 {
		t.Fatalf("Expected 4 chunks (title, summary, body, example), got %d", len(chunks))
	}

	bySection := map[string]int{}
	for i, ch := range chunks {
		bySection[ch.Section]++
		if ch.EntityUID != "agent:pdf-summarizer@1.0.0" {
			t.Errorf("Chunk %d has wrong entity uid: %s", i, ch.EntityUID)
		}
		if ch.Checksum == "" || ch.ChunkID == "" {
			t.Errorf("Chunk %d missing id/checksum", i)
		}
		if ch.Position != i {
			t.Errorf("Chunk %d has position %d", i, ch.Position)
		}
		if want := models.SectionWeight(ch.Section); ch.Weight != want {
			t.Errorf("Chunk %d weight = %v, want %v", i, ch.Weight, want)
		}
	}
	for _, s := range []string{models.ChunkSectionTitle, models.ChunkSectionSummary, models.ChunkSectionBody, models.ChunkSectionExample} {
		if bySection[s] != 1 {
			t.Errorf("Expected one %s chunk, got %d", s, bySection[s])
		}
	}

	if !strings.Contains(chunks[0].Text, "PDF Summarizer") {
		t.Errorf("Title chunk should carry the name, got %q", chunks[0].Text)
	}
}

func TestChunkManifestDeterministicIDs(t *testing.T) {
	c := NewChunker(400, 48)
	m := &models.Manifest{
		Type: "tool", ID: "t", Name: "Tool", Version: "1",
		Summary:     "does things",
		Description: "A longer description of the tool.",
	}

	first := c.ChunkManifest("tool:t@1", m)
	second := c.ChunkManifest("tool:t@1", m)
	if len(first) != len(second) {
		t.Fatalf("Chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ChunkID != second[i].ChunkID || first[i].Checksum != second[i].Checksum {
			t.Errorf("Chunk %d not deterministic: %s/%s vs %s/%s",
				i, first[i].ChunkID, first[i].Checksum, second[i].ChunkID, second[i].Checksum)
		}
	}
}

func TestSplitTextKeepsFencedCodeAtomic(t *testing.T) {
	c := NewChunker(10, 2)
	text := "Intro paragraph.\n\n```go\nfunc main() {\n\tprintln(\"one two three four five six seven eight nine ten eleven twelve\")\n}\n```\n\nOutro."

	chunks := c.splitText(text)
	found := false
	for _, ch := range chunks {
		if strings.HasPrefix(ch, "```go") {
			found = true
			if !strings.Contains(ch, "func main()") || !strings.HasSuffix(ch, "```") {
				t.Errorf("Fenced block was split: %q", ch)
			}
		}
	}
	if !found {
		t.Fatal("Fenced code block missing from chunks")
	}
}

func TestSplitTextWindowsLongProse(t *testing.T) {
	c := NewChunker(20, 4)
	words := make([]string, 120)
	for i := range words {
		words[i] = "word"
	}
	// Three long paragraphs of 40 tokens each.
	para := strings.Join(words[:40], " ")
	text := para + ".\n\n" + para + ".\n\n" + para + "."

	chunks := c.splitText(text)
	if len(chunks) < 3 {
		t.Fatalf("Expected windowed chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if n := tokenCount(ch); n > 20 {
			t.Errorf("Chunk %d has %d tokens, budget is 20", i, n)
		}
	}
}

func TestSplitTextSplitsAtHeadings(t *testing.T) {
	c := NewChunker(400, 48)
	text := "# Install\n\npip install it\n\n# Usage\n\nrun it"

	chunks := c.splitText(text)
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 heading sections, got %d: %v", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[0], "# Install") || !strings.HasPrefix(chunks[1], "# Usage") {
		t.Errorf("Heading boundaries wrong: %v", chunks)
	}
}
