// Package search implements the hybrid catalog search pipeline: the
// chunker that derives embedding units from manifests, the lexical and
// vector scoring backends, and the ranker that blends their signals
// into a final ordering.
package search

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// Chunker turns manifest text into weighted embedding chunks. Chunk ids
// are content-addressed so re-ingesting unchanged text yields the same
// rows and no re-embedding.
type Chunker struct {
	MaxTokens int // approximate token budget per chunk
	Overlap   int // tokens carried over between adjacent windows
}

// NewChunker creates a chunker with the given token window. Zero or
// negative values fall back to sane defaults.
func NewChunker(maxTokens, overlap int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = 400
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = maxTokens / 8
	}
	return &Chunker{MaxTokens: maxTokens, Overlap: overlap}
}

// ChunkManifest derives the chunk set for one manifest: a title chunk,
// a summary chunk, windowed body chunks from description and readme,
// and one chunk per usage example.
func (c *Chunker) ChunkManifest(entityUID string, m *models.Manifest) []models.EmbeddingChunk {
	var out []models.EmbeddingChunk
	seen := make(map[string]bool)
	pos := 0

	add := func(section, text, sourceURI string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		id := chunkID(section, text)
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, models.EmbeddingChunk{
			EntityUID: entityUID,
			ChunkID:   id,
			Section:   section,
			Position:  pos,
			Weight:    models.SectionWeight(section),
			Text:      text,
			SourceURI: sourceURI,
			Checksum:  checksum(text),
		})
		pos++
	}

	title := m.Name
	if m.Summary != "" {
		title = m.Name + ": " + m.Summary
	}
	add(models.ChunkSectionTitle, title, "")
	add(models.ChunkSectionSummary, m.Summary, "")

	for _, part := range c.splitText(m.Description) {
		add(models.ChunkSectionBody, part, "")
	}
	for _, part := range c.splitText(m.Readme) {
		add(models.ChunkSectionBody, part, m.ReadmeURL)
	}
	for _, ex := range m.Examples {
		add(models.ChunkSectionExample, ex, "")
	}
	return out
}

// splitText breaks markdown-ish prose into chunks at most MaxTokens
// long. Fenced code blocks stay atomic; otherwise the text splits at
// headings, then paragraphs, then sentences, with windowed overlap when
// a single unit still exceeds the budget.
func (c *Chunker) splitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for _, block := range splitFenced(text) {
		if block.fenced {
			// Code blocks are never windowed; splitting mid-snippet
			// destroys their retrieval value.
			chunks = append(chunks, block.text)
			continue
		}
		for _, section := range splitHeadings(block.text) {
			if tokenCount(section) <= c.MaxTokens {
				chunks = append(chunks, section)
				continue
			}
			chunks = append(chunks, c.window(section)...)
		}
	}
	return chunks
}

// window packs paragraphs (and, when a paragraph alone is too big,
// sentences) into token-bounded chunks with Overlap tokens of carry.
func (c *Chunker) window(text string) []string {
	var units []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if tokenCount(para) <= c.MaxTokens {
			units = append(units, para)
			continue
		}
		units = append(units, splitSentences(para)...)
	}

	var chunks []string
	var buf []string
	bufTokens := 0
	flush := func() {
		if len(buf) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(buf, " "))
		// Carry the trailing tokens forward as overlap.
		if c.Overlap > 0 {
			tail := strings.Fields(strings.Join(buf, " "))
			if len(tail) > c.Overlap {
				tail = tail[len(tail)-c.Overlap:]
			}
			buf = []string{strings.Join(tail, " ")}
			bufTokens = len(tail)
		} else {
			buf = nil
			bufTokens = 0
		}
	}

	for _, u := range units {
		n := tokenCount(u)
		if bufTokens > 0 && bufTokens+n > c.MaxTokens {
			flush()
		}
		if n > c.MaxTokens {
			// A single run-on sentence beyond the budget: hard split.
			words := strings.Fields(u)
			for len(words) > 0 {
				take := c.MaxTokens
				if take > len(words) {
					take = len(words)
				}
				chunks = append(chunks, strings.Join(words[:take], " "))
				words = words[take:]
			}
			buf = nil
			bufTokens = 0
			continue
		}
		buf = append(buf, u)
		bufTokens += n
	}
	if bufTokens > c.Overlap || (len(chunks) == 0 && bufTokens > 0) {
		chunks = append(chunks, strings.Join(buf, " "))
	}
	return chunks
}

type textBlock struct {
	text   string
	fenced bool
}

// splitFenced separates ``` fenced code blocks from surrounding prose.
func splitFenced(text string) []textBlock {
	var blocks []textBlock
	var cur []string
	inFence := false
	flush := func(fenced bool) {
		joined := strings.TrimSpace(strings.Join(cur, "\n"))
		if joined != "" {
			blocks = append(blocks, textBlock{text: joined, fenced: fenced})
		}
		cur = nil
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inFence {
				cur = append(cur, line)
				flush(true)
				inFence = false
				continue
			}
			flush(false)
			inFence = true
			cur = append(cur, line)
			continue
		}
		cur = append(cur, line)
	}
	flush(inFence)
	return blocks
}

// splitHeadings splits prose at markdown headings, keeping the heading
// line with its section.
func splitHeadings(text string) []string {
	var sections []string
	var cur []string
	flush := func() {
		joined := strings.TrimSpace(strings.Join(cur, "\n"))
		if joined != "" {
			sections = append(sections, joined)
		}
		cur = nil
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			flush()
		}
		cur = append(cur, line)
	}
	flush()
	return sections
}

var sentenceEnders = ".!?"

func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		if strings.ContainsRune(sentenceEnders, r) {
			if i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				s := strings.TrimSpace(text[start : i+1])
				if s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// tokenCount approximates tokens as whitespace-delimited words.
func tokenCount(s string) int {
	return len(strings.Fields(s))
}

func checksum(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func chunkID(section, text string) string {
	sum := sha1.Sum([]byte(section + "\x00" + text))
	return fmt.Sprintf("%s-%s", section, hex.EncodeToString(sum[:8]))
}
