// Package chunker splits document text into bounded, overlapping pieces
// and derives the deterministic identity each piece keeps in the vector
// store. Splitting is recursive: it prefers the largest separator that
// occurs in the text (paragraph, line, sentence, word) and falls back to
// single characters, then greedily re-merges pieces into windows of at
// most Size characters carrying Overlap characters between neighbors.
package chunker

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Separators in decreasing semantic size. The empty separator splits
// into single characters and always matches.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk is one piece of a document, with its stable vector-store identity.
type Chunk struct {
	ID         uuid.UUID
	DocumentID string
	Index      int
	Content    string
}

// Chunker splits text into windows of at most Size characters, with
// Overlap characters carried across consecutive windows. The zero value
// is unusable; construct with New.
type Chunker struct {
	Size    int
	Overlap int
}

func New(size, overlap int) Chunker {
	return Chunker{Size: size, Overlap: overlap}
}

// ID derives the UUIDv5 identity of chunk `index` of `documentID` under
// the nil namespace. It is a pure function: re-chunking a document maps
// each index to the same point ID, which is what makes upserts replace
// rather than accumulate.
func ID(documentID string, index int) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(documentID+":"+strconv.Itoa(index)))
}

// Chunk splits content and attaches identities. Whitespace-only content
// produces no chunks.
func (c Chunker) Chunk(documentID, content string) []Chunk {
	var pieces = c.Split(content)
	var chunks = make([]Chunk, 0, len(pieces))
	for i, text := range pieces {
		chunks = append(chunks, Chunk{
			ID:         ID(documentID, i),
			DocumentID: documentID,
			Index:      i,
			Content:    text,
		})
	}
	return chunks
}

// Split returns the ordered window texts for content.
func (c Chunker) Split(content string) []string {
	return c.split(content, separators)
}

func (c Chunker) split(text string, seps []string) []string {
	var separator = seps[len(seps)-1]
	var deeper []string
	for i, s := range seps {
		if s == "" {
			separator = s
			deeper = nil
			break
		} else if strings.Contains(text, s) {
			separator = s
			deeper = seps[i+1:]
			break
		}
	}

	var out []string
	var good []string
	for _, piece := range explode(text, separator) {
		if len(piece) < c.Size {
			good = append(good, piece)
			continue
		}
		// An oversized piece: flush what's accumulated, then either
		// recurse with smaller separators or emit it as-is.
		if len(good) > 0 {
			out = append(out, c.merge(good, separator)...)
			good = nil
		}
		if len(deeper) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, c.split(piece, deeper)...)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good, separator)...)
	}
	return out
}

// explode splits text on separator, dropping empty pieces. The empty
// separator yields individual characters.
func explode(text, separator string) []string {
	var raw []string
	if separator == "" {
		raw = make([]string, 0, len(text))
		for _, r := range text {
			raw = append(raw, string(r))
		}
	} else {
		raw = strings.Split(text, separator)
	}

	var pieces = make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

// merge greedily packs consecutive pieces into windows. When a window
// closes, pieces are dropped from its front until at most Overlap
// characters remain to seed the next window.
func (c Chunker) merge(pieces []string, separator string) []string {
	var sepLen = len(separator)
	var out []string
	var window []string
	var total int

	for _, piece := range pieces {
		var pLen = len(piece)
		if total+pLen+sepIf(len(window) > 0, sepLen) > c.Size && len(window) > 0 {
			if doc := join(window, separator); doc != "" {
				out = append(out, doc)
			}
			for len(window) > 0 &&
				(total > c.Overlap ||
					(total+pLen+sepIf(len(window) > 0, sepLen) > c.Size && total > 0)) {
				total -= len(window[0]) + sepIf(len(window) > 1, sepLen)
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += pLen + sepIf(len(window) > 1, sepLen)
	}
	if doc := join(window, separator); doc != "" {
		out = append(out, doc)
	}
	return out
}

func join(pieces []string, separator string) string {
	return strings.TrimSpace(strings.Join(pieces, separator))
}

func sepIf(cond bool, sepLen int) int {
	if cond {
		return sepLen
	}
	return 0
}
