package rag

import "strings"

// Splitter defaults. Chunks overlap so context survives chunk boundaries.
const (
	// DefaultChunkSize is the maximum chunk length in runes
	// (roughly 500-700 Chinese characters of prose).
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the overlap between adjacent chunks in runes.
	DefaultChunkOverlap = 200
)

// defaultSeparators is the split priority: paragraph breaks first, then
// lines, section rules, CJK sentence enders, spaces, and finally
// rune-by-rune as a last resort.
var defaultSeparators = []string{"\n\n", "\n", "---", "。", "！", "？", "；", " ", ""}

// Splitter cuts long documents into overlapping chunks, preferring to break
// at the most natural separator available.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewSplitter creates a Splitter with the default configuration.
func NewSplitter() *Splitter {
	return &Splitter{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Separators:   defaultSeparators,
	}
}

// Split cuts text into chunks of at most ChunkSize runes with ChunkOverlap
// runes of overlap between adjacent chunks.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	return s.split(text, s.Separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	if runeLen(text) <= s.ChunkSize {
		return []string{text}
	}

	// Pick the highest-priority separator present in the text.
	separator := ""
	rest := separators
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			rest = nil
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	splits := splitKeepingSeparator(text, separator)

	// Recurse into oversized pieces with the remaining separators, collect
	// the rest for merging.
	var goodSplits []string
	var chunks []string
	for _, piece := range splits {
		if runeLen(piece) <= s.ChunkSize {
			goodSplits = append(goodSplits, piece)
			continue
		}
		if len(goodSplits) > 0 {
			chunks = append(chunks, s.merge(goodSplits)...)
			goodSplits = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, hardSplit(piece, s.ChunkSize)...)
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	if len(goodSplits) > 0 {
		chunks = append(chunks, s.merge(goodSplits)...)
	}
	return chunks
}

// merge combines small pieces into chunks up to ChunkSize, carrying
// ChunkOverlap runes of trailing pieces into the next chunk.
func (s *Splitter) merge(splits []string) []string {
	var chunks []string
	var current []string
	total := 0

	for _, piece := range splits {
		pieceLen := runeLen(piece)
		if total+pieceLen > s.ChunkSize && total > 0 {
			chunks = append(chunks, strings.Join(current, ""))
			// Drop leading pieces until the carried-over tail fits the
			// overlap budget.
			for total > s.ChunkOverlap || (total+pieceLen > s.ChunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += pieceLen
	}
	if len(current) > 0 {
		if chunk := strings.Join(current, ""); strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// splitKeepingSeparator splits text by sep, keeping the separator attached
// to the preceding piece so no characters are lost.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		return hardSplit(text, 1)
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// hardSplit cuts text into fixed-size rune windows.
func hardSplit(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

// EstimateChunkCount estimates how many chunks a set of documents will
// produce, for dry-run cost reporting: total runes divided by the
// effective chunk stride (size minus overlap), rounded up.
func (s *Splitter) EstimateChunkCount(contents []string) int {
	total := 0
	for _, c := range contents {
		total += runeLen(c)
	}
	stride := s.ChunkSize - s.ChunkOverlap
	if stride <= 0 {
		stride = s.ChunkSize
	}
	return (total + stride - 1) / stride
}
