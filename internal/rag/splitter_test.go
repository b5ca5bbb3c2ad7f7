package rag

import (
	"strings"
	"testing"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	s := NewSplitter()

	chunks := s.Split("短文本，无需切分。")
	if len(chunks) != 1 {
		t.Fatalf("Split() = %d chunks, want 1", len(chunks))
	}
	if chunks[0] != "短文本，无需切分。" {
		t.Errorf("Split() altered short text: %q", chunks[0])
	}
}

func TestSplit_Empty(t *testing.T) {
	s := NewSplitter()
	if chunks := s.Split(""); chunks != nil {
		t.Errorf("Split(\"\") = %v, want nil", chunks)
	}
}

func TestSplit_RespectsChunkSize(t *testing.T) {
	s := &Splitter{ChunkSize: 50, ChunkOverlap: 10, Separators: defaultSeparators}

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("这是一句测试文本。")
	}
	chunks := s.Split(b.String())

	if len(chunks) < 2 {
		t.Fatalf("Split() = %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if runeLen(c) > 50 {
			t.Errorf("chunk %d has %d runes, want <= 50", i, runeLen(c))
		}
	}
}

func TestSplit_PrefersParagraphBreaks(t *testing.T) {
	s := &Splitter{ChunkSize: 30, ChunkOverlap: 0, Separators: defaultSeparators}

	text := "第一段内容在这里。\n\n第二段内容在这里。\n\n第三段内容在这里。"
	chunks := s.Split(text)

	for i, c := range chunks {
		if strings.Contains(strings.TrimSuffix(c, "\n\n"), "\n\n") {
			t.Errorf("chunk %d spans a paragraph break: %q", i, c)
		}
	}
}

func TestSplit_OverlapPreservesBoundaryContext(t *testing.T) {
	s := &Splitter{ChunkSize: 40, ChunkOverlap: 20, Separators: defaultSeparators}

	var sentences []string
	for i := 0; i < 20; i++ {
		sentences = append(sentences, "测试句子内容。")
	}
	chunks := s.Split(strings.Join(sentences, ""))

	if len(chunks) < 2 {
		t.Fatalf("Split() = %d chunks, want several", len(chunks))
	}
	// Adjacent chunks share boundary content when overlap is configured.
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := string(prev[max(0, len(prev)-7):])
		if !strings.Contains(chunks[i], tail) {
			t.Errorf("chunk %d does not carry tail of chunk %d: %q vs %q",
				i, i-1, chunks[i], tail)
		}
	}
}

func TestSplit_NoContentLost(t *testing.T) {
	s := &Splitter{ChunkSize: 60, ChunkOverlap: 0, Separators: defaultSeparators}

	text := "故宫位于北京。\n\n天坛也在北京。开放时间为每天八点。\n建议游玩两小时；门票六十元。"
	chunks := s.Split(text)

	joined := strings.Join(chunks, "")
	for _, token := range []string{"故宫", "天坛", "八点", "六十元"} {
		if !strings.Contains(joined, token) {
			t.Errorf("Split() lost content %q", token)
		}
	}
}

func TestEstimateChunkCount(t *testing.T) {
	s := NewSplitter()

	tests := []struct {
		name     string
		contents []string
		want     int
	}{
		{"empty", nil, 0},
		{"one stride", []string{strings.Repeat("字", 800)}, 1},
		{"exactly one stride", []string{strings.Repeat("字", 801)}, 2},
		{"multiple docs", []string{strings.Repeat("字", 1000), strings.Repeat("字", 1000)}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.EstimateChunkCount(tt.contents); got != tt.want {
				t.Errorf("EstimateChunkCount() = %d, want %d", got, tt.want)
			}
		})
	}
}
