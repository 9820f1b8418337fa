package corpus

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitter_Split(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    []string
	}{
		{
			name: "fits in one chunk",
			size: 100,
			text: "  hello world \n",
			want: []string{"hello world"},
		},
		{
			name: "paragraphs",
			size: 10,
			text: "aaaa\n\nbbbb\n\ncccc",
			want: []string{"aaaa\n\nbbbb", "cccc"},
		},
		{
			name:    "words with overlap",
			size:    10,
			overlap: 5,
			text:    "one two three four five",
			want:    []string{"one two", "two three", "four five"},
		},
		{
			name: "falls back to runes",
			size: 4,
			text: "abcdefghij",
			want: []string{"abcd", "efgh", "ij"},
		},
		{
			name: "counts runes not bytes",
			size: 4,
			text: "你好世界你好",
			want: []string{"你好世界", "你好"},
		},
		{
			name: "recurses into long paragraphs",
			size: 12,
			text: "short\n\nword1 word2 word3",
			want: []string{"short", "word1 word2", "word3"},
		},
		{
			name: "blank text",
			size: 10,
			text: " \n\n \n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewSplitter(tt.size, tt.overlap).Split(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitter_ChunksRespectSize(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40) +
		"\n\n" + strings.Repeat("Pack my box with five dozen liquor jugs.\n", 30)

	for _, size := range []int{20, 50, 120, 500} {
		s := NewSplitter(size, size/5)
		chunks := s.Split(text)
		if len(chunks) == 0 {
			t.Fatalf("size %d: no chunks", size)
		}
		for i, c := range chunks {
			if n := utf8.RuneCountInString(c); n > size {
				t.Errorf("size %d: chunk %d has %d runes", size, i, n)
			}
			if c != strings.TrimSpace(c) || c == "" {
				t.Errorf("size %d: chunk %d not trimmed: %q", size, i, c)
			}
		}
	}
}

func TestNewSplitter_Clamps(t *testing.T) {
	s := NewSplitter(0, 5)
	if s.ChunkSize != 1 || s.ChunkOverlap != 0 {
		t.Errorf("NewSplitter(0, 5) = %d/%d, want 1/0", s.ChunkSize, s.ChunkOverlap)
	}
	s = NewSplitter(10, 20)
	if s.ChunkOverlap != 9 {
		t.Errorf("overlap = %d, want 9", s.ChunkOverlap)
	}
	s = NewSplitter(10, -1)
	if s.ChunkOverlap != 0 {
		t.Errorf("overlap = %d, want 0", s.ChunkOverlap)
	}
}

func TestSplitKeep(t *testing.T) {
	got := splitKeep("a\nb\n\nc", "\n")
	want := []string{"a", "\nb", "\n", "\nc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitKeep() = %q, want %q", got, want)
	}
}
