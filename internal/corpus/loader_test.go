package corpus

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "beta document")
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha document")
	writeFile(t, filepath.Join(dir, "notes.md"), "not part of the corpus")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "gamma document")
	writeFile(t, filepath.Join(dir, ".hidden", "d.txt"), "hidden document")
	writeFile(t, filepath.Join(dir, "bad.txt"), "\xff\xfe broken")
	return dir
}

func TestLoader_Load(t *testing.T) {
	dir := newTestCorpus(t)

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"default pattern is top level only", "", []string{"a.txt", "b.txt"}},
		{"double star descends", "**.txt", []string{"a.txt", "b.txt", "sub/c.txt"}},
		{"alternatives", "{*.md,sub/*}", []string{"notes.md", "sub/c.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLoader(dir, tt.pattern, NewSplitter(100, 0), nil)
			if err != nil {
				t.Fatalf("NewLoader() error = %v", err)
			}
			docs, err := l.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			var got []string
			for _, d := range docs {
				got = append(got, d.Source)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("sources = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoader_LoadChunks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "doc.txt"), "first paragraph\n\nsecond paragraph")

	l, err := NewLoader(dir, "", NewSplitter(20, 0), nil)
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := l.LoadChunks()
	if err != nil {
		t.Fatalf("LoadChunks() error = %v", err)
	}
	want := []Chunk{
		{ID: "doc.txt#0", Source: "doc.txt", Index: 0, Text: "first paragraph"},
		{ID: "doc.txt#1", Source: "doc.txt", Index: 1, Text: "second paragraph"},
	}
	if !reflect.DeepEqual(chunks, want) {
		t.Errorf("LoadChunks() = %+v, want %+v", chunks, want)
	}
}

func TestLoader_Errors(t *testing.T) {
	if _, err := NewLoader(t.TempDir(), "[", nil, nil); err == nil {
		t.Error("NewLoader() with an invalid pattern should fail")
	}

	l, _ := NewLoader(filepath.Join(t.TempDir(), "missing"), "", NewSplitter(10, 0), nil)
	if _, err := l.Load(); err == nil {
		t.Error("Load() of a missing directory should fail")
	}

	file := filepath.Join(t.TempDir(), "file.txt")
	writeFile(t, file, "x")
	l, _ = NewLoader(file, "", NewSplitter(10, 0), nil)
	if _, err := l.Load(); err == nil {
		t.Error("Load() of a regular file should fail")
	}
}

func TestWatcher_ReportsMatchingChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha")

	l, err := NewLoader(dir, "**.txt", NewSplitter(10, 0), nil)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(l, 30*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan []string, 16)
	go func() {
		_ = w.Run(ctx, func(paths []string) { changes <- paths })
	}()

	writeFile(t, filepath.Join(dir, "ignored.md"), "skip me")
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha v2")
	writeFile(t, filepath.Join(dir, "b.txt"), "beta")

	seen := map[string]bool{}
	timeout := time.After(3 * time.Second)
	for !seen["a.txt"] || !seen["b.txt"] {
		select {
		case paths := <-changes:
			for _, p := range paths {
				seen[p] = true
			}
		case <-timeout:
			t.Fatalf("changes seen = %v, want a.txt and b.txt", seen)
		}
	}
	if seen["ignored.md"] {
		t.Error("non-matching file was reported")
	}
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	l, err := NewLoader(t.TempDir(), "", NewSplitter(10, 0), nil)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(l, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func([]string) {}) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
