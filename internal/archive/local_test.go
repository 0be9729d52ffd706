package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStore_PutGet(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	loc, err := st.Put(ctx, "m1/transcript.json", strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if want := filepath.Join(dir, "m1", "transcript.json"); loc != want {
		t.Errorf("location = %q, want %q", loc, want)
	}

	rc, err := st.Get(ctx, "m1/transcript.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != `{"ok":true}` {
		t.Errorf("content = %q", got)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "m1"))
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (no temp files left)", len(entries))
	}
}

func TestLocalStore_PutReplaces(t *testing.T) {
	t.Parallel()
	st, _ := NewLocal(t.TempDir())
	ctx := context.Background()
	if _, err := st.Put(ctx, "a.txt", strings.NewReader("first")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Put(ctx, "a.txt", strings.NewReader("second")); err != nil {
		t.Fatal(err)
	}
	rc, err := st.Get(ctx, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	if got, _ := io.ReadAll(rc); string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}
}

func TestLocalStore_GetMissing(t *testing.T) {
	t.Parallel()
	st, _ := NewLocal(t.TempDir())
	_, err := st.Get(context.Background(), "nope.ogg")
	if !errors.Is(err, ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestLocalStore_FailedPutLeavesNothing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, _ := NewLocal(dir)
	if _, err := st.Put(context.Background(), "x/rec.ogg", failingReader{}); err == nil {
		t.Fatal("Put error = nil, want error")
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "x"))
	if len(entries) != 0 {
		t.Errorf("dir has %d entries after failed put, want 0", len(entries))
	}
}

func TestCleanKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"a/b.ogg", "a/b.ogg", false},
		{"a/./b.ogg", "a/b.ogg", false},
		{"a/../b.ogg", "b.ogg", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"../escape", "", true},
		{"a/../../escape", "", true},
		{".", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			got, err := cleanKey(tc.key)
			if (err != nil) != tc.wantErr {
				t.Fatalf("cleanKey(%q) error = %v, wantErr %v", tc.key, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("cleanKey(%q) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}
