package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func infos(sizes ...int64) []Info {
	now := time.Now()
	out := make([]Info, len(sizes))
	for i, s := range sizes {
		out[i] = Info{
			Path:      filepath.Join("/b", string(rune('a'+i))),
			Size:      s,
			CreatedAt: now.Add(-time.Duration(i) * 24 * time.Hour),
		}
	}
	return out
}

func TestCountPolicy(t *testing.T) {
	tests := []struct {
		name string
		max  int
		in   int
		want int
	}{
		{"keeps N newest", 3, 5, 3},
		{"fewer than N", 5, 1, 1},
		{"zero keeps none", 0, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backups := infos(make([]int64, tt.in)...)
			keep := (&CountPolicy{MaxCount: tt.max}).Apply(backups)
			if len(keep) != tt.want {
				t.Errorf("kept %d, want %d", len(keep), tt.want)
			}
			if len(keep) > 0 && keep[0].Path != backups[0].Path {
				t.Errorf("first kept = %s, want newest", keep[0].Path)
			}
		})
	}
}

func TestAgePolicy(t *testing.T) {
	backups := infos(1, 1, 1, 1) // 0, 1, 2, 3 days old
	keep := (&AgePolicy{MaxAge: 36 * time.Hour}).Apply(backups)
	if len(keep) != 2 {
		t.Errorf("kept %d, want 2", len(keep))
	}
}

func TestSizePolicy(t *testing.T) {
	keep := (&SizePolicy{MaxTotalBytes: 250}).Apply(infos(100, 100, 100))
	if len(keep) != 2 {
		t.Errorf("kept %d, want 2", len(keep))
	}

	// The newest archive survives even when it alone exceeds the limit.
	keep = (&SizePolicy{MaxTotalBytes: 10}).Apply(infos(100, 100))
	if len(keep) != 1 {
		t.Errorf("kept %d, want 1", len(keep))
	}
}

func TestCompositePolicy_Union(t *testing.T) {
	backups := infos(100, 100, 100, 100)
	policy := &CompositePolicy{Policies: []RetentionPolicy{
		&CountPolicy{MaxCount: 1},
		&AgePolicy{MaxAge: 60 * time.Hour},
	}}
	keep := policy.Apply(backups)
	if len(keep) != 3 {
		t.Errorf("kept %d, want 3", len(keep))
	}
	for i := 1; i < len(keep); i++ {
		if keep[i-1].Path > keep[i].Path {
			t.Error("composite result should preserve input order")
		}
	}
}

func TestListAndApplyRetention(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := seededStore(t, "a")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var paths []string
	for i := 0; i < 4; i++ {
		p := GeneratePath(dir, base.Add(time.Duration(i)*time.Hour))
		if _, err := Create(ctx, src, p); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		paths = append(paths, p)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	list, err := List(dir)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("List() returned %d, want 4", len(list))
	}
	if list[0].Path != paths[3] {
		t.Errorf("newest = %s, want %s", list[0].Path, paths[3])
	}
	if list[0].RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", list[0].RunCount)
	}

	deleted, err := ApplyRetention(dir, &CountPolicy{MaxCount: 2})
	if err != nil {
		t.Fatalf("ApplyRetention() error = %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted %d, want 2", len(deleted))
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Errorf("oldest archive should be deleted, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestList_MissingDir(t *testing.T) {
	list, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil || list != nil {
		t.Errorf("List() = %v, %v, want nil, nil", list, err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"720h", 720 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"", 0, true},
		{"d", 0, true},
		{"5y", 0, true},
		{"xd", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100B", 100, false},
		{"500KB", 500 << 10, false},
		{"100MB", 100 << 20, false},
		{" 1GB ", 1 << 30, false},
		{"", 0, true},
		{"10", 0, true},
		{"xMB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
