package gallery

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

func TestEnsureRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	store := NewStore(root)

	if err := store.EnsureRoot(); err != nil {
		t.Fatalf("EnsureRoot failed: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("root was not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("root is not a directory")
	}

	// second call must be a no-op
	if err := store.EnsureRoot(); err != nil {
		t.Errorf("EnsureRoot on existing root failed: %v", err)
	}
}

func TestAddImage_LocalKeepsBasename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "portrait.jpg")
	writeFile(t, src, "jpeg bytes")

	store := NewStore(filepath.Join(dir, "db"))
	if err := store.EnsureRoot(); err != nil {
		t.Fatalf("EnsureRoot failed: %v", err)
	}

	name, err := store.AddImage("alice", src, false)
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if name != "portrait.jpg" {
		t.Errorf("stored name = %q, want %q", name, "portrait.jpg")
	}

	stored, err := os.ReadFile(filepath.Join(store.Root(), "alice", "portrait.jpg"))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(stored) != "jpeg bytes" {
		t.Errorf("stored content = %q, want %q", stored, "jpeg bytes")
	}

	// source file must survive the copy
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source file was removed: %v", err)
	}
}

func TestAddImage_RemoteSequencedNames(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "db"))
	if err := store.EnsureRoot(); err != nil {
		t.Fatalf("EnsureRoot failed: %v", err)
	}

	first := filepath.Join(dir, "download1.jpg")
	second := filepath.Join(dir, "download2.jpg")
	writeFile(t, first, "first download")
	writeFile(t, second, "second download")

	name, err := store.AddImage("bob", first, true)
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if name != "bob_1.jpg" {
		t.Errorf("first remote name = %q, want %q", name, "bob_1.jpg")
	}

	name, err = store.AddImage("bob", second, true)
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if name != "bob_2.jpg" {
		t.Errorf("second remote name = %q, want %q", name, "bob_2.jpg")
	}
}

func TestAddImage_RemoteSkipsOccupiedName(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "db"))
	writeFile(t, filepath.Join(store.Root(), "bob", "bob_1.jpg"), "already here")

	src := filepath.Join(dir, "download.jpg")
	writeFile(t, src, "new download")

	// one existing entry puts the sequence at 2; bob_2.jpg is free
	name, err := store.AddImage("bob", src, true)
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if name != "bob_2.jpg" {
		t.Errorf("stored name = %q, want %q", name, "bob_2.jpg")
	}
}

func TestAddImage_RemoteStepsPastCollision(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "db"))
	writeFile(t, filepath.Join(store.Root(), "bob", "bob_2.jpg"), "occupant")

	src := filepath.Join(dir, "download.jpg")
	writeFile(t, src, "new download")

	// sequence starts at 2, finds bob_2.jpg occupied by different
	// content and moves on
	name, err := store.AddImage("bob", src, true)
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if name != "bob_3.jpg" {
		t.Errorf("stored name = %q, want %q", name, "bob_3.jpg")
	}
	occupant, err := os.ReadFile(filepath.Join(store.Root(), "bob", "bob_2.jpg"))
	if err != nil {
		t.Fatalf("existing file missing: %v", err)
	}
	if string(occupant) != "occupant" {
		t.Errorf("existing file was overwritten: %q", occupant)
	}
}

func TestAddImage_LocalCollisionDifferentContent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "db"))

	srcA := filepath.Join(dir, "a", "img.jpg")
	srcB := filepath.Join(dir, "b", "img.jpg")
	writeFile(t, srcA, "content A")
	writeFile(t, srcB, "content B")

	if _, err := store.AddImage("alice", srcA, false); err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	name, err := store.AddImage("alice", srcB, false)
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if name != "img_2.jpg" {
		t.Errorf("stored name = %q, want %q", name, "img_2.jpg")
	}

	original, err := os.ReadFile(filepath.Join(store.Root(), "alice", "img.jpg"))
	if err != nil {
		t.Fatalf("original file missing: %v", err)
	}
	if string(original) != "content A" {
		t.Errorf("original file was overwritten: %q", original)
	}
}

func TestAddImage_DuplicateContent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "db"))

	src := filepath.Join(dir, "img.jpg")
	writeFile(t, src, "same bytes")

	if _, err := store.AddImage("alice", src, false); err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}

	_, err := store.AddImage("alice", src, false)
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
	if dup.Existing != "img.jpg" || dup.Identity != "alice" {
		t.Errorf("DuplicateError = %+v, want existing img.jpg for alice", dup)
	}

	entries, err := os.ReadDir(filepath.Join(store.Root(), "alice"))
	if err != nil {
		t.Fatalf("failed to read identity directory: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("identity directory holds %d files, want 1", len(entries))
	}
}

func TestAddImage_DuplicateUnderOtherName(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "db"))

	srcA := filepath.Join(dir, "a", "img.jpg")
	srcB := filepath.Join(dir, "b", "img.jpg")
	writeFile(t, srcA, "same bytes")
	writeFile(t, srcB, "same bytes")

	if _, err := store.AddImage("alice", srcA, false); err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}

	_, err := store.AddImage("alice", srcB, false)
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
}

func TestAddImage_MissingSource(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "db"))
	if err := store.EnsureRoot(); err != nil {
		t.Fatalf("EnsureRoot failed: %v", err)
	}

	missing := filepath.Join(dir, "nope.jpg")
	_, err := store.AddImage("alice", missing, false)
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	want := "Error: File " + missing + " does not exist"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}

	// a failed add must not leave an identity directory behind
	if _, err := os.Stat(filepath.Join(store.Root(), "alice")); !os.IsNotExist(err) {
		t.Error("identity directory was created for a failed add")
	}
}

func TestAddImage_PreservesModTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "img.jpg")
	writeFile(t, src, "bytes")

	stamp := time.Date(2023, 5, 14, 10, 30, 0, 0, time.UTC)
	if err := os.Chtimes(src, stamp, stamp); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}

	store := NewStore(filepath.Join(dir, "db"))
	name, err := store.AddImage("alice", src, false)
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(store.Root(), "alice", name))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if !info.ModTime().Equal(stamp) {
		t.Errorf("stored mtime = %v, want %v", info.ModTime(), stamp)
	}
}

func TestEmpty(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "db"))
		empty, err := store.Empty()
		if err != nil {
			t.Fatalf("Empty failed: %v", err)
		}
		if !empty {
			t.Error("missing root should count as empty")
		}
	})

	t.Run("only cache file", func(t *testing.T) {
		store := NewStore(t.TempDir())
		writeFile(t, store.CachePath(), "sqlite")
		empty, err := store.Empty()
		if err != nil {
			t.Fatalf("Empty failed: %v", err)
		}
		if !empty {
			t.Error("cache file should not count as gallery content")
		}
	})

	t.Run("identity without images", func(t *testing.T) {
		store := NewStore(t.TempDir())
		if err := os.MkdirAll(filepath.Join(store.Root(), "alice"), 0750); err != nil {
			t.Fatal(err)
		}
		empty, err := store.Empty()
		if err != nil {
			t.Fatalf("Empty failed: %v", err)
		}
		if !empty {
			t.Error("identity without images should count as empty")
		}
	})

	t.Run("identity with image", func(t *testing.T) {
		store := NewStore(t.TempDir())
		writeFile(t, filepath.Join(store.Root(), "alice", "img.jpg"), "bytes")
		empty, err := store.Empty()
		if err != nil {
			t.Fatalf("Empty failed: %v", err)
		}
		if empty {
			t.Error("gallery with an image should not be empty")
		}
	})
}

func TestIdentitiesAndImages(t *testing.T) {
	store := NewStore(t.TempDir())
	writeFile(t, filepath.Join(store.Root(), "bob", "bob_1.jpg"), "b1")
	writeFile(t, filepath.Join(store.Root(), "alice", "img.jpg"), "a1")
	writeFile(t, filepath.Join(store.Root(), "alice", "img2.png"), "a2")
	writeFile(t, filepath.Join(store.Root(), "alice", "notes.txt"), "not an image")
	writeFile(t, filepath.Join(store.Root(), CacheFileName), "sqlite")

	identities, err := store.Identities()
	if err != nil {
		t.Fatalf("Identities failed: %v", err)
	}
	if len(identities) != 2 {
		t.Fatalf("got %d identities, want 2", len(identities))
	}
	if identities[0].Name != "alice" || identities[0].Images != 2 {
		t.Errorf("identities[0] = %+v, want alice with 2 images", identities[0])
	}
	if identities[1].Name != "bob" || identities[1].Images != 1 {
		t.Errorf("identities[1] = %+v, want bob with 1 image", identities[1])
	}

	images, err := store.Images()
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	if len(images) != 3 {
		t.Fatalf("got %d images, want 3", len(images))
	}
	for _, img := range images {
		if strings.HasSuffix(img, ".txt") {
			t.Errorf("non-image file listed: %s", img)
		}
	}
	if got := store.IdentityOf(images[0]); got != "alice" {
		t.Errorf("IdentityOf(%s) = %q, want %q", images[0], got, "alice")
	}
}

func TestImagesOf(t *testing.T) {
	store := NewStore(t.TempDir())
	writeFile(t, filepath.Join(store.Root(), "alice", "img.jpg"), "a1")

	images, err := store.ImagesOf("alice")
	if err != nil {
		t.Fatalf("ImagesOf failed: %v", err)
	}
	if len(images) != 1 {
		t.Errorf("got %d images, want 1", len(images))
	}

	// unknown identity is not an error
	images, err = store.ImagesOf("nobody")
	if err != nil {
		t.Fatalf("ImagesOf for unknown identity failed: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("got %d images for unknown identity, want 0", len(images))
	}
}

func TestRelPath(t *testing.T) {
	store := NewStore(t.TempDir())
	abs := filepath.Join(store.Root(), "alice", "img.jpg")
	if got := store.RelPath(abs); got != filepath.Join("alice", "img.jpg") {
		t.Errorf("RelPath = %q, want %q", got, filepath.Join("alice", "img.jpg"))
	}
}

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"alice", false},
		{"John Doe", false},
		{"Jiří", false},
		{"", true},
		{".", true},
		{"..", true},
		{"a/b", true},
		{`a\b`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentity(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentity(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestSimilarIdentity(t *testing.T) {
	store := NewStore(t.TempDir())
	writeFile(t, filepath.Join(store.Root(), "Jiří Suchánek", "img.jpg"), "bytes")

	similar, err := store.SimilarIdentity("jiri-suchanek")
	if err != nil {
		t.Fatalf("SimilarIdentity failed: %v", err)
	}
	if similar != "Jiří Suchánek" {
		t.Errorf("similar = %q, want %q", similar, "Jiří Suchánek")
	}

	// exact same name is not a near-duplicate
	similar, err = store.SimilarIdentity("Jiří Suchánek")
	if err != nil {
		t.Fatalf("SimilarIdentity failed: %v", err)
	}
	if similar != "" {
		t.Errorf("similar = %q, want empty for exact match", similar)
	}

	similar, err = store.SimilarIdentity("someone else")
	if err != nil {
		t.Fatalf("SimilarIdentity failed: %v", err)
	}
	if similar != "" {
		t.Errorf("similar = %q, want empty for unrelated name", similar)
	}
}
