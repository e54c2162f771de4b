// Package gallery manages the on-disk face gallery: a root directory with
// one subdirectory per identity, each holding that person's reference
// images. The directory tree is the only persistent state.
package gallery

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CacheFileName is the embedding cache the match engine keeps inside the
// gallery root. It is never treated as gallery content.
const CacheFileName = ".embeddings.db"

// DuplicateError reports an add whose content is byte-identical to an
// image already stored for the identity.
type DuplicateError struct {
	Identity string
	Existing string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("identical image already stored as %s for %s", e.Existing, e.Identity)
}

// NotFoundError reports a source image path that does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Error: File %s does not exist", e.Path)
}

// Identity summarizes one gallery subdirectory.
type Identity struct {
	Name   string `json:"name"`
	Images int    `json:"images"`
}

// Store reads and writes a gallery rooted at a single directory.
type Store struct {
	root string
}

// NewStore creates a store for the given root. The directory does not
// have to exist yet.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the gallery root directory.
func (s *Store) Root() string {
	return s.root
}

// CachePath returns the location of the embedding cache inside the root.
func (s *Store) CachePath() string {
	return filepath.Join(s.root, CacheFileName)
}

// EnsureRoot creates the gallery root if it is missing. Calling it on an
// existing gallery is a no-op.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0750); err != nil {
		return fmt.Errorf("failed to create gallery root %s: %w", s.root, err)
	}
	return nil
}

// ValidateIdentity rejects names that cannot serve as a directory key.
func ValidateIdentity(name string) error {
	if name == "" {
		return errors.New("identity name must not be empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid identity name %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("identity name %q must not contain path separators", name)
	}
	return nil
}

// AddImage stores the file at srcPath as a reference image for identity
// and returns the filename it was stored under. Remote sources get
// synthesized names (<identity>_<seq><ext>); local sources keep their
// base filename. An existing file is never overwritten: identical content
// is reported as *DuplicateError, differing content moves on to the next
// free name.
func (s *Store) AddImage(identity, srcPath string, remote bool) (string, error) {
	if _, err := os.Stat(srcPath); err != nil {
		return "", &NotFoundError{Path: srcPath}
	}

	dir := filepath.Join(s.root, identity)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create identity directory: %w", err)
	}

	name, err := s.destinationName(dir, identity, srcPath, remote)
	if err != nil {
		return "", err
	}

	if err := copyFilePreserving(srcPath, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return name, nil
}

// destinationName picks a target filename per the naming rules, stepping
// over occupied names until a free one is found.
func (s *Store) destinationName(dir, identity, srcPath string, remote bool) (string, error) {
	if remote {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", fmt.Errorf("failed to read identity directory: %w", err)
		}
		ext := filepath.Ext(srcPath)
		for seq := len(entries) + 1; ; seq++ {
			name := fmt.Sprintf("%s_%d%s", identity, seq, ext)
			free, err := s.nameFree(dir, name, srcPath, identity)
			if err != nil {
				return "", err
			}
			if free {
				return name, nil
			}
		}
	}

	base := filepath.Base(srcPath)
	free, err := s.nameFree(dir, base, srcPath, identity)
	if err != nil {
		return "", err
	}
	if free {
		return base, nil
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for seq := 2; ; seq++ {
		name := fmt.Sprintf("%s_%d%s", stem, seq, ext)
		free, err := s.nameFree(dir, name, srcPath, identity)
		if err != nil {
			return "", err
		}
		if free {
			return name, nil
		}
	}
}

// nameFree reports whether name is unoccupied in dir. An occupied name
// holding content identical to srcPath aborts the add with *DuplicateError.
func (s *Store) nameFree(dir, name, srcPath, identity string) (bool, error) {
	existing := filepath.Join(dir, name)
	if _, err := os.Stat(existing); err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to inspect %s: %w", existing, err)
	}
	same, err := sameContent(srcPath, existing)
	if err != nil {
		return false, err
	}
	if same {
		return false, &DuplicateError{Identity: identity, Existing: name}
	}
	return false, nil
}

// Empty reports whether no identity holds a reference image. Stray files
// in the root, including the embedding cache, do not count.
func (s *Store) Empty() (bool, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read gallery root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		images, err := s.identityImages(entry.Name())
		if err != nil {
			return false, err
		}
		if len(images) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// Identities lists gallery identities with their image counts, sorted by
// name. Identities without a single image are still listed.
func (s *Store) Identities() ([]Identity, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read gallery root: %w", err)
	}
	var out []Identity
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		images, err := s.identityImages(entry.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, Identity{Name: entry.Name(), Images: len(images)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Images returns the paths of all reference images in the gallery, sorted.
// Each path is rooted at the store root; IdentityOf recovers the owner.
func (s *Store) Images() ([]string, error) {
	identities, err := s.Identities()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range identities {
		images, err := s.identityImages(id.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, images...)
	}
	sort.Strings(out)
	return out, nil
}

// ImagesOf returns the reference image paths stored for one identity.
// An identity without a directory has no images.
func (s *Store) ImagesOf(identity string) ([]string, error) {
	images, err := s.identityImages(identity)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return images, nil
}

// identityImages lists image paths under one identity directory, ignoring
// nested directories and non-image files.
func (s *Store) identityImages(identity string) ([]string, error) {
	dir := filepath.Join(s.root, identity)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity directory %s: %w", dir, err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	return out, nil
}

// IdentityOf derives the identity owning an image path returned by Images,
// which is the name of its parent directory.
func (s *Store) IdentityOf(imagePath string) string {
	return filepath.Base(filepath.Dir(imagePath))
}

// RelPath returns an image path relative to the gallery root, used as a
// stable cache key. Paths outside the root are returned unchanged.
func (s *Store) RelPath(imagePath string) string {
	rel, err := filepath.Rel(s.root, imagePath)
	if err != nil {
		return imagePath
	}
	return rel
}

// SimilarIdentity returns an existing identity whose normalized name
// matches the candidate's but whose spelling differs, or "" when there is
// none. Used to warn about near-duplicate identities like "Jiri"/"Jiří".
func (s *Store) SimilarIdentity(name string) (string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read gallery root: %w", err)
	}
	want := NormalizeIdentity(name)
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == name {
			continue
		}
		if NormalizeIdentity(entry.Name()) == want {
			return entry.Name(), nil
		}
	}
	return "", nil
}

// isImageFile checks if a file has a supported image extension
func isImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	supported := map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".gif":  true,
		".heic": true,
		".heif": true,
		".webp": true,
		".tiff": true,
		".tif":  true,
		".bmp":  true,
		".raw":  true,
		".cr2":  true,
		".nef":  true,
		".arw":  true,
		".dng":  true,
	}
	return supported[ext]
}

// sameContent compares two files by SHA-256 digest.
func sameContent(a, b string) (bool, error) {
	ha, err := hashFile(a)
	if err != nil {
		return false, err
	}
	hb, err := hashFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ha, hb), nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// copyFilePreserving copies src to dst, carrying over the source's file
// mode and modification time.
func copyFilePreserving(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
