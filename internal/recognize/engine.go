package recognize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"facegallery/internal/facecache"
	"facegallery/internal/gallery"
)

// Engine embeds a query face and ranks every indexed gallery face against
// it. The index is rebuilt from the gallery directory on each search;
// embeddings are reused through the cache when image content is unchanged.
type Engine struct {
	client    *Client
	store     *gallery.Store
	cache     *facecache.Cache
	progress  bool
	expectDim int
}

// EngineOptions configures an Engine. Cache may be nil to embed every
// image on every search. ExpectDim, when positive, is the embedding
// dimension the configured model is known to produce; a query embedding
// of a different size draws a warning.
type EngineOptions struct {
	Client    *Client
	Store     *gallery.Store
	Cache     *facecache.Cache
	Progress  bool
	ExpectDim int
}

// NewEngine creates a search engine over a gallery store.
func NewEngine(opts EngineOptions) *Engine {
	return &Engine{
		client:    opts.Client,
		store:     opts.Store,
		cache:     opts.Cache,
		progress:  opts.Progress,
		expectDim: opts.ExpectDim,
	}
}

// SearchOptions bound a search.
type SearchOptions struct {
	Limit       int     // maximum matches returned, 0 means all
	MaxDistance float64 // drop matches above this distance, 0 disables
}

// FindMatches embeds the face in the query image and returns gallery
// faces sorted by ascending cosine distance. When the detector reports
// several faces in the query, the first one drives the search. An empty
// result means the gallery produced no indexable faces or nothing passed
// the distance bound.
func (e *Engine) FindMatches(ctx context.Context, queryPath string, opts SearchOptions) ([]Match, error) {
	queryData, err := os.ReadFile(queryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read query image: %w", err)
	}

	queryResp, err := e.client.FaceEmbeddings(ctx, queryData)
	if err != nil {
		return nil, err
	}
	if len(queryResp.Faces) == 0 {
		return nil, errors.New("no face detected in query image")
	}
	query := queryResp.Faces[0].Embedding
	if e.expectDim > 0 && len(query) != e.expectDim {
		fmt.Fprintf(os.Stderr, "Warning: model %s returned a %d-dimensional embedding, expected %d\n",
			e.client.Model(), len(query), e.expectDim)
	}

	index, err := e.buildIndex(ctx)
	if err != nil {
		return nil, err
	}
	if index.Len() == 0 {
		return nil, nil
	}

	k := index.Len()
	if opts.MaxDistance <= 0 && opts.Limit > 0 && opts.Limit < k {
		k = opts.Limit
	}

	matches, err := index.Search(query, k)
	if err != nil {
		return nil, err
	}
	if opts.MaxDistance > 0 {
		kept := matches[:0]
		for _, m := range matches {
			if m.Distance <= opts.MaxDistance {
				kept = append(kept, m)
			}
		}
		matches = kept
	}
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

// buildIndex walks the gallery and indexes every detected face. Images
// the embedding service cannot process are skipped with a warning so one
// bad file does not break the whole search.
func (e *Engine) buildIndex(ctx context.Context) (*Index, error) {
	images, err := e.store.Images()
	if err != nil {
		return nil, err
	}

	index := NewIndex()
	if len(images) == 0 {
		return index, nil
	}

	var bar *progressbar.ProgressBar
	if e.progress {
		bar = progressbar.NewOptions(len(images),
			progressbar.OptionSetDescription("Indexing gallery"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	keys := make([]string, 0, len(images))
	for _, imagePath := range images {
		keys = append(keys, e.store.RelPath(imagePath))

		faces, err := e.imageFaces(ctx, imagePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to process %s: %v\n", imagePath, err)
			if bar != nil {
				bar.Add(1)
			}
			continue
		}
		identity := e.store.IdentityOf(imagePath)
		for _, face := range faces {
			indexed := IndexedFace{
				Identity:  identity,
				ImagePath: imagePath,
				FaceIndex: face.FaceIndex,
				Embedding: face.Embedding,
			}
			if err := index.Add(indexed); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: skipping face %d of %s: %v\n", face.FaceIndex, imagePath, err)
			}
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		fmt.Println()
	}

	if e.cache != nil {
		if _, err := e.cache.Prune(ctx, keys); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to prune embedding cache: %v\n", err)
		}
	}
	return index, nil
}

// imageFaces returns the faces of one gallery image, from the cache when
// its size, mtime and embedding model still match, from the service
// otherwise.
func (e *Engine) imageFaces(ctx context.Context, imagePath string) ([]facecache.Face, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, err
	}
	key := e.store.RelPath(imagePath)
	model := e.client.Model()

	if e.cache != nil {
		faces, ok, err := e.cache.Lookup(ctx, key, info.Size(), info.ModTime().UnixNano(), model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cache lookup failed for %s: %v\n", key, err)
		} else if ok {
			return faces, nil
		}
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.FaceEmbeddings(ctx, data)
	if err != nil {
		return nil, err
	}

	faces := make([]facecache.Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		bbox := ""
		if len(f.BBox) > 0 {
			if encoded, err := json.Marshal(f.BBox); err == nil {
				bbox = string(encoded)
			}
		}
		faces = append(faces, facecache.Face{
			FaceIndex: f.FaceIndex,
			Embedding: f.Embedding,
			BBox:      bbox,
			DetScore:  f.DetScore,
		})
	}

	if e.cache != nil {
		entry := facecache.Entry{
			Path:      key,
			Size:      info.Size(),
			ModTimeNS: info.ModTime().UnixNano(),
			Model:     model,
			Faces:     faces,
		}
		if err := e.cache.Store(ctx, entry); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cache store failed for %s: %v\n", key, err)
		}
	}
	return faces, nil
}
