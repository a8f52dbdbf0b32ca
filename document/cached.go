package document

import (
	"bytes"
	"context"
	"image"
	"log/slog"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"go.aimuz.me/slidemark/cache"
)

// Cached serves page rasters from a cache before rendering them.
type Cached struct {
	Document
	cache *cache.Cache
	id    string
	ttl   time.Duration
}

// NewCached wraps doc. id must identify the document content; rasters are
// keyed by id, page and scale.
func NewCached(doc Document, c *cache.Cache, id string, ttl time.Duration) *Cached {
	return &Cached{Document: doc, cache: c, id: id, ttl: ttl}
}

// Render returns the cached raster or renders and stores it. Cache failures
// fall back to rendering.
func (c *Cached) Render(ctx context.Context, page int, scale float64) (image.Image, error) {
	key := cache.GenerateKey(c.id, strconv.Itoa(page), strconv.FormatFloat(scale, 'f', 4, 64))

	if entry, ok := c.cache.Get(key); ok {
		img, err := imaging.Decode(bytes.NewReader(entry.PNG))
		if err == nil {
			slog.Debug("page cache hit", "page", page, "scale", scale)
			return img, nil
		}
		slog.Warn("decode cached page", "page", page, "error", err)
	}

	img, err := c.Document.Render(ctx, page, scale)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		slog.Warn("encode page for cache", "page", page, "error", err)
		return img, nil
	}
	b := img.Bounds()
	entry := &cache.Entry{
		PNG:       buf.Bytes(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		CreatedAt: time.Now(),
	}
	if err := c.cache.Set(key, entry, c.ttl); err != nil {
		slog.Warn("cache page", "page", page, "error", err)
	}
	return img, nil
}
