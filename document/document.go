// Package document decodes presentation files and renders their pages.
package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// ErrPageRange is returned for page numbers outside 1..NumPages.
var ErrPageRange = errors.New("document: page out of range")

// Document is a paged document. Page numbers are 1-based and sizes are in
// points; scale 1 renders at 72 DPI.
type Document interface {
	NumPages() int
	PageSize(page int) (w, h float64, err error)
	Render(ctx context.Context, page int, scale float64) (image.Image, error)
	Close() error
}

// Fitz renders documents with MuPDF. It is safe for concurrent use; calls
// into MuPDF are serialised.
type Fitz struct {
	mu     sync.Mutex
	doc    *fitz.Document
	pages  int
	digest string
}

// OpenFitz decodes a document held in memory.
func OpenFitz(data []byte) (*Fitz, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	sum := sha256.Sum256(data)
	return &Fitz{
		doc:    doc,
		pages:  doc.NumPage(),
		digest: hex.EncodeToString(sum[:]),
	}, nil
}

// OpenFitzFile reads and decodes the document at path.
func OpenFitzFile(path string) (*Fitz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return OpenFitz(data)
}

// Digest identifies the document content.
func (f *Fitz) Digest() string {
	return f.digest
}

// NumPages returns the page count.
func (f *Fitz) NumPages() int {
	return f.pages
}

// PageSize returns the page size in points.
func (f *Fitz) PageSize(page int) (float64, float64, error) {
	if page < 1 || page > f.pages {
		return 0, 0, fmt.Errorf("%w: %d of %d", ErrPageRange, page, f.pages)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.doc.Bound(page - 1)
	if err != nil {
		return 0, 0, fmt.Errorf("bound page %d: %w", page, err)
	}
	return float64(b.Dx()), float64(b.Dy()), nil
}

// Render rasterises page at scale. MuPDF cannot be interrupted, so ctx is
// checked before and after the render.
func (f *Fitz) Render(ctx context.Context, page int, scale float64) (image.Image, error) {
	if page < 1 || page > f.pages {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageRange, page, f.pages)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("render page %d: invalid scale %v", page, scale)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	img, err := f.doc.ImageDPI(page-1, 72*scale)
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return img, nil
}

// Close releases the MuPDF context.
func (f *Fitz) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Close()
}
