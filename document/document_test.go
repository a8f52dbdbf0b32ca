package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/slidemark/cache"
)

// minimalPDF builds a PDF with one blank page per size.
func minimalPDF(sizes ...[2]int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := range sizes {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(sizes)))
	for _, s := range sizes {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] >>", s[0], s[1]))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestFitz(t *testing.T) {
	doc, err := OpenFitz(minimalPDF([2]int{200, 100}, [2]int{300, 400}))
	if err != nil {
		t.Fatalf("OpenFitz() error = %v", err)
	}
	defer doc.Close()

	if n := doc.NumPages(); n != 2 {
		t.Fatalf("NumPages() = %d, want 2", n)
	}
	if doc.Digest() == "" {
		t.Error("Digest() is empty")
	}

	w, h, err := doc.PageSize(2)
	if err != nil || w != 300 || h != 400 {
		t.Errorf("PageSize(2) = %v, %v, %v; want 300, 400", w, h, err)
	}

	img, err := doc.Render(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if b := img.Bounds(); abs(b.Dx()-400) > 1 || abs(b.Dy()-200) > 1 {
		t.Errorf("rendered size = %v, want about 400x200", b.Size())
	}
}

func TestFitz_Errors(t *testing.T) {
	doc, err := OpenFitz(minimalPDF([2]int{100, 100}))
	if err != nil {
		t.Fatalf("OpenFitz() error = %v", err)
	}
	defer doc.Close()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		page  int
		scale float64
		want  error
	}{
		{"page zero", context.Background(), 0, 1, ErrPageRange},
		{"past the end", context.Background(), 2, 1, ErrPageRange},
		{"cancelled", cancelled, 1, 1, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := doc.Render(tt.ctx, tt.page, tt.scale)
			if !errors.Is(err, tt.want) {
				t.Errorf("Render() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, _, err := doc.PageSize(5); !errors.Is(err, ErrPageRange) {
		t.Errorf("PageSize(5) error = %v, want ErrPageRange", err)
	}
}

func TestOpenFitz_Invalid(t *testing.T) {
	if _, err := OpenFitz([]byte("not a document")); err == nil {
		t.Error("OpenFitz() accepted garbage")
	}
}

type countingDoc struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDoc) NumPages() int                          { return 3 }
func (d *countingDoc) PageSize(int) (float64, float64, error) { return 10, 20, nil }
func (d *countingDoc) Close() error                           { return nil }

func (d *countingDoc) Render(_ context.Context, _ int, scale float64) (image.Image, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return image.NewRGBA(image.Rect(0, 0, int(10*scale), int(20*scale))), nil
}

func TestCached(t *testing.T) {
	c, err := cache.New("")
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	defer c.Close()

	doc := &countingDoc{}
	cd := NewCached(doc, c, "digest", time.Hour)

	for range 3 {
		img, err := cd.Render(context.Background(), 1, 2)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 40 {
			t.Errorf("size = %v, want 20x40", b.Size())
		}
	}
	if doc.calls != 1 {
		t.Errorf("underlying renders = %d, want 1", doc.calls)
	}

	// A different scale is a different raster.
	if _, err := cd.Render(context.Background(), 1, 1); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if doc.calls != 2 {
		t.Errorf("underlying renders = %d, want 2", doc.calls)
	}
	if cd.NumPages() != 3 {
		t.Errorf("NumPages() = %d, want 3", cd.NumPages())
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
