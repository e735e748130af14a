package puzzle

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"
)

// BackgroundSource supplies a background image at the requested canvas
// size. Implementations must return a fresh or read-only image; the
// generator never mutates it.
type BackgroundSource interface {
	Background(width, height int) (image.Image, error)
}

// DirSource picks a random image file from an asset directory and
// scales it to the canvas. Supported formats: PNG, JPEG.
type DirSource struct {
	dir   string
	files []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDirSource lists the usable images under dir. It fails when the
// directory is unreadable or holds no decodable files, so a
// misconfigured asset path surfaces at startup rather than per request.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read asset dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no PNG/JPEG assets in %s", dir)
	}
	return &DirSource{
		dir:   dir,
		files: files,
		rng:   rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

// Background implements BackgroundSource.
func (s *DirSource) Background(width, height int) (image.Image, error) {
	s.mu.Lock()
	path := s.files[s.rng.Intn(len(s.files))]
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asset %s: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", path, err)
	}

	if b := src.Bounds(); b.Dx() == width && b.Dy() == height {
		return src, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst, nil
}

// ProceduralSource draws backgrounds on the fly: a two-stop gradient
// with translucent circles and strokes scattered on top. The texture is
// busy enough that the cut piece is only matchable at its true slot.
type ProceduralSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewProceduralSource creates a ProceduralSource with its own RNG. The
// randomness here is purely visual; target positions come from
// crypto/rand in the generator.
func NewProceduralSource() *ProceduralSource {
	return &ProceduralSource{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// Background implements BackgroundSource.
func (s *ProceduralSource) Background(width, height int) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rng := s.rng

	dc := gg.NewContext(width, height)

	grad := gg.NewLinearGradient(0, 0, float64(width), float64(height))
	grad.AddColorStop(0, randomColor(rng, 0.25, 0.6))
	grad.AddColorStop(1, randomColor(rng, 0.35, 0.75))
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()

	// Translucent circles give the piece a matchable local texture.
	for i := 0; i < 24; i++ {
		c := randomColor(rng, 0.2, 0.9)
		c.A = uint8(60 + rng.Intn(120))
		dc.SetColor(c)
		r := 6 + rng.Float64()*float64(height)/4
		dc.DrawCircle(rng.Float64()*float64(width), rng.Float64()*float64(height), r)
		dc.Fill()
	}

	// A few thin strokes break up the gradient bands.
	for i := 0; i < 8; i++ {
		c := randomColor(rng, 0.1, 0.95)
		c.A = uint8(40 + rng.Intn(80))
		dc.SetColor(c)
		dc.SetLineWidth(1 + rng.Float64()*2)
		dc.DrawLine(
			rng.Float64()*float64(width), rng.Float64()*float64(height),
			rng.Float64()*float64(width), rng.Float64()*float64(height),
		)
		dc.Stroke()
	}

	return dc.Image(), nil
}

func randomColor(rng *rand.Rand, lo, hi float64) color.NRGBA {
	span := hi - lo
	return color.NRGBA{
		R: uint8(255 * (lo + span*rng.Float64())),
		G: uint8(255 * (lo + span*rng.Float64())),
		B: uint8(255 * (lo + span*rng.Float64())),
		A: 255,
	}
}
