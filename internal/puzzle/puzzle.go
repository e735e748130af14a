// Package puzzle renders slider-puzzle captchas: a background with a
// cut-out slot and the matching piece, plus the true target coordinates
// that stay server-side.
package puzzle

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"image"
	"image/png"
	"math"
	"math/big"

	"github.com/fogleman/gg"
)

// Config controls puzzle geometry. Zero values fall back to defaults
// sized for a typical 320px slider widget.
type Config struct {
	Width      int // canvas width in px
	Height     int // canvas height in px
	PieceSize  int // side of the square piece body
	KnobRadius int // radius of the knob and notch circles
	EdgeMargin int // minimum distance between piece and image edge
	MinTargetX int // minimum horizontal target offset; rules out near-zero drags
}

func (c Config) withDefaults() Config {
	if c.Width == 0 {
		c.Width = 320
	}
	if c.Height == 0 {
		c.Height = 180
	}
	if c.PieceSize == 0 {
		c.PieceSize = 48
	}
	if c.KnobRadius == 0 {
		c.KnobRadius = 9
	}
	if c.EdgeMargin == 0 {
		c.EdgeMargin = 12
	}
	if c.MinTargetX == 0 {
		c.MinTargetX = 90
	}
	return c
}

// Puzzle is one rendered challenge. TargetX/TargetY are the secret
// solution; PieceY is the only coordinate disclosed to the client.
type Puzzle struct {
	TargetX    int
	TargetY    int
	PieceY     int    // top edge of the piece image, including the knob
	Background []byte // PNG with the slot composited in
	Piece      []byte // PNG with alpha, piece cutout
}

// Generator produces puzzles from a background source.
type Generator struct {
	cfg Config
	src BackgroundSource
}

// NewGenerator creates a Generator. src may be nil, in which case a
// procedural background source is used so the service runs without
// bundled assets.
func NewGenerator(cfg Config, src BackgroundSource) *Generator {
	if src == nil {
		src = NewProceduralSource()
	}
	return &Generator{cfg: cfg.withDefaults(), src: src}
}

// Generate picks a random target position, draws the slot into a fresh
// background and cuts the piece out of the same location. On any error
// nothing is produced; the caller must not register a challenge.
func (g *Generator) Generate() (*Puzzle, error) {
	cfg := g.cfg

	bg, err := g.src.Background(cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("load background: %w", err)
	}

	size := cfg.PieceSize
	knob := cfg.KnobRadius

	// The knob bulges above the body and the notch stays inside it, so
	// the bounding box is size wide and size+knob tall.
	maxX := cfg.Width - size - cfg.EdgeMargin
	if cfg.MinTargetX >= maxX {
		return nil, fmt.Errorf("canvas %dx%d too small for piece size %d", cfg.Width, cfg.Height, size)
	}
	minY := cfg.EdgeMargin + knob
	maxY := cfg.Height - size - cfg.EdgeMargin
	if minY >= maxY {
		return nil, fmt.Errorf("canvas %dx%d too small for piece size %d", cfg.Width, cfg.Height, size)
	}

	targetX, err := randInt(cfg.MinTargetX, maxX)
	if err != nil {
		return nil, fmt.Errorf("pick target: %w", err)
	}
	targetY, err := randInt(minY, maxY)
	if err != nil {
		return nil, fmt.Errorf("pick target: %w", err)
	}

	bgPNG, err := renderBackground(bg, cfg, targetX, targetY)
	if err != nil {
		return nil, fmt.Errorf("render background: %w", err)
	}
	piecePNG, err := renderPiece(bg, cfg, targetX, targetY)
	if err != nil {
		return nil, fmt.Errorf("render piece: %w", err)
	}

	return &Puzzle{
		TargetX:    targetX,
		TargetY:    targetY,
		PieceY:     targetY - knob,
		Background: bgPNG,
		Piece:      piecePNG,
	}, nil
}

// Config returns the effective geometry, defaults applied.
func (g *Generator) Config() Config { return g.cfg }

// tracePiece appends the piece outline to the context's current path:
// a square body with a knob semicircle on the top edge and a notch
// carved into the right edge. (x, y) is the body's top-left corner.
func tracePiece(dc *gg.Context, x, y, size, knob float64) {
	dc.MoveTo(x, y)
	dc.LineTo(x+size/2-knob, y)
	dc.DrawArc(x+size/2, y, knob, math.Pi, 2*math.Pi)
	dc.LineTo(x+size, y)
	dc.LineTo(x+size, y+size/2-knob)
	// Reversed sweep carves the notch into the body.
	dc.DrawArc(x+size, y+size/2, knob, 1.5*math.Pi, 0.5*math.Pi)
	dc.LineTo(x+size, y+size)
	dc.LineTo(x, y+size)
	dc.ClosePath()
}

// renderBackground composites the slot into a copy of the background:
// the piece silhouette darkened, with a light outline so the drop
// position is visible against any texture.
func renderBackground(bg image.Image, cfg Config, targetX, targetY int) ([]byte, error) {
	dc := gg.NewContext(cfg.Width, cfg.Height)
	dc.DrawImage(bg, 0, 0)

	tracePiece(dc, float64(targetX), float64(targetY), float64(cfg.PieceSize), float64(cfg.KnobRadius))
	dc.SetRGBA(0, 0, 0, 0.45)
	dc.FillPreserve()
	dc.SetRGBA(1, 1, 1, 0.8)
	dc.SetLineWidth(2)
	dc.Stroke()

	return encodePNG(dc)
}

// renderPiece cuts the piece out of the pristine background at the
// target position. The output canvas is the piece bounding box with
// transparent surroundings.
func renderPiece(bg image.Image, cfg Config, targetX, targetY int) ([]byte, error) {
	size := float64(cfg.PieceSize)
	knob := float64(cfg.KnobRadius)
	w := cfg.PieceSize
	h := cfg.PieceSize + cfg.KnobRadius

	dc := gg.NewContext(w, h)

	// Body top-left sits at (0, knob) so the knob fits on the canvas.
	tracePiece(dc, 0, knob, size, knob)
	dc.Clip()
	dc.DrawImage(bg, -targetX, cfg.KnobRadius-targetY)
	dc.ResetClip()

	tracePiece(dc, 0, knob, size, knob)
	dc.SetRGBA(1, 1, 1, 0.8)
	dc.SetLineWidth(2)
	dc.Stroke()

	return encodePNG(dc)
}

func randInt(min, max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min)))
	if err != nil {
		return 0, err
	}
	return min + int(n.Int64()), nil
}

func encodePNG(dc *gg.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
