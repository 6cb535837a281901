package preview

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bryanchriswhite/stillframe/internal/frame"
)

const labelPadding = 4

var (
	labelText       = color.RGBA{255, 255, 255, 255}
	labelBackground = color.RGBA{0, 0, 0, 160} // premultiplied
)

// frameLabel describes f for the preview caption
func frameLabel(f *frame.Frame) string {
	return fmt.Sprintf("#%d %dx%d rot %d %s",
		f.Sequence, f.Width, f.Height, f.Rotation, f.Timestamp.Format("15:04:05.000"))
}

// drawLabel stamps text into the top-left corner of img over a translucent box
func drawLabel(img *image.RGBA, text string) {
	face := basicfont.Face7x13

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelText),
		Face: face,
	}

	width := d.MeasureString(text).Ceil() + labelPadding*2
	height := face.Height + labelPadding*2
	box := image.Rect(0, 0, width, height).Add(img.Bounds().Min).Intersect(img.Bounds())
	draw.Draw(img, box, image.NewUniform(labelBackground), image.Point{}, draw.Over)

	d.Dot = fixed.P(img.Bounds().Min.X+labelPadding, img.Bounds().Min.Y+labelPadding+face.Ascent)
	d.DrawString(text)
}
