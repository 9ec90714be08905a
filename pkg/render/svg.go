package render

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/net/html/charset"

	errs "znum/pkg/errors"
	"znum/pkg/models"
	"znum/pkg/vector"
)

const (
	pointsPerInch = 72
	maxSide       = 20000
)

type viewBox struct {
	X, Y, W, H float64
}

// embeddedImage is an <image> element with a data URI
type embeddedImage struct {
	X, Y, W, H float64
	Href       string
}

// document holds what oksvg does not render on its own
type document struct {
	ViewBox viewBox
	Width   float64
	Height  float64
	Images  []embeddedImage
}

func (r *Reconstructor) renderVector(markup string, key models.KeyMaterial) (image.Image, error) {
	plain, err := vector.Decrypt(markup, key.CryptoKey)
	if err != nil {
		return nil, err
	}
	plain, err = vector.NormalizeImages(plain, r.JPEGQuality)
	if err != nil {
		return nil, err
	}

	img, err := Rasterize(plain, r.Density)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecryptionFailure, err, "failed to rasterize vector page")
	}
	return img, nil
}

// Rasterize renders SVG markup at density DPI onto a white page.
// Embedded images are painted first and vector paths on top of them.
// Element transforms on <image> are not applied.
func Rasterize(markup string, density float64) (*image.RGBA, error) {
	if density <= 0 {
		return nil, fmt.Errorf("invalid density %v", density)
	}

	doc, err := scanDocument(markup)
	if err != nil {
		return nil, err
	}

	w, h := doc.size()
	if w <= 0 || h <= 0 {
		return nil, errors.New("page has no size")
	}
	scale := density / pointsPerInch
	pw, ph := int(math.Round(w*scale)), int(math.Round(h*scale))
	if pw > maxSide || ph > maxSide {
		return nil, fmt.Errorf("page of %dx%d pixels is too large", pw, ph)
	}

	page := image.NewRGBA(image.Rect(0, 0, pw, ph))
	xdraw.Draw(page, page.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)

	vb := doc.ViewBox
	if vb.W <= 0 || vb.H <= 0 {
		vb = viewBox{W: w, H: h}
	}
	sx, sy := float64(pw)/vb.W, float64(ph)/vb.H

	for i, im := range doc.Images {
		if err := composite(page, im, vb, sx, sy); err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(markup), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		icon.ViewBox.X, icon.ViewBox.Y, icon.ViewBox.W, icon.ViewBox.H = vb.X, vb.Y, vb.W, vb.H
	}
	icon.SetTarget(0, 0, float64(pw), float64(ph))

	scanner := rasterx.NewScannerGV(pw, ph, page, page.Bounds())
	icon.Draw(rasterx.NewDasher(pw, ph, scanner), 1.0)

	return page, nil
}

// size returns the page size in user units
func (d document) size() (float64, float64) {
	w, h := d.Width, d.Height
	if w <= 0 {
		w = d.ViewBox.W
	}
	if h <= 0 {
		h = d.ViewBox.H
	}
	return w, h
}

func composite(page *image.RGBA, im embeddedImage, vb viewBox, sx, sy float64) error {
	src, err := decodeDataURI(im.Href)
	if err != nil {
		return err
	}

	w, h := im.W, im.H
	b := src.Bounds()
	if w <= 0 {
		w = float64(b.Dx())
	}
	if h <= 0 {
		h = float64(b.Dy())
	}

	x0 := int(math.Round((im.X - vb.X) * sx))
	y0 := int(math.Round((im.Y - vb.Y) * sy))
	x1 := int(math.Round((im.X + w - vb.X) * sx))
	y1 := int(math.Round((im.Y + h - vb.Y) * sy))
	dst := image.Rect(x0, y0, x1, y1)
	if dst.Empty() {
		return nil
	}

	xdraw.CatmullRom.Scale(page, dst, src, b, xdraw.Over, nil)
	return nil
}

func decodeDataURI(uri string) (image.Image, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, fmt.Errorf("unsupported image reference %.32q", uri)
	}
	meta, data, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("image data URI is not base64")
	}

	raw, err := vector.DecodeBase64(data)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", strings.TrimSuffix(meta, ";base64"), err)
	}
	return img, nil
}

// scanDocument reads the root geometry and every embedded image
func scanDocument(markup string) (document, error) {
	var doc document

	dec := xml.NewDecoder(strings.NewReader(markup))
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel

	rootSeen := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return doc, fmt.Errorf("parse svg: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "svg":
			if rootSeen {
				continue
			}
			rootSeen = true
			for _, a := range se.Attr {
				switch a.Name.Local {
				case "width":
					doc.Width = parsePageLength(a.Value)
				case "height":
					doc.Height = parsePageLength(a.Value)
				case "viewBox":
					doc.ViewBox = parseViewBox(a.Value)
				}
			}
		case "image":
			var im embeddedImage
			for _, a := range se.Attr {
				switch a.Name.Local {
				case "x":
					im.X = parseLength(a.Value)
				case "y":
					im.Y = parseLength(a.Value)
				case "width":
					im.W = parseLength(a.Value)
				case "height":
					im.H = parseLength(a.Value)
				case "href":
					im.Href = strings.TrimSpace(a.Value)
				}
			}
			if im.Href != "" {
				doc.Images = append(doc.Images, im)
			}
		}
	}

	if !rootSeen {
		return doc, errors.New("no svg element")
	}
	return doc, nil
}

// pointsPerUnit converts absolute CSS units to points. Unitless page sizes
// are taken as points.
var pointsPerUnit = map[string]float64{
	"":   1,
	"pt": 1,
	"px": 0.75,
	"pc": 12,
	"in": 72,
	"cm": 72 / 2.54,
	"mm": 72 / 25.4,
}

// parsePageLength parses the root width or height into points.
// Relative units yield 0 so the viewBox is used instead.
func parsePageLength(s string) float64 {
	s = strings.TrimSpace(s)
	num := strings.TrimRight(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ%")
	factor, ok := pointsPerUnit[strings.ToLower(s[len(num):])]
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return v * factor
}

// parseLength parses a coordinate in user units, dropping any unit suffix.
// Percentages yield 0.
func parseLength(s string) float64 {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		return 0
	}
	s = strings.TrimRight(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseViewBox(s string) viewBox {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	if len(fields) != 4 {
		return viewBox{}
	}

	var v [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return viewBox{}
		}
		v[i] = n
	}
	return viewBox{X: v[0], Y: v[1], W: v[2], H: v[3]}
}
