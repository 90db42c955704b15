package enhance

import (
	"fmt"
	"sort"
	"strings"
)

// Mode selects the kind of enhancement applied to every image in a batch.
type Mode string

const (
	ModeEnhance   Mode = "enhance"
	ModeStudio    Mode = "studio"
	ModeLifestyle Mode = "lifestyle"
	ModeMenu      Mode = "menu"
)

var modeInstructions = map[Mode]string{
	ModeEnhance:   "Enhance this food photo: correct exposure and white balance, boost natural color and texture, sharpen details.",
	ModeStudio:    "Turn this food photo into a clean studio shot on a neutral seamless background with soft even lighting.",
	ModeLifestyle: "Place this dish in a warm lifestyle scene on a wooden table with natural window light and shallow depth of field.",
	ModeMenu:      "Prepare this dish photo for a restaurant menu: centered plate, bright even lighting, plain light background.",
}

const keepSubject = "Keep the food itself unchanged, no added ingredients, no text or watermark."

// Shape is a target output format.
type Shape struct {
	Key    string
	Width  int
	Height int
	Fit    string
}

var shapes = map[string]Shape{
	"auto":      {Key: "auto"},
	"square":    {Key: "square", Width: 1080, Height: 1080, Fit: "cover"},
	"portrait":  {Key: "portrait", Width: 1080, Height: 1350, Fit: "cover"},
	"landscape": {Key: "landscape", Width: 1920, Height: 1080, Fit: "cover"},
	"story":     {Key: "story", Width: 1080, Height: 1920, Fit: "cover"},
}

// ParseMode normalises a mode key.
func ParseMode(raw string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if m == "" {
		return ModeEnhance, nil
	}
	if _, ok := modeInstructions[m]; !ok {
		return "", fmt.Errorf("unknown mode %q", raw)
	}
	return m, nil
}

// ParseShape normalises a shape key. An empty key means auto.
func ParseShape(raw string) (Shape, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		key = "auto"
	}
	s, ok := shapes[key]
	if !ok {
		return Shape{}, fmt.Errorf("unknown shape %q", raw)
	}
	return s, nil
}

// ModeKeys lists the accepted mode keys.
func ModeKeys() []string {
	keys := make([]string, 0, len(modeInstructions))
	for m := range modeInstructions {
		keys = append(keys, string(m))
	}
	sort.Strings(keys)
	return keys
}

// ShapeKeys lists the accepted shape keys.
func ShapeKeys() []string {
	keys := make([]string, 0, len(shapes))
	for k := range shapes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest assembles the provider request for one source image.
func BuildRequest(sourceURL string, mode Mode, shape Shape) SubmitRequest {
	parts := []string{modeInstructions[mode], keepSubject}
	req := SubmitRequest{SourceURL: sourceURL}
	if shape.Key != "auto" && shape.Width > 0 && shape.Height > 0 {
		parts = append(parts, fmt.Sprintf("Compose for a %dx%d frame.", shape.Width, shape.Height))
		req.Width = shape.Width
		req.Height = shape.Height
		req.Fit = shape.Fit
	}
	req.Instruction = strings.Join(parts, " ")
	return req
}
