package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// ParseColor accepts an SVG colour name, #rgb, #rrggbb or rgb(r, g, b).
func ParseColor(value string) (color.RGBA, error) {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return color.RGBA{}, fmt.Errorf("empty colour")
	}

	if c, ok := colornames.Map[s]; ok {
		return c, nil
	}

	switch {
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:], value)
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		return parseRGB(s[4:len(s)-1], value)
	}
	return color.RGBA{}, fmt.Errorf("unknown colour %q", value)
}

func parseHex(hex, original string) (color.RGBA, error) {
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex colour %q", original)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex colour %q", original)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func parseRGB(body, original string) (color.RGBA, error) {
	parts := strings.Split(body, ",")
	if len(parts) != 3 {
		return color.RGBA{}, fmt.Errorf("invalid rgb colour %q", original)
	}
	var channels [3]uint8
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid rgb colour %q", original)
		}
		channels[i] = uint8(n)
	}
	return color.RGBA{R: channels[0], G: channels[1], B: channels[2], A: 0xff}, nil
}
