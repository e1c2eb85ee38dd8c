package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
)

// Face is one detection result as returned by the provider. Its shape is provider controlled;
// only the token and the rectangle are read by this service.
type Face map[string]any

// Rectangle is a face bounding box in image pixel coordinates.
type Rectangle struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Token returns the provider's face token, or "" when absent.
func (f Face) Token() string {
	token, _ := f["face_token"].(string)
	return token
}

// Rectangle extracts face_rectangle. ok is false when the entry has no usable rectangle.
func (f Face) Rectangle() (rect Rectangle, ok bool) {
	raw, found := f["face_rectangle"].(map[string]any)
	if !found {
		return Rectangle{}, false
	}
	fields := []*int{&rect.Left, &rect.Top, &rect.Width, &rect.Height}
	for i, key := range []string{"left", "top", "width", "height"} {
		v, ok := number(raw[key])
		if !ok {
			return Rectangle{}, false
		}
		*fields[i] = int(math.Round(v))
	}
	return rect, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Comparison is the provider's raw compare response document.
type Comparison json.RawMessage

// Confidence returns the numeric confidence field. ok is false when it is missing or not a number.
func (c Comparison) Confidence() (float64, bool) {
	if !gjson.ValidBytes(c) {
		return 0, false
	}
	v := gjson.GetBytes(c, "confidence")
	if v.Type != gjson.Number {
		return 0, false
	}
	return v.Float(), true
}

// MarshalJSON emits the raw document unchanged.
func (c Comparison) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return c, nil
}

// Client is the provider surface the face use case depends on.
type Client interface {
	DetectFaces(ctx context.Context, filename string, image []byte) ([]Face, error)
	CompareFaces(ctx context.Context, faceToken1, faceToken2 string) (Comparison, error)
}

// ExternalServiceError reports a failed or malformed provider call.
type ExternalServiceError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("external service %s failed with status %d: %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("external service %s failed: %v", e.Operation, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
