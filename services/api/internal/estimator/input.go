package estimator

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidInput matches every *InputError.
var ErrInvalidInput = errors.New("invalid estimation input")

// InputError carries a client-facing message.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// Input is the client payload. sqft and bhk may arrive as JSON numbers or as
// numeric strings.
type Input struct {
	PropertyType string          `json:"propertyType"`
	Sqft         json.RawMessage `json:"sqft"`
	City         string          `json:"city"`
	BHK          json.RawMessage `json:"bhk"`
}

// Request validates the payload.
func (in Input) Request() (Request, error) {
	ptype := strings.TrimSpace(in.PropertyType)
	city := strings.TrimSpace(in.City)
	sqftRaw, sqftOK := scalar(in.Sqft)
	bhkRaw, bhkOK := scalar(in.BHK)
	if ptype == "" || city == "" || !sqftOK || !bhkOK {
		return Request{}, &InputError{Msg: "All fields are required"}
	}
	sqft, err := strconv.ParseFloat(sqftRaw, 64)
	if err != nil || sqft <= 0 || math.IsInf(sqft, 0) || math.IsNaN(sqft) {
		return Request{}, &InputError{Msg: "Invalid area value"}
	}
	bhk, err := strconv.Atoi(bhkRaw)
	if err != nil || bhk <= 0 {
		return Request{}, &InputError{Msg: "Invalid BHK value"}
	}
	return Request{PropertyType: ptype, Sqft: sqft, City: city, BHK: bhk}, nil
}

// scalar returns the textual form of a JSON number or string, reporting
// false when the value is absent, null or blank.
func scalar(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	res := gjson.ParseBytes(raw)
	switch res.Type {
	case gjson.Number:
		return strings.TrimSpace(res.Raw), true
	case gjson.String:
		s := strings.TrimSpace(res.Str)
		return s, s != ""
	default:
		return "", false
	}
}
