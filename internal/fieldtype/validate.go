package fieldtype

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9 ()\-.]{3,32}$`)
	colorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

const DateLayout = "2006-01-02"

func validateText(v any, cfg map[string]any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	if max, ok := ToFloat(cfg["maxLength"]); ok && max > 0 && len([]rune(s)) > int(max) {
		return fmt.Errorf("must be at most %d characters", int(max))
	}
	return nil
}

func validateEmail(v any, cfg map[string]any) error {
	s, ok := v.(string)
	if !ok || !emailRe.MatchString(s) {
		return fmt.Errorf("must be a valid email address")
	}
	return nil
}

func validatePhone(v any, cfg map[string]any) error {
	s, ok := v.(string)
	if !ok || !phoneRe.MatchString(s) {
		return fmt.Errorf("must be a valid phone number")
	}
	return nil
}

func validateURL(v any, cfg map[string]any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a valid URL")
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("must be a valid URL")
	}
	return nil
}

func validateColor(v any, cfg map[string]any) error {
	s, ok := v.(string)
	if !ok || !colorRe.MatchString(s) {
		return fmt.Errorf("must be a hex color")
	}
	return nil
}

func validateNumber(v any, cfg map[string]any) error {
	d, ok := ToDecimal(v)
	if !ok {
		return fmt.Errorf("must be a number")
	}
	if Bool(cfg["integer"]) && !d.IsInteger() {
		return fmt.Errorf("must be a whole number")
	}
	f := d.InexactFloat64()
	if min, ok := ToFloat(cfg["min"]); ok && f < min {
		return fmt.Errorf("must be at least %v", min)
	}
	if max, ok := ToFloat(cfg["max"]); ok && f > max {
		return fmt.Errorf("must be at most %v", max)
	}
	return nil
}

func validateRating(v any, cfg map[string]any) error {
	d, ok := ToDecimal(v)
	if !ok || !d.IsInteger() {
		return fmt.Errorf("must be a whole number")
	}
	max, ok := ToFloat(cfg["max"])
	if !ok {
		max = 5
	}
	f := d.InexactFloat64()
	if f < 0 || f > max {
		return fmt.Errorf("must be between 0 and %v", max)
	}
	return nil
}

func validateDate(v any, cfg map[string]any) error {
	if _, ok := ParseDate(v); !ok {
		return fmt.Errorf("must be a date (YYYY-MM-DD)")
	}
	return nil
}

func validateDateTime(v any, cfg map[string]any) error {
	if _, ok := ParseDateTime(v); !ok {
		return fmt.Errorf("must be an RFC 3339 timestamp")
	}
	return nil
}

func validateBoolean(v any, cfg map[string]any) error {
	if _, ok := v.(bool); !ok {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateSelect(v any, cfg map[string]any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a string option")
	}
	opts := ParseOptions(cfg)
	if len(opts) > 0 && !hasOption(opts, s) {
		return fmt.Errorf("%q is not an allowed option", s)
	}
	return nil
}

func validateMultiSelect(v any, cfg map[string]any) error {
	items, ok := v.([]any)
	if !ok {
		return fmt.Errorf("must be a list of options")
	}
	opts := ParseOptions(cfg)
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return fmt.Errorf("must be a list of string options")
		}
		if len(opts) > 0 && !hasOption(opts, s) {
			return fmt.Errorf("%q is not an allowed option", s)
		}
	}
	return nil
}

func validateGeolocation(v any, cfg map[string]any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("must be an object with lat and lng")
	}
	lat, okLat := ToFloat(m["lat"])
	lng, okLng := ToFloat(m["lng"])
	if !okLat || !okLng {
		return fmt.Errorf("must be an object with lat and lng")
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("coordinates out of range")
	}
	return nil
}

func validateRelation(v any, cfg map[string]any) error {
	if Bool(cfg["allowMultiple"]) {
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("must be a list of row ids")
		}
		for _, item := range items {
			if !isUUID(item) {
				return fmt.Errorf("must be a list of row ids")
			}
		}
		return nil
	}
	if !isUUID(v) {
		return fmt.Errorf("must be a row id")
	}
	return nil
}

func isUUID(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ParseDate accepts a YYYY-MM-DD string, an RFC 3339 string or a time.Time.
func ParseDate(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		if t, err := time.Parse(DateLayout, val); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDateTime accepts an RFC 3339 string, a SQL timestamp string or a time.Time.
func ParseDateTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
