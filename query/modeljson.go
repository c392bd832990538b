package query

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Model replies are JSON in shape but loose in types: numbers arrive as
// strings, booleans as "true", lists as a single value. The types below
// accept those forms so one odd field never discards the rest of a reply.

var digitRun = regexp.MustCompile(`\d+`)

// flexBool reads true, "true", "yes", 1 and "1" as true.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case float64:
		*b = t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			*b = true
		default:
			*b = false
		}
	default:
		*b = false
	}
	return nil
}

// flexInts reads a list of numbers or numeric strings, a single number, or a
// string such as "1, 3" or "[2]". Entries without digits are skipped.
type flexInts []int

func (f *flexInts) UnmarshalJSON(data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	var out []int
	var add func(any)
	add = func(x any) {
		switch t := x.(type) {
		case json.Number:
			if n, err := t.Int64(); err == nil {
				out = append(out, int(n))
			} else if fl, err := t.Float64(); err == nil {
				out = append(out, int(fl))
			}
		case string:
			for _, m := range digitRun.FindAllString(t, -1) {
				if n, err := strconv.Atoi(m); err == nil {
					out = append(out, n)
				}
			}
		case []any:
			for _, e := range t {
				add(e)
			}
		}
	}
	add(v)
	*f = out
	return nil
}

// flexText reads a string, or keeps any other JSON value as its raw text.
type flexText string

func (s *flexText) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexText(str)
		return nil
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = ""
		return nil
	}
	*s = flexText(data)
	return nil
}

// flexStrings reads a list of strings or a single string. Numbers are kept
// as their text.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	var out []string
	var add func(any)
	add = func(x any) {
		switch t := x.(type) {
		case string:
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		case json.Number:
			out = append(out, t.String())
		case []any:
			for _, e := range t {
				add(e)
			}
		}
	}
	add(v)
	*f = out
	return nil
}
