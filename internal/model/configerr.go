package model

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// FieldError is a problem with one configuration key found outside of the
// schema.
type FieldError struct {
	Path string // workspace.sweep.cron
	Err  error
}

func (e *FieldError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

type ConfigErrorDetail struct {
	Path    string // workspace.sweep.max_age
	Code    string // missing_required | unknown_field | conflicting_values | invalid_value | type_mismatch ...
	Message string // Human text
	Pos     ConfigErrorPosition
	Raw     string // original message
}

func (c ConfigErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type ConfigErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

// ConfigErrDetails flattens an error of LoadConfig or Validate into one
// detail per offending key.
func ConfigErrDetails(err error) []ConfigErrorDetail {
	if err == nil {
		return nil
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return []ConfigErrorDetail{{
			Path:    fe.Path,
			Code:    "invalid_value",
			Message: fmt.Sprintf("Field %s has invalid value: %v", last(fe.Path), fe.Err),
			Raw:     fe.Error(),
		}}
	}
	var ce cueerrors.Error
	if errors.As(err, &ce) {
		return humanize(ce)
	}
	return []ConfigErrorDetail{{Code: "validation_error", Message: err.Error(), Raw: err.Error()}}
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reOutOfBound  = regexp.MustCompile(`(?i)out of bound|invalid value`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*`)
)

func humanize(err cueerrors.Error) []ConfigErrorDetail {
	type key struct{ path, code string }
	seen := make(map[key]struct{})

	var out []ConfigErrorDetail
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		path := normalizePath(e.Path())
		code, msg := classify(raw, path)

		k := key{path, code}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}

		out = append(out, ConfigErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     position(e),
			Raw:     raw,
		})
	}
	return out
}

func position(err cueerrors.Error) ConfigErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return ConfigErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	return ConfigErrorPosition{}
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// Remove leading definition (#Config)
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", last(path))
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("Field %s is required", last(path))
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("Conflicting values for %s: %s", last(path), raw)
	case reOutOfBound.MatchString(raw):
		return "invalid_value", fmt.Sprintf("Field %s has invalid value: %s", last(path), raw)
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s has wrong type/value", last(path))
	default:
		return "validation_error", raw
	}
}

func last(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i+1:]
	}
	return p
}
