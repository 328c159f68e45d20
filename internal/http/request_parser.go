// Package http provides the dashboard's JSON API.
//
// This file implements utilities for parsing and validating HTTP request
// data: uploaded tables, goal forms and date query parameters.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"financas/internal/core"
	"financas/internal/session"
)

// DefaultMaxUploadBytes bounds uploaded tables.
const DefaultMaxUploadBytes = 10 << 20

var (
	errEmptyUpload  = errors.New("no table uploaded")
	errMissingValue = errors.New("value is required")
)

// FieldError reports a request value that could not be parsed.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(r.Body)
	}
	return p
}

// Parse attempts to parse the body as JSON or form data. JSON numbers are
// kept as text so amounts never pass through float64.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	body := bytes.TrimSpace(p.body)
	if len(body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if body[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		p.jsonData = make(map[string]interface{})
		if err := dec.Decode(&p.jsonData); err != nil {
			p.jsonData = nil
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(body))
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// GetRaw returns the raw body bytes.
func (p *RequestBodyParser) GetRaw() []byte {
	return p.body
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON value to string; null is "".
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseGoalInput reads the goal form from a JSON or form-encoded body.
// goal_start is required; costs and salaries default to zero; an empty
// annual_rate or annual_goal means "not overridden".
func ParseGoalInput(r *http.Request) (session.GoalInput, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return session.GoalInput{}, &FieldError{Field: "body", Err: err}
	}

	var in session.GoalInput
	start := p.Get("goal_start")
	if start == "" {
		return in, &FieldError{Field: "goal_start", Err: errMissingValue}
	}
	d, err := core.ParseDateFlexible(start)
	if err != nil {
		return in, &FieldError{Field: "goal_start", Err: err}
	}
	in.GoalStart = d

	amounts := []struct {
		field string
		dst   *decimal.Decimal
	}{
		{"fixed_costs", &in.FixedCosts},
		{"gross_salary", &in.GrossSalary},
		{"net_salary", &in.NetSalary},
	}
	for _, a := range amounts {
		v, err := parseOptionalAmount(p.Get(a.field))
		if err != nil {
			return in, &FieldError{Field: a.field, Err: err}
		}
		*a.dst = v.Decimal
	}

	if in.AnnualRate, err = parseOptionalAmount(p.Get("annual_rate")); err != nil {
		return in, &FieldError{Field: "annual_rate", Err: err}
	}
	if in.AnnualGoal, err = parseOptionalAmount(p.Get("annual_goal")); err != nil {
		return in, &FieldError{Field: "annual_goal", Err: err}
	}
	return in, nil
}

// parseOptionalAmount accepts the same number formats as uploaded tables,
// plus a trailing percent sign for rates.
func parseOptionalAmount(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return core.Null(), nil
	}
	d, err := core.ParseAmount(s)
	if err != nil {
		return core.Null(), err
	}
	return core.Some(d), nil
}

// ParseDateQuery reads an optional DD/MM/YYYY or YYYY-MM-DD query value.
func ParseDateQuery(query url.Values, key string) (core.Date, bool, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return core.Date{}, false, nil
	}
	d, err := core.ParseDateFlexible(v)
	if err != nil {
		return core.Date{}, false, &FieldError{Field: key, Err: err}
	}
	return d, true, nil
}

// ReadUpload returns the uploaded table and a name for it. Multipart
// requests carry the table in the "file" part; any other request carries
// it as the raw body.
func ReadUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, "", &FieldError{Field: "file", Err: err}
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", &FieldError{Field: "file", Err: err}
		}
		defer file.Close()

		body, err := io.ReadAll(file)
		if err != nil {
			return nil, "", &FieldError{Field: "file", Err: err}
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, "", &FieldError{Field: "file", Err: errEmptyUpload}
		}
		return body, sanitizeInput(header.Filename), nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", &FieldError{Field: "body", Err: err}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, "", &FieldError{Field: "body", Err: errEmptyUpload}
	}
	return body, "body", nil
}
