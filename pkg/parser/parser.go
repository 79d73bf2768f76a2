// Package parser applies a protocol template to a decoded frame, extracting
// typed field values and computing per-field validity.
package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/marmos91/scalebridge/pkg/template"
)

// ParsedFrame is the result of applying a template to one frame.
type ParsedFrame struct {
	// Raw is the decoded frame string as received.
	Raw string

	// Fields maps field name to the extracted value, or nil when the field
	// was absent or failed to parse.
	Fields map[string]any

	// Valid reports whether every required field parsed successfully.
	Valid bool

	// Errors holds per-field parse problems. Errors on non-required fields
	// are recorded but do not clear Valid.
	Errors []string
}

// Parser applies one template's field list to frames. Compiled field
// regexes are cached per parser instance, so reusing a Parser across frames
// is cheap.
//
// A Parser is safe for concurrent use.
type Parser struct {
	tmpl *template.Template

	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

// New creates a parser bound to the given template.
func New(tmpl *template.Template) *Parser {
	return &Parser{
		tmpl:     tmpl,
		compiled: make(map[string]*regexp.Regexp),
	}
}

// Template returns the bound template.
func (p *Parser) Template() *template.Template {
	return p.tmpl
}

// Parse extracts all template fields from the decoded frame.
func (p *Parser) Parse(frame string) ParsedFrame {
	result := ParsedFrame{
		Raw:    frame,
		Fields: make(map[string]any, len(p.tmpl.Fields)),
		Valid:  true,
	}

	for _, field := range p.tmpl.Fields {
		value, err := p.extract(frame, field)
		if err != nil {
			// No entry for failed fields, so map presence means extracted.
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: %v", field.Name, err))
			if field.Required {
				result.Valid = false
			}
			continue
		}
		result.Fields[field.Name] = value
	}

	return result
}

// extract locates and converts one field value.
func (p *Parser) extract(frame string, field template.Field) (any, error) {
	var raw string
	switch field.Rule.Kind {
	case template.RuleOffset:
		start := field.Rule.Offset
		end := start + field.Rule.Length
		if start >= len(frame) {
			return nil, fmt.Errorf("offset %d beyond frame length %d", start, len(frame))
		}
		if end > len(frame) {
			end = len(frame)
		}
		raw = frame[start:end]

	case template.RuleRegex:
		re, err := p.pattern(field)
		if err != nil {
			return nil, err
		}
		match := re.FindStringSubmatch(frame)
		if match == nil {
			return nil, fmt.Errorf("pattern did not match")
		}
		group := field.Rule.Group
		if group <= 0 {
			group = 1
		}
		if group >= len(match) {
			return nil, fmt.Errorf("pattern has no group %d", group)
		}
		raw = match[group]
		if raw == "" {
			return nil, fmt.Errorf("group %d empty", group)
		}

	default:
		return nil, fmt.Errorf("unknown rule kind %q", field.Rule.Kind)
	}

	return convert(strings.TrimSpace(raw), field)
}

// convert turns the raw extracted text into the field's semantic type.
func convert(raw string, field template.Field) (any, error) {
	switch field.Type {
	case template.FieldNumeric:
		return parseNumeric(raw, field.DecimalPlaces)
	case template.FieldEnum:
		if label, ok := field.EnumValues[raw]; ok {
			return label, nil
		}
		return nil, fmt.Errorf("value %q not in enum", raw)
	case template.FieldString:
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", field.Type)
	}
}

// parseNumeric converts a numeric token. When the token carries no decimal
// point and the field declares decimal places, the decimal point is implied:
// "001235" with 1 decimal place reads as 123.5.
func parseNumeric(raw string, decimalPlaces int) (float64, error) {
	// Sartorius pads the sign away from the digits.
	compact := strings.ReplaceAll(raw, " ", "")
	v, err := strconv.ParseFloat(compact, 64)
	if err != nil {
		return 0, fmt.Errorf("not numeric: %q", raw)
	}
	if decimalPlaces > 0 && !strings.Contains(compact, ".") {
		v /= math.Pow10(decimalPlaces)
	}
	return v, nil
}

func (p *Parser) pattern(field template.Field) (*regexp.Regexp, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if re, ok := p.compiled[field.Name]; ok {
		return re, nil
	}
	re, err := regexp.Compile(field.Rule.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	p.compiled[field.Name] = re
	return re, nil
}
