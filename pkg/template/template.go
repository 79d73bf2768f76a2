// Package template defines the protocol template model: the full description
// (framing, fields, patterns, commands) needed to parse a scale protocol.
//
// Templates are immutable, versioned data. The canonical persistence format
// is JSON with normative field names; built-in templates ship as an embedded
// JSON catalog and cannot be deleted.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"
)

// Sentinel errors for template handling.
var (
	ErrNotFound        = errors.New("template not found")
	ErrBuiltinReadOnly = errors.New("built-in templates cannot be modified or deleted")
	ErrInvalidTemplate = errors.New("invalid template")
)

// Parity values for the advisory serial link settings.
const (
	ParityNone = "none"
	ParityEven = "even"
	ParityOdd  = "odd"
)

// Flow control values for the advisory serial link settings.
const (
	FlowNone    = "none"
	FlowXonXoff = "xon_xoff"
	FlowRtsCts  = "rts_cts"
)

// Communication holds the serial link parameters. These are advisory when
// the stream is tunneled over TCP: the converter owns the physical link.
type Communication struct {
	Baud        int    `json:"baud"`
	DataBits    int    `json:"data_bits"`
	Parity      string `json:"parity"`
	StopBits    int    `json:"stop_bits"`
	FlowControl string `json:"flow_control"`
}

// Commands holds the request-weight command and auxiliary commands keyed by
// name (tare, zero, ...).
type Commands struct {
	RequestWeight string            `json:"request_weight"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Framing describes how frames are recovered from the byte stream.
type Framing struct {
	// Encoding of the payload. Only "ascii" is currently produced by the
	// discovery engine.
	Encoding string `json:"encoding"`

	// Delimiter terminates a frame. Defaults to CR-LF.
	Delimiter string `json:"delimiter"`

	// UseSTXETX marks protocols that envelope frames in STX/ETX.
	UseSTXETX bool `json:"use_stx_etx,omitempty"`
}

// FieldType is the semantic type of an extracted field.
type FieldType string

const (
	FieldNumeric FieldType = "numeric"
	FieldEnum    FieldType = "enum"
	FieldString  FieldType = "string"
)

// RuleKind selects the extraction mechanism of a field.
type RuleKind string

const (
	RuleOffset RuleKind = "offset"
	RuleRegex  RuleKind = "regex"
)

// ExtractionRule locates a field inside a decoded frame, either by a fixed
// offset+length or by a regular expression with a numbered capture group.
type ExtractionRule struct {
	Kind RuleKind `json:"kind"`

	// Offset/Length for RuleOffset.
	Offset int `json:"offset,omitempty"`
	Length int `json:"length,omitempty"`

	// Pattern/Group for RuleRegex.
	Pattern string `json:"pattern,omitempty"`
	Group   int    `json:"group,omitempty"`
}

// Field describes one extractable field of a frame.
type Field struct {
	Name string         `json:"name"`
	Rule ExtractionRule `json:"rule"`
	Type FieldType      `json:"type"`

	// DecimalPlaces applies to numeric fields whose wire format carries an
	// implied decimal point.
	DecimalPlaces int `json:"decimal_places,omitempty"`

	// EnumValues maps raw values to labels for enum fields.
	EnumValues map[string]string `json:"enum_values,omitempty"`

	Required bool `json:"required"`
}

// ResponsePatterns holds the protocol-level regexes of the canonical format.
type ResponsePatterns struct {
	WeightRegex   string            `json:"weight_regex"`
	StableRegex   string            `json:"stable_regex,omitempty"`
	UnstableRegex string            `json:"unstable_regex,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Validation holds optional reading validation rules.
type Validation struct {
	MinWeight *float64          `json:"min_weight,omitempty"`
	MaxWeight *float64          `json:"max_weight,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// ErrorHandling maps error patterns to labels and recovery commands.
type ErrorHandling struct {
	// Errors maps a regex to an error label.
	Errors map[string]string `json:"errors,omitempty"`

	// Recovery maps an error label to the command that clears it.
	Recovery map[string]string `json:"recovery,omitempty"`
}

// Template is the full description of a scale protocol. The JSON tags are
// the canonical persistence format; the listed names are normative.
type Template struct {
	TemplateName string `json:"template_name"`
	DisplayName  string `json:"display_name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model,omitempty"`
	Version      string `json:"version"`
	Author       string `json:"author,omitempty"`

	Communication Communication `json:"communication"`
	Commands      Commands      `json:"commands"`
	Framing       Framing       `json:"framing"`
	Fields        []Field       `json:"fields"`

	ResponsePatterns ResponsePatterns `json:"response_patterns"`
	Validation       *Validation      `json:"validation,omitempty"`
	ErrorHandling    *ErrorHandling   `json:"error_handling,omitempty"`

	Priority            int     `json:"priority"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	TimeoutMs           int     `json:"timeout_ms"`
	MaxRetries          int     `json:"max_retries"`

	SupportedBaudRates        []int             `json:"supported_baud_rates"`
	EnvironmentalOptimization string            `json:"environmental_optimization,omitempty"`
	Tags                      map[string]string `json:"tags,omitempty"`

	IsActive  bool `json:"is_active"`
	IsBuiltin bool `json:"is_builtin"`

	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	UsageCount  int64   `json:"usage_count"`
	SuccessRate float64 `json:"success_rate"`
}

// ApplyDefaults normalizes a template after decoding.
func (t *Template) ApplyDefaults() {
	if t.Framing.Encoding == "" {
		t.Framing.Encoding = "ascii"
	}
	if t.Framing.Delimiter == "" {
		t.Framing.Delimiter = "\r\n"
	}
	if t.Priority == 0 {
		t.Priority = 50
	}
	if t.ConfidenceThreshold == 0 {
		t.ConfidenceThreshold = 85
	}
	if t.TimeoutMs == 0 {
		t.TimeoutMs = 5000
	}
}

// Validate checks the template invariants.
func (t *Template) Validate() error {
	if t.TemplateName == "" {
		return fmt.Errorf("%w: template_name is required", ErrInvalidTemplate)
	}
	if t.Priority < 1 || t.Priority > 100 {
		return fmt.Errorf("%w: priority %d outside [1,100]", ErrInvalidTemplate, t.Priority)
	}
	if t.ConfidenceThreshold < 0 || t.ConfidenceThreshold > 100 {
		return fmt.Errorf("%w: confidence_threshold %.1f outside [0,100]",
			ErrInvalidTemplate, t.ConfidenceThreshold)
	}
	if len(t.Fields) == 0 && t.ResponsePatterns.WeightRegex == "" {
		return fmt.Errorf("%w: template defines neither fields nor a weight_regex",
			ErrInvalidTemplate)
	}

	for _, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field with empty name", ErrInvalidTemplate)
		}
		switch f.Rule.Kind {
		case RuleOffset:
			if f.Rule.Length <= 0 || f.Rule.Offset < 0 {
				return fmt.Errorf("%w: field %q has invalid offset rule",
					ErrInvalidTemplate, f.Name)
			}
		case RuleRegex:
			if _, err := regexp.Compile(f.Rule.Pattern); err != nil {
				return fmt.Errorf("%w: field %q pattern: %v",
					ErrInvalidTemplate, f.Name, err)
			}
		default:
			return fmt.Errorf("%w: field %q has unknown rule kind %q",
				ErrInvalidTemplate, f.Name, f.Rule.Kind)
		}
	}

	for _, pattern := range []string{
		t.ResponsePatterns.WeightRegex,
		t.ResponsePatterns.StableRegex,
		t.ResponsePatterns.UnstableRegex,
	} {
		if pattern == "" {
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: response pattern: %v", ErrInvalidTemplate, err)
		}
	}

	return nil
}

// EffectivePriority is the sort key used during discovery. It combines the
// configured priority with the observed success rate and usage count:
//
//	priority + success_rate*0.3 + min(log10(usage+1)*10, 20)
func (t *Template) EffectivePriority() float64 {
	usageBoost := math.Log10(float64(t.UsageCount)+1) * 10
	if usageBoost > 20 {
		usageBoost = 20
	}
	return float64(t.Priority) + t.SuccessRate*0.3 + usageBoost
}

// Clone returns a deep copy of the template.
func (t *Template) Clone() *Template {
	data, err := json.Marshal(t)
	if err != nil {
		// Template contains only JSON-marshalable types.
		panic(fmt.Sprintf("template clone: %v", err))
	}
	var out Template
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("template clone: %v", err))
	}
	return &out
}

// Marshal encodes the template in the canonical JSON format.
func (t *Template) Marshal() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Unmarshal decodes a template from the canonical JSON format and applies
// defaults.
func Unmarshal(data []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
