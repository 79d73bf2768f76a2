package discovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/scalebridge/pkg/template"
)

// knownUnits are trailing tokens treated as weight units rather than
// stability codes during synthesis.
var knownUnits = map[string]bool{
	"kg": true, "g": true, "mg": true, "t": true,
	"lb": true, "oz": true, "pcs": true, "pc": true,
}

// Synthesize builds a new template from the completed interactive steps.
// Synthesis is deterministic: the same steps always produce the same
// template, apart from the timestamps.
//
// It fails when fewer than minSteps steps completed, when the overall
// correlation is below the synthesis threshold, or when no numeric weight
// token can be located in the captured stream.
func Synthesize(sess *Session, minSteps int) (*template.Template, error) {
	steps := sess.Steps()
	corr := sess.Correlation()
	if corr == nil {
		return nil, ErrSynthesisFailed
	}
	if corr.CompletedSteps < minSteps {
		return nil, fmt.Errorf("%w: %d of %d required steps completed",
			ErrSynthesisFailed, corr.CompletedSteps, minSteps)
	}
	if corr.Overall < DefaultSynthesisThreshold {
		return nil, fmt.Errorf("%w: correlation %.1f below %.0f",
			ErrLowCorrelation, corr.Overall, DefaultSynthesisThreshold)
	}

	var lines []string
	for _, s := range steps {
		if s.Status == StepCompleted {
			lines = append(lines, s.CapturedData...)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no captured lines", ErrSynthesisFailed)
	}

	sample, loc := firstNumericSample(lines)
	if sample == "" {
		return nil, fmt.Errorf("%w: no numeric token in captured stream", ErrSynthesisFailed)
	}

	match := sample[loc[0]:loc[1]]
	decimals := 0
	if dot := strings.IndexByte(match, '.'); dot >= 0 {
		decimals = len(match) - dot - 1
	}

	fields := []template.Field{{
		Name: "weight",
		Rule: template.ExtractionRule{
			Kind:   template.RuleOffset,
			Offset: loc[0],
			Length: loc[1] - loc[0],
		},
		Type:          template.FieldNumeric,
		DecimalPlaces: decimals,
		Required:      true,
	}}

	if _, ok := trailingUnit(lines); ok {
		fields = append(fields, template.Field{
			Name: "unit",
			Rule: template.ExtractionRule{
				Kind:    template.RuleRegex,
				Pattern: `([A-Za-z]+)\s*$`,
				Group:   1,
			},
			Type: template.FieldString,
		})
	} else if code, ok := trailingCode(lines); ok {
		fields = append(fields, template.Field{
			Name: "stability",
			Rule: template.ExtractionRule{
				Kind:    template.RuleRegex,
				Pattern: fmt.Sprintf(`(%s)\s*$`, code),
				Group:   1,
			},
			Type: template.FieldEnum,
			EnumValues: map[string]string{
				code: "stable",
			},
		})
	}

	delimiter := "\n"
	sess.mu.Lock()
	if sess.crlfLines >= sess.lfLines {
		delimiter = "\r\n"
	}
	deviceID := sess.Config.DeviceID
	sessionID := sess.ID
	sess.mu.Unlock()

	now := time.Now().UTC()
	tmpl := &template.Template{
		TemplateName: fmt.Sprintf("discovered_%s", shortID(sessionID)),
		DisplayName:  fmt.Sprintf("Discovered protocol (%s)", deviceID),
		Manufacturer: "unknown",
		Version:      "1.0.0",
		Author:       "discovery",
		Framing: template.Framing{
			Encoding:  "ascii",
			Delimiter: delimiter,
		},
		Fields: fields,
		ResponsePatterns: template.ResponsePatterns{
			WeightRegex: `([-+]?\d+\.?\d*)`,
		},
		Priority: 50,
		Tags: map[string]string{
			"origin":               "interactive_discovery",
			"discovery_confidence": fmt.Sprintf("%.1f", corr.Overall),
		},
		IsActive:  true,
		CreatedAt: now,
	}
	tmpl.ModifiedAt = now
	tmpl.ApplyDefaults()
	if err := tmpl.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	return tmpl, nil
}

// firstNumericSample returns the first captured line containing a numeric
// token plus the token's location within it.
func firstNumericSample(lines []string) (string, []int) {
	for _, line := range lines {
		if loc := numericTokenRe.FindStringIndex(line); loc != nil {
			return line, loc
		}
	}
	return "", nil
}

// trailingUnit reports the common trailing unit token when every line ends
// with the same known weight unit.
func trailingUnit(lines []string) (string, bool) {
	unit := ""
	for _, line := range lines {
		tok := trailingAlphaToken(line)
		if !knownUnits[strings.ToLower(tok)] {
			return "", false
		}
		if unit == "" {
			unit = tok
		} else if tok != unit {
			return "", false
		}
	}
	return unit, unit != ""
}

// trailingCode reports a short trailing status code common to most lines,
// used as a stability marker.
func trailingCode(lines []string) (string, bool) {
	counts := make(map[string]int)
	for _, line := range lines {
		tok := trailingAlphaToken(line)
		if len(tok) >= 1 && len(tok) <= 2 {
			counts[tok]++
		}
	}
	best, bestCount := "", 0
	for tok, c := range counts {
		if c > bestCount || (c == bestCount && tok < best) {
			best, bestCount = tok, c
		}
	}
	if bestCount*2 >= len(lines) && best != "" {
		return best, true
	}
	return "", false
}

// trailingAlphaToken extracts the trailing run of letters in a line.
func trailingAlphaToken(line string) string {
	end := len(line)
	for end > 0 && !isAlpha(line[end-1]) {
		end--
	}
	start := end
	for start > 0 && isAlpha(line[start-1]) {
		start--
	}
	return line[start:end]
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
