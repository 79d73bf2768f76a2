package discovery

import (
	"math"
	"sort"

	"github.com/marmos91/scalebridge/pkg/parser"
	"github.com/marmos91/scalebridge/pkg/template"
)

// Confidence component weights for phase A template scoring.
const (
	weightParseRate        = 0.40
	weightFrameConsistency = 0.30
	weightFormatMatch      = 0.20
	weightDataQuality      = 0.10
)

const maxSampleFields = 5

// TestTemplate parses the captured frames with the given template and scores
// how well the template explains the stream. At most cfg.TestFrameLimit
// frames are considered.
func TestTemplate(tmpl *template.Template, frames []Frame, limit int) TemplateResult {
	if limit <= 0 {
		limit = DefaultTestFrameLimit
	}
	if len(frames) > limit {
		frames = frames[:limit]
	}

	res := TemplateResult{
		TemplateName: tmpl.TemplateName,
		FramesTested: len(frames),
	}
	if len(frames) == 0 {
		return res
	}

	p := parser.New(tmpl)

	parsed := make([]parser.ParsedFrame, 0, len(frames))
	for _, f := range frames {
		pf := p.Parse(string(f.Bytes))
		parsed = append(parsed, pf)
		if pf.Valid {
			res.SuccessfulParses++
			if len(res.SampleFields) < maxSampleFields {
				res.SampleFields = append(res.SampleFields, pf.Fields)
			}
		}
	}

	res.ParseRate = 100 * float64(res.SuccessfulParses) / float64(len(frames))
	res.FrameConsistency = frameConsistency(frames)
	res.FormatMatch = formatMatch(tmpl, parsed)
	res.DataQuality = parsedDataQuality(tmpl, parsed)

	res.Confidence = clampScore(weightParseRate*res.ParseRate +
		weightFrameConsistency*res.FrameConsistency +
		weightFormatMatch*res.FormatMatch +
		weightDataQuality*res.DataQuality)
	return res
}

// TestTemplates scores each template concurrently and returns results sorted
// by descending confidence, name ascending on ties.
func TestTemplates(templates []*template.Template, frames []Frame, limit int) []TemplateResult {
	results := make([]TemplateResult, len(templates))
	done := make(chan struct{})
	for i, tmpl := range templates {
		go func(i int, tmpl *template.Template) {
			results[i] = TestTemplate(tmpl, frames, limit)
			done <- struct{}{}
		}(i, tmpl)
	}
	for range templates {
		<-done
	}
	close(done)

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].TemplateName < results[j].TemplateName
	})
	return results
}

// frameConsistency measures how structurally uniform the captured frames
// are, independent of any template. It blends length consistency, length
// spread and the share of the dominant frame length.
func frameConsistency(frames []Frame) float64 {
	if len(frames) == 0 {
		return 0
	}
	lengths := make([]float64, len(frames))
	counts := make(map[int]int)
	minLen, maxLen := math.MaxInt32, 0
	for i, f := range frames {
		n := len(f.Bytes)
		lengths[i] = float64(n)
		counts[n]++
		if n < minLen {
			minLen = n
		}
		if n > maxLen {
			maxLen = n
		}
	}

	lengthScore := consistencyScore(lengths)

	spreadScore := 100.0
	if maxLen > 0 {
		spreadScore = clampScore(100 * (1 - float64(maxLen-minLen)/float64(maxLen)))
	}

	dominant := 0
	for _, c := range counts {
		if c > dominant {
			dominant = c
		}
	}
	uniformity := 100 * float64(dominant) / float64(len(frames))

	return clampScore(0.4*lengthScore + 0.3*spreadScore + 0.3*uniformity)
}

// formatMatch scores per-frame field coverage against the template's field
// declarations. Present required fields score +1, present optional fields
// +0.5, missing required fields -0.5; each frame's score is normalized by
// the best achievable score. A small bonus rewards stable coverage across
// frames.
func formatMatch(tmpl *template.Template, parsed []parser.ParsedFrame) float64 {
	if len(parsed) == 0 || len(tmpl.Fields) == 0 {
		return 0
	}

	maxScore := 0.0
	for _, f := range tmpl.Fields {
		if f.Required {
			maxScore += 1.0
		} else {
			maxScore += 0.5
		}
	}
	if maxScore == 0 {
		return 0
	}

	perFrame := make([]float64, 0, len(parsed))
	for _, pf := range parsed {
		score := 0.0
		for _, f := range tmpl.Fields {
			_, present := pf.Fields[f.Name]
			switch {
			case present && f.Required:
				score += 1.0
			case present:
				score += 0.5
			case f.Required:
				score -= 0.5
			}
		}
		perFrame = append(perFrame, clampScore(100*score/maxScore))
	}

	mean := meanOf(perFrame)
	if stddevOf(perFrame) < 10 {
		mean += 5
	}
	return clampScore(mean)
}

// parsedDataQuality averages four quality signals over the parse results:
// valid parse ratio, field completeness, per-field type consistency and a
// three sigma outlier test on numeric fields.
func parsedDataQuality(tmpl *template.Template, parsed []parser.ParsedFrame) float64 {
	if len(parsed) == 0 {
		return 0
	}

	valid := 0
	totalFields := 0
	presentFields := 0
	byField := make(map[string][]any)
	for _, pf := range parsed {
		if pf.Valid {
			valid++
		}
		totalFields += len(tmpl.Fields)
		for _, f := range tmpl.Fields {
			if v, ok := pf.Fields[f.Name]; ok {
				presentFields++
				byField[f.Name] = append(byField[f.Name], v)
			}
		}
	}

	validRatio := 100 * float64(valid) / float64(len(parsed))

	completeness := 0.0
	if totalFields > 0 {
		completeness = 100 * float64(presentFields) / float64(totalFields)
	}

	typeScore := typeConsistency(byField)
	outlierScore := numericReasonableness(byField)

	return clampScore((validRatio + completeness + typeScore + outlierScore) / 4)
}

// typeConsistency computes, per field, the share of the dominant dynamic
// type among extracted values, and averages the shares.
func typeConsistency(byField map[string][]any) float64 {
	if len(byField) == 0 {
		return 0
	}
	total := 0.0
	for _, values := range byField {
		if len(values) == 0 {
			continue
		}
		counts := make(map[string]int)
		for _, v := range values {
			counts[typeNameOf(v)]++
		}
		dominant := 0
		for _, c := range counts {
			if c > dominant {
				dominant = c
			}
		}
		total += float64(dominant) / float64(len(values))
	}
	return 100 * total / float64(len(byField))
}

func typeNameOf(v any) string {
	switch v.(type) {
	case float64:
		return "float64"
	case string:
		return "string"
	case bool:
		return "bool"
	default:
		return "other"
	}
}

// numericReasonableness computes, per numeric field, the share of values
// within three standard deviations of the field mean, and averages the
// shares. Fields with fewer than two numeric values count as fully
// reasonable.
func numericReasonableness(byField map[string][]any) float64 {
	if len(byField) == 0 {
		return 0
	}
	total := 0.0
	fields := 0
	for _, values := range byField {
		nums := make([]float64, 0, len(values))
		for _, v := range values {
			if f, ok := v.(float64); ok {
				nums = append(nums, f)
			}
		}
		if len(nums) == 0 {
			continue
		}
		fields++
		if len(nums) < 2 {
			total += 1
			continue
		}
		mean := meanOf(nums)
		sd := stddevOf(nums)
		if sd == 0 {
			total += 1
			continue
		}
		within := 0
		for _, n := range nums {
			if math.Abs(n-mean) <= 3*sd {
				within++
			}
		}
		total += float64(within) / float64(len(nums))
	}
	if fields == 0 {
		// No numeric fields to be unreasonable.
		return 100
	}
	return 100 * total / float64(fields)
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := meanOf(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// consistencyScore converts the coefficient of variation of a series into a
// 0-100 score, where identical inputs score 100.
func consistencyScore(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := meanOf(xs)
	if mean == 0 {
		return 0
	}
	cv := stddevOf(xs) / mean
	return clampScore(100 * (1 - cv))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
