package discovery

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/scalebridge/internal/logger"
	"github.com/marmos91/scalebridge/pkg/transport"
)

// Step score component weights.
const (
	weightStepCorrelation = 0.50
	weightStepTiming      = 0.25
	weightStepData        = 0.25
)

// Format consistency component weights.
const (
	weightLineLength = 0.50
	weightCharClass  = 0.30
	weightSuffix     = 0.20
)

var numericTokenRe = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// runStep captures the stream for the step's window, then correlates it with
// the expected weight. The capture decodes chunks as ASCII text, splits them
// on line boundaries and keeps non-empty stripped lines.
func (e *Engine) runStep(ctx context.Context, sess *Session, number int, guidance StepGuidance) *Step {
	step := &Step{
		StepNumber:    number,
		Action:        guidance.Action,
		ExpectedValue: guidance.ExpectedWeight,
		Instructions:  guidance.Instructions,
		Status:        StepInProgress,
	}

	lines, crlf, lf := e.captureLines(ctx, guidance.CaptureTime)
	step.CapturedData = lines
	sess.countLineEndings(crlf, lf)

	analyzeStep(step, guidance)

	logger.Debug("interactive step analyzed",
		logger.SessionID(sess.ID),
		logger.Step(number),
		slog.Int("lines", len(lines)),
		slog.Float64("score", step.Score),
	)
	return step
}

// captureLines collects stripped non-empty ASCII lines from the transport
// for the given window. It also counts CRLF and bare LF terminators so the
// synthesizer can pick the stream's delimiter.
func (e *Engine) captureLines(ctx context.Context, window time.Duration) (lines []string, crlf, lf int) {
	var pending strings.Builder
	ch := make(chan []byte, 64)
	token := e.transport.SubscribeData(func(chunk transport.Chunk) {
		data := make([]byte, len(chunk.Data))
		copy(data, chunk.Data)
		select {
		case ch <- data:
		default:
		}
	})
	defer e.transport.Unsubscribe(token)

	deadline := time.NewTimer(window)
	defer deadline.Stop()

	flush := func(text string) {
		for {
			idx := strings.IndexByte(text, '\n')
			if idx < 0 {
				break
			}
			line := text[:idx]
			if strings.HasSuffix(line, "\r") {
				crlf++
				line = strings.TrimSuffix(line, "\r")
			} else {
				lf++
			}
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				lines = append(lines, trimmed)
			}
			text = text[idx+1:]
		}
		pending.Reset()
		pending.WriteString(text)
	}

	for {
		select {
		case <-ctx.Done():
			return lines, crlf, lf
		case <-deadline.C:
			if trimmed := strings.TrimSpace(pending.String()); trimmed != "" {
				lines = append(lines, trimmed)
				lf++
			}
			return lines, crlf, lf
		case data := <-ch:
			flush(pending.String() + string(data))
		}
	}
}

// analyzeStep scores a captured step in place. Steps scoring at or above the
// completion threshold are marked completed, the rest failed.
func analyzeStep(step *Step, guidance StepGuidance) {
	lines := step.CapturedData
	if len(lines) == 0 {
		step.Status = StepFailed
		return
	}

	fc := formatConsistency(lines)
	step.Analysis = StepAnalysis{
		FormatConsistency: fc,
		DetectedPatterns:  detectPatterns(lines),
		IsStable:          fc >= 70,
	}

	step.WeightCorrelation = weightCorrelation(lines, guidance.ExpectedWeight)
	step.TimingConsistency = timingConsistency(len(lines), guidance.CaptureTime, fc)
	step.DataConsistency = fc

	step.Score = clampScore(weightStepCorrelation*step.WeightCorrelation +
		weightStepTiming*step.TimingConsistency +
		weightStepData*step.DataConsistency)
	step.Analysis.Confidence = step.Score

	if step.Score >= DefaultStepScoreThreshold {
		step.Status = StepCompleted
	} else {
		step.Status = StepFailed
	}
}

// weightCorrelation finds the numeric token closest to the expected weight
// across all lines and scores its relative error. Steps without an expected
// weight (taring, removal) are scored on stream presence alone.
func weightCorrelation(lines []string, expected *float64) float64 {
	if expected == nil {
		if len(lines) > 0 {
			return 100
		}
		return 0
	}

	const epsilon = 1e-6
	best := math.Inf(1)
	found := false
	for _, line := range lines {
		for _, tok := range numericTokenRe.FindAllString(line, -1) {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				continue
			}
			if math.Abs(v-*expected) < math.Abs(best-*expected) || !found {
				best = v
				found = true
			}
		}
	}
	if !found {
		return 0
	}

	denom := math.Max(math.Abs(*expected), epsilon)
	return math.Max(0, 100-math.Abs(best-*expected)/denom*100)
}

// timingConsistency blends the observed line rate against the expected
// minimum with the stream's format consistency.
func timingConsistency(count int, window time.Duration, formatScore float64) float64 {
	expectedMin := int(window.Seconds())
	if expectedMin < 1 {
		expectedMin = 1
	}
	rateScore := math.Min(100, 100*float64(count)/float64(expectedMin))
	return clampScore(0.3*rateScore + 0.7*formatScore)
}

// formatConsistency scores how uniform a set of text lines is: line length
// consistency, positional character class consistency and common suffix
// share.
func formatConsistency(lines []string) float64 {
	if len(lines) == 0 {
		return 0
	}
	if len(lines) == 1 {
		return 100
	}

	lengths := make([]float64, len(lines))
	for i, l := range lines {
		lengths[i] = float64(len(l))
	}

	return clampScore(weightLineLength*consistencyScore(lengths) +
		weightCharClass*charClassConsistency(lines) +
		weightSuffix*suffixConsistency(lines))
}

// charClassConsistency looks at each character position up to the shortest
// line and scores the share of the dominant character class per position.
func charClassConsistency(lines []string) float64 {
	minLen := len(lines[0])
	for _, l := range lines[1:] {
		if len(l) < minLen {
			minLen = len(l)
		}
	}
	if minLen == 0 {
		return 0
	}

	total := 0.0
	for pos := 0; pos < minLen; pos++ {
		counts := make(map[byte]int)
		for _, l := range lines {
			counts[charClass(l[pos])]++
		}
		dominant := 0
		for _, c := range counts {
			if c > dominant {
				dominant = c
			}
		}
		total += float64(dominant) / float64(len(lines))
	}
	return 100 * total / float64(minLen)
}

func charClass(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return 'd'
	case (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z'):
		return 'a'
	case b == ' ' || b == '\t':
		return 's'
	default:
		return 'p'
	}
}

// suffixConsistency scores the share of lines ending with the most common
// two character suffix.
func suffixConsistency(lines []string) float64 {
	counts := make(map[string]int)
	for _, l := range lines {
		suffix := l
		if len(l) > 2 {
			suffix = l[len(l)-2:]
		}
		counts[suffix]++
	}
	dominant := 0
	for _, c := range counts {
		if c > dominant {
			dominant = c
		}
	}
	return 100 * float64(dominant) / float64(len(lines))
}

// detectPatterns reports coarse structural observations about the lines.
func detectPatterns(lines []string) []string {
	var patterns []string
	numeric, csv, fixed := 0, 0, 0
	firstLen := len(lines[0])
	for _, l := range lines {
		if numericTokenRe.MatchString(l) {
			numeric++
		}
		if strings.Contains(l, ",") {
			csv++
		}
		if len(l) == firstLen {
			fixed++
		}
	}
	n := len(lines)
	if numeric == n {
		patterns = append(patterns, "numeric")
	}
	if csv == n {
		patterns = append(patterns, "comma_separated")
	}
	if fixed == n {
		patterns = append(patterns, "fixed_width")
	}
	return patterns
}

// correlate aggregates executed steps into the interactive phase result.
func correlate(steps []*Step) *CorrelationResult {
	res := &CorrelationResult{}
	scores := make([]float64, 0, len(steps))
	for _, s := range steps {
		switch s.Status {
		case StepCompleted:
			res.CompletedSteps++
			scores = append(scores, s.Score)
		case StepFailed:
			res.FailedSteps++
		}
	}
	res.Overall = meanOf(scores)
	res.RecommendedAction = recommendAction(res.Overall)
	return res
}
