package perception

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/signal.report/internal/lane"
)

// ErrEmptyDescription is returned for a blank classifier response. Callers
// treat it like any other classifier failure: no update this cycle.
var ErrEmptyDescription = errors.New("empty scene description")

// DefaultEmergencyConfidence is the minimum stated confidence for an
// emergency-vehicle mention to count.
const DefaultEmergencyConfidence = 0.7

// Count phrases, tried in order. The first match wins.
var countPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+)\s+(?:cars?|vehicles?|automobiles?)\b`),
	regexp.MustCompile(`(?:count|total of|counted)\s*:?\s*(\d+)`),
}

// Density fallbacks used when no explicit number is present, in priority
// order. A response matching none of them counts as zero vehicles.
var densityFallbacks = []struct {
	phrases []string
	count   int
}{
	{[]string{"no cars", "empty"}, 0},
	{[]string{"few cars", "light traffic"}, 2},
	{[]string{"moderate"}, 5},
	{[]string{"heavy traffic", "congested"}, 10},
}

var emergencyTerms = []string{"ambulance", "emergency vehicle", "police car", "fire truck"}

var accidentTerms = []string{
	"collision", "crash", "accident", "vehicles colliding",
	"damaged vehicle", "overturned vehicle", "debris on road",
}

var (
	negationWords = map[string]bool{"no": true, "not": true, "without": true, "none": true}
	// "emergency vehicles: no", "accident indicators - none"
	negatedAnswer = regexp.MustCompile(`^\w*(?:\s+\w+){0,2}\s*[:=\-]\s*(?:no|none|false|absent)\b`)
	confidence    = regexp.MustCompile(`^[^\n;]{0,40}?(\d+(?:\.\d+)?)\s*%`)
	wordSplit     = regexp.MustCompile(`[a-z]+`)
)

// Parser extracts a RawClassification from a free-text scene description.
type Parser struct {
	// EmergencyConfidence is the minimum stated percentage (as a fraction)
	// for an emergency mention that carries one.
	EmergencyConfidence float64
}

// NewParser returns a Parser with the given emergency confidence threshold.
// A non-positive threshold selects DefaultEmergencyConfidence.
func NewParser(emergencyConfidence float64) *Parser {
	if emergencyConfidence <= 0 {
		emergencyConfidence = DefaultEmergencyConfidence
	}
	return &Parser{EmergencyConfidence: emergencyConfidence}
}

// ParseDescription parses with the default threshold and a zero timestamp.
func ParseDescription(description string) (lane.RawClassification, error) {
	return NewParser(0).Parse(description, time.Time{})
}

// Parse reads description. It fails only for blank input; any non-blank text
// yields a classification, falling back to zero vehicles and no events.
func (p *Parser) Parse(description string, observedAt time.Time) (lane.RawClassification, error) {
	text := strings.ToLower(strings.TrimSpace(description))
	if text == "" {
		return lane.RawClassification{}, ErrEmptyDescription
	}

	emergency, conf := p.detectEmergency(text)
	return lane.RawClassification{
		VehicleCount:        ExtractCount(text),
		EmergencyPresent:    emergency,
		EmergencyConfidence: conf,
		AccidentIndicated:   detectAccident(text),
		Description:         description,
		ObservedAt:          observedAt,
	}, nil
}

// ExtractCount returns the vehicle count stated in text, or the density
// fallback estimate.
func ExtractCount(text string) int {
	text = strings.ToLower(text)
	for _, re := range countPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n
			}
		}
	}
	for _, fb := range densityFallbacks {
		for _, phrase := range fb.phrases {
			if strings.Contains(text, phrase) {
				return fb.count
			}
		}
	}
	return 0
}

func (p *Parser) detectEmergency(text string) (bool, *float64) {
	for _, term := range emergencyTerms {
		for _, at := range affirmed(text, term) {
			m := confidence.FindStringSubmatch(text[at+len(term):])
			if m == nil {
				return true, nil
			}
			pct, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return true, nil
			}
			if c := pct / 100; c >= p.EmergencyConfidence {
				return true, &c
			}
		}
	}
	return false, nil
}

func detectAccident(text string) bool {
	for _, term := range accidentTerms {
		if len(affirmed(text, term)) > 0 {
			return true
		}
	}
	return false
}

// affirmed returns the offsets of occurrences of term that are not negated,
// either by one of the three preceding words in the same clause ("no
// accident") or by a negative answer right after it ("accident: none").
func affirmed(text, term string) []int {
	var out []int
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], term)
		if i < 0 {
			break
		}
		at := from + i
		from = at + len(term)
		if negatedBefore(text[:at]) || negatedAnswer.MatchString(text[at+len(term):]) {
			continue
		}
		out = append(out, at)
	}
	return out
}

func negatedBefore(prefix string) bool {
	if cut := strings.LastIndexAny(prefix, ",.;:\n("); cut >= 0 {
		prefix = prefix[cut+1:]
	}
	words := wordSplit.FindAllString(prefix, -1)
	if len(words) > 3 {
		words = words[len(words)-3:]
	}
	for _, w := range words {
		if negationWords[w] {
			return true
		}
	}
	return false
}
