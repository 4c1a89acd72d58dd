package matcher

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"competitor/scraper/internal/domain"
)

const (
	categoryBonus = 0.3
	materialBonus = 0.2
	brandBonus    = 0.1
	sizeBonus     = 0.1
)

type family struct {
	name     string
	keywords []string
}

// Slices rather than maps keep the first-hit family deterministic.
var categories = []family{
	{"sunglasses", []string{"sunglasses", "eyewear", "glasses", "shades"}},
	{"bottle", []string{"bottle", "flask", "thermos", "tumbler", "hydration"}},
	{"mug", []string{"mug", "cup", "coffee", "tea"}},
	{"stand", []string{"stand", "holder", "dock", "mount"}},
	{"notebook", []string{"notebook", "journal", "diary", "planner", "book"}},
	{"lunchbox", []string{"lunchbox", "lunch", "container", "bento"}},
	{"stole", []string{"stole", "scarf", "wrap", "shawl", "silk"}},
}

var materials = []family{
	{"wood", []string{"wooden", "wood", "bamboo", "timber"}},
	{"silk", []string{"silk", "satin", "fabric"}},
	{"metal", []string{"metal", "steel", "aluminum", "stainless"}},
	{"cork", []string{"cork"}},
}

var (
	volumeRe    = regexp.MustCompile(`\b(\d+)\s*(fl\s*oz|ml|l|oz)\b`)
	dimensionRe = regexp.MustCompile(`\b(\d+)\s*x\s*(\d+)\s*(cm|mm|inch|in)\b`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Candidate is the part of an extracted product the matcher looks at.
type Candidate struct {
	Title       string
	Brand       string
	Description string
}

// Matcher scores how relevant a candidate is to a search term. It holds no state.
type Matcher struct{}

func New() *Matcher {
	return &Matcher{}
}

func (m *Matcher) Match(term string, c Candidate) domain.MatchResult {
	termWords := words(term)
	candidateWords := words(c.Title + " " + c.Description)

	similarity := jaccard(termWords, words(c.Title))
	category, categoryOK := sharedFamily(categories, termWords, candidateWords)
	material, materialOK := sharedFamily(materials, termWords, candidateWords)
	brandOK := brandOverlap(term, c.Brand)
	sizeOK, sizeCompared := sizeCompatible(term, c.Title)

	score := similarity
	var reasons []string
	if categoryOK {
		score += categoryBonus
		reasons = append(reasons, fmt.Sprintf("category match (%s)", category))
	}
	if materialOK {
		score += materialBonus
		reasons = append(reasons, fmt.Sprintf("material match (%s)", material))
	}
	if brandOK {
		score += brandBonus
		reasons = append(reasons, "brand match")
	}
	if sizeOK {
		score += sizeBonus
	} else if sizeCompared {
		reasons = append(reasons, "size mismatch")
	}
	if similarity > 0.5 {
		reasons = append(reasons, fmt.Sprintf("high text similarity (%.2f)", similarity))
	}
	score = min(score, 1.0)

	reasoning := "low similarity"
	if len(reasons) > 0 {
		reasoning = strings.Join(reasons, "; ")
	}

	return domain.MatchResult{
		SimilarityScore: score,
		CategoryMatch:   categoryOK,
		MaterialMatch:   materialOK,
		BrandMatch:      brandOK,
		SizeMatch:       sizeOK,
		Confidence:      tier(score),
		Reasoning:       reasoning,
	}
}

func tier(score float64) domain.Confidence {
	switch {
	case score >= 0.8:
		return domain.ConfidenceHigh
	case score >= 0.5:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// normalize lowercases and drops everything but letters, digits and spaces.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func words(s string) []string {
	return strings.Fields(normalize(s))
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	union := make(map[string]struct{}, len(a)+len(b))
	for w := range setA {
		union[w] = struct{}{}
	}
	inter := 0
	seenB := make(map[string]struct{}, len(b))
	for _, w := range b {
		if _, dup := seenB[w]; dup {
			continue
		}
		seenB[w] = struct{}{}
		union[w] = struct{}{}
		if _, ok := setA[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(union))
}

func sharedFamily(families []family, a, b []string) (string, bool) {
	for _, f := range families {
		if hits(f.keywords, a) && hits(f.keywords, b) {
			return f.name, true
		}
	}
	return "", false
}

// hits matches whole words, allowing simple plurals.
func hits(keywords, ws []string) bool {
	for _, w := range ws {
		for _, kw := range keywords {
			if w == kw || w == kw+"s" || w == kw+"es" {
				return true
			}
		}
	}
	return false
}

func brandOverlap(term, brand string) bool {
	t, b := normalize(term), normalize(brand)
	if t == "" || b == "" {
		return false
	}
	return strings.Contains(t, b) || strings.Contains(b, t)
}

type size struct {
	volume    string
	dimension string
}

func (s size) empty() bool {
	return s.volume == "" && s.dimension == ""
}

func extractSize(text string) size {
	text = strings.ToLower(text)
	var out size
	if m := volumeRe.FindStringSubmatch(text); m != nil {
		out.volume = m[1] + spaceRe.ReplaceAllString(m[2], "")
	}
	if m := dimensionRe.FindStringSubmatch(text); m != nil {
		unit := m[3]
		if unit == "inch" {
			unit = "in"
		}
		out.dimension = m[1] + "x" + m[2] + unit
	}
	return out
}

// sizeCompatible is false only when both sides carry a size of the same kind and the
// sizes differ. compared reports whether such a comparison took place.
func sizeCompatible(term, title string) (ok, compared bool) {
	a, b := extractSize(term), extractSize(title)
	switch {
	case a.empty() || b.empty():
		return true, false
	case a.volume != "" && b.volume != "":
		return a.volume == b.volume, true
	case a.dimension != "" && b.dimension != "":
		return a.dimension == b.dimension, true
	default:
		return true, false
	}
}
