package service

import "strings"

type rewrite struct {
	word         string
	replacements []string
}

// Applied in order; each rule swaps one whole word of the term.
var rewrites = []rewrite{
	{"wooden", []string{"wood", "bamboo"}},
	{"sunglasses", []string{"shades"}},
	{"mug", []string{"coffee mug"}},
	{"lunchbox", []string{"lunch box", "bento box"}},
	{"bottle", []string{"water bottle"}},
	{"notebook", []string{"journal"}},
	{"scarf", []string{"shawl", "stole"}},
}

// Variants returns the term followed by its synonym rewrites, without duplicates.
func Variants(term string) []string {
	term = strings.Join(strings.Fields(strings.ToLower(term)), " ")
	if term == "" {
		return nil
	}

	out := []string{term}
	seen := map[string]struct{}{term: {}}
	words := strings.Fields(term)

	for _, rw := range rewrites {
		for i, w := range words {
			if w != rw.word {
				continue
			}
			for _, repl := range rw.replacements {
				if strings.Contains(term, repl) {
					continue
				}
				variant := make([]string, 0, len(words)+1)
				variant = append(variant, words[:i]...)
				variant = append(variant, repl)
				variant = append(variant, words[i+1:]...)

				v := strings.Join(variant, " ")
				if _, dup := seen[v]; dup {
					continue
				}
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
	}
	return out
}
