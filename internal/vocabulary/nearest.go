package vocabulary

import "strings"

// nearest picks the registered kind closest to name. Candidates are checked
// in three passes: case-insensitive name or alias equality, substring
// containment (longest match wins), then edit distance within a bound.
// kinds must be sorted by name so ties resolve deterministically.
func nearest(name string, kinds []Kind) (string, bool) {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" || len(kinds) == 0 {
		return "", false
	}

	for _, k := range kinds {
		if strings.ToLower(k.Name) == q {
			return k.Name, true
		}
	}
	for _, k := range kinds {
		for _, a := range k.Aliases {
			if strings.ToLower(a) == q {
				return k.Name, true
			}
		}
	}

	best, bestLen := "", 0
	for _, k := range kinds {
		for _, cand := range append([]string{k.Name}, k.Aliases...) {
			c := strings.ToLower(cand)
			if len(c) < 2 {
				continue
			}
			if strings.Contains(q, c) || (len(q) >= 3 && strings.Contains(c, q)) {
				if len(c) > bestLen {
					best, bestLen = k.Name, len(c)
				}
			}
		}
	}
	if best != "" {
		return best, true
	}

	bestDist := -1
	for _, k := range kinds {
		d := levenshtein(q, strings.ToLower(k.Name))
		if bestDist < 0 || d < bestDist {
			best, bestDist = k.Name, d
		}
	}
	if bestDist <= max(2, len([]rune(q))/3) {
		return best, true
	}
	return "", false
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
