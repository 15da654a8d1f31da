package search

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	aho_corasick "github.com/petar-dambovaliev/aho-corasick"
)

// Mode selects how a query is interpreted.
type Mode int

const (
	// ModeAuto infers the mode from query syntax: a trailing '*' switches to
	// fuzzy/prefix matching, anything else is an exact token query.
	ModeAuto Mode = iota
	ModeExact
	ModeFuzzy
	ModeRegex
)

// Options tunes a search call.
type Options struct {
	Mode  Mode
	Limit int // <= 0 uses DefaultLimit
}

// DefaultLimit bounds result sets when the caller does not.
const DefaultLimit = 20

// Result is a scored index hit. Staleness is the caller's concern: the id may
// refer to an entity that has since changed or vanished in the store.
type Result struct {
	ID        string
	Name      string
	Score     float64
	UpdatedAt int64
}

// Search executes a query against the index. The only error case is a
// malformed regex pattern; everything else degrades to best-effort results.
func (idx *Index) Search(query string, opts Options) ([]Result, error) {
	mode := opts.Mode
	q := strings.TrimSpace(query)

	if mode == ModeAuto {
		if strings.HasSuffix(q, "*") {
			mode = ModeFuzzy
		} else {
			mode = ModeExact
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []Result
	switch mode {
	case ModeExact:
		results = idx.searchExact(q)
	case ModeFuzzy:
		results = idx.searchFuzzy(strings.TrimSuffix(q, "*"))
	case ModeRegex:
		re, err := regexp.Compile(q)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern: %w", err)
		}
		results = idx.searchRegex(re)
	default:
		return nil, fmt.Errorf("unknown search mode %d", mode)
	}

	rankResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// =============================================================================
// Exact
// =============================================================================

type scoreAcc struct {
	matched  int
	tfSum    int
	nameHits int
	occ      int
}

func (idx *Index) searchExact(query string) []Result {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	accs := make(map[string]*scoreAcc)
	for _, token := range tokens {
		for docID, tf := range idx.postings[token] {
			acc := accs[docID]
			if acc == nil {
				acc = &scoreAcc{}
				accs[docID] = acc
			}
			acc.matched++
			acc.tfSum += tf
			if entry := idx.docs[docID]; entry != nil && strings.Contains(entry.nameNorm, token) {
				acc.nameHits++
			}
		}
	}
	if len(accs) == 0 {
		return nil
	}

	// One Aho-Corasick pass per candidate verifies all tokens simultaneously
	// and counts raw occurrences for scoring.
	if len(tokens) > 1 {
		ac := buildAutomaton(tokens)
		for docID, acc := range accs {
			if entry := idx.docs[docID]; entry != nil {
				acc.occ = countMatches(ac, entry.content)
			}
		}
	}

	results := make([]Result, 0, len(accs))
	for docID, acc := range accs {
		entry := idx.docs[docID]
		if entry == nil {
			continue
		}
		coverage := float64(acc.matched) / float64(len(tokens))
		score := coverage*4 +
			math.Log1p(float64(acc.tfSum)) +
			float64(acc.nameHits)*2 +
			math.Log1p(float64(acc.occ))*0.5
		results = append(results, Result{
			ID:        docID,
			Name:      entry.doc.Name,
			Score:     score,
			UpdatedAt: entry.doc.UpdatedAt,
		})
	}
	return results
}

func buildAutomaton(patterns []string) aho_corasick.AhoCorasick {
	b := aho_corasick.NewAhoCorasickBuilder(aho_corasick.Opts{
		AsciiCaseInsensitive: false, // content is lowercased already
		MatchOnlyWholeWords:  false,
		MatchKind:            aho_corasick.StandardMatch,
		DFA:                  false,
	})
	return b.Build(patterns)
}

func countMatches(ac aho_corasick.AhoCorasick, content string) int {
	count := 0
	iter := ac.IterOverlapping(content)
	for {
		m := iter.Next()
		if m == nil {
			break
		}
		count++
	}
	return count
}

// =============================================================================
// Fuzzy
// =============================================================================

func (idx *Index) searchFuzzy(query string) []Result {
	qTokens := Tokenize(query)
	if len(qTokens) == 0 {
		return nil
	}

	type fuzzyAcc struct {
		// best (lowest) edit distance per query token index
		best map[int]int
	}
	accs := make(map[string]*fuzzyAcc)

	for qi, qt := range qTokens {
		maxDist := fuzzyBudget(qt)
		for token, posting := range idx.postings {
			dist, ok := tokenDistance(qt, token, maxDist)
			if !ok {
				continue
			}
			for docID := range posting {
				acc := accs[docID]
				if acc == nil {
					acc = &fuzzyAcc{best: make(map[int]int)}
					accs[docID] = acc
				}
				if cur, seen := acc.best[qi]; !seen || dist < cur {
					acc.best[qi] = dist
				}
			}
		}
	}

	// Names that fuzzy-match the whole query lift their documents.
	nameBoost := make(map[string]bool)
	if norm := Normalize(query); len(norm) >= 3 {
		for _, key := range idx.names.FuzzySearch(norm) {
			if ref, ok := idx.nameRefs[key]; ok {
				for id := range ref.ids {
					nameBoost[id] = true
				}
			}
		}
	}

	results := make([]Result, 0, len(accs))
	for docID, acc := range accs {
		entry := idx.docs[docID]
		if entry == nil {
			continue
		}
		score := 0.0
		for qi, dist := range acc.best {
			budget := fuzzyBudget(qTokens[qi])
			score += float64(budget+1-dist) * 2
		}
		score += float64(len(acc.best)) / float64(len(qTokens)) * 2
		if nameBoost[docID] {
			score += 1.5
		}
		results = append(results, Result{
			ID:        docID,
			Name:      entry.doc.Name,
			Score:     score,
			UpdatedAt: entry.doc.UpdatedAt,
		})
	}

	// Documents reached only through the name trie still count.
	for docID := range nameBoost {
		if _, seen := accs[docID]; seen {
			continue
		}
		entry := idx.docs[docID]
		if entry == nil {
			continue
		}
		results = append(results, Result{
			ID:        docID,
			Name:      entry.doc.Name,
			Score:     1.5,
			UpdatedAt: entry.doc.UpdatedAt,
		})
	}
	return results
}

// fuzzyBudget is the edit-distance tolerance for a query token.
func fuzzyBudget(token string) int {
	if len(token) <= 4 {
		return 1
	}
	return 2
}

// tokenDistance reports the effective distance between a query token and an
// indexed token. Prefix matches count as distance zero so that trailing-'*'
// queries behave as prefix search.
func tokenDistance(qt, token string, maxDist int) (int, bool) {
	if strings.HasPrefix(token, qt) {
		return 0, true
	}
	if abs(len(token)-len(qt)) > maxDist {
		return 0, false
	}
	dist := levenshtein.ComputeDistance(qt, token)
	if dist > maxDist {
		return 0, false
	}
	return dist, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// =============================================================================
// Regex
// =============================================================================

func (idx *Index) searchRegex(re *regexp.Regexp) []Result {
	var results []Result
	for docID, entry := range idx.docs {
		score := 0.0
		if re.MatchString(entry.doc.Name) {
			score += 2
		}
		if hits := re.FindAllStringIndex(entry.content, 8); hits != nil {
			score += 1 + float64(len(hits))*0.1
		}
		if score == 0 {
			continue
		}
		results = append(results, Result{
			ID:        docID,
			Name:      entry.doc.Name,
			Score:     score,
			UpdatedAt: entry.doc.UpdatedAt,
		})
	}
	return results
}

// rankResults orders by score, then most recently updated, then id.
func rankResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].UpdatedAt != results[j].UpdatedAt {
			return results[i].UpdatedAt > results[j].UpdatedAt
		}
		return results[i].ID < results[j].ID
	})
}
