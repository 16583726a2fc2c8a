// Package lexicon loads the CEFR-graded word list used by the
// vocabulary analysis and answers level lookups for arbitrary word
// forms.
//
// The list is loaded once at startup; serving must not begin before
// [Load] has succeeded. Lookups lemmatise the query with a small
// suffix-stripping lemmatiser and fall back to fuzzy matching
// (Jaro-Winkler similarity plus Double Metaphone equality) before a
// word is treated as absent from the list.
package lexicon

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// jaroWinklerThreshold is the minimum similarity for a fuzzy hit.
const jaroWinklerThreshold = 0.93

// NextLevel maps a CEFR level to the next one up, as used when
// suggesting more advanced vocabulary.
var NextLevel = map[string]string{
	"A1": "A2",
	"A2": "B1",
	"B1": "B2",
	"B2": "C1",
}

// Entry is one graded word from the list.
type Entry struct {
	Word  string `json:"word"`
	Level string `json:"level"`
}

// rawEntry matches the word list file layout: an array of objects each
// wrapping the word record in a value field.
type rawEntry struct {
	Value Entry `json:"value"`
}

// Lexicon is the loaded word list, keyed by lemma. Read-only after
// [Load]; safe for concurrent use.
type Lexicon struct {
	entries map[string]Entry
	lemmas  []string
}

// Load reads and indexes the word list at path.
func Load(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: read word list: %w", err)
	}

	var raw []rawEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("lexicon: parse word list: %w", err)
	}

	entries := make(map[string]Entry, len(raw))
	for _, r := range raw {
		if r.Value.Word == "" || r.Value.Level == "" {
			continue
		}
		entries[Lemma(r.Value.Word)] = r.Value
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("lexicon: word list %s contains no usable entries", path)
	}

	lemmas := make([]string, 0, len(entries))
	for l := range entries {
		lemmas = append(lemmas, l)
	}
	sort.Strings(lemmas)

	return &Lexicon{entries: entries, lemmas: lemmas}, nil
}

// Len returns the number of indexed lemmas.
func (l *Lexicon) Len() int { return len(l.entries) }

// Lookup resolves word to a graded entry: exact lemma match first, then
// fuzzy fallback. Returns false when the word is out of list.
func (l *Lexicon) Lookup(word string) (Entry, bool) {
	lemma := Lemma(word)
	if e, ok := l.entries[lemma]; ok {
		return e, true
	}
	return l.fuzzy(lemma)
}

// Level returns the CEFR level for word, or false when out of list.
func (l *Lexicon) Level(word string) (string, bool) {
	e, ok := l.Lookup(word)
	return e.Level, ok
}

// fuzzy scans for the closest lemma by Jaro-Winkler similarity,
// requiring phonetic agreement so "their"/"there" class confusions do
// not produce spurious hits.
func (l *Lexicon) fuzzy(lemma string) (Entry, bool) {
	if len(lemma) < 4 {
		return Entry{}, false
	}

	queryPrimary, querySecondary := matchr.DoubleMetaphone(lemma)
	best := ""
	bestScore := jaroWinklerThreshold
	for _, candidate := range l.lemmas {
		score := matchr.JaroWinkler(lemma, candidate, true)
		if score < bestScore {
			continue
		}
		p, s := matchr.DoubleMetaphone(candidate)
		if p != queryPrimary && (s == "" || s != querySecondary) {
			continue
		}
		best = candidate
		bestScore = score
	}
	if best == "" {
		return Entry{}, false
	}
	return l.entries[best], true
}

// suffixRules are applied longest-first; each maps a suffix to its
// replacement. Deliberately coarse: the word list itself stores
// lemmatised keys, so near misses are caught by the fuzzy fallback.
var suffixRules = []struct {
	suffix  string
	replace string
	minStem int
}{
	{"iest", "y", 2},
	{"ier", "y", 2},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ied", "y", 2},
	{"est", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"es", "", 3},
	{"ly", "", 3},
	{"s", "", 3},
}

// Lemma reduces word to a lowercase base form by stripping common
// inflectional suffixes.
func Lemma(word string) string {
	w := strings.ToLower(strings.TrimSpace(word))
	for _, r := range suffixRules {
		if !strings.HasSuffix(w, r.suffix) {
			continue
		}
		stem := strings.TrimSuffix(w, r.suffix)
		if len(stem) < r.minStem {
			continue
		}
		// Undouble final consonants left by -ing/-ed stripping
		// ("running" → "runn" → "run").
		if r.replace == "" && len(stem) >= 2 && stem[len(stem)-1] == stem[len(stem)-2] && !isVowel(stem[len(stem)-1]) {
			stem = stem[:len(stem)-1]
		}
		return stem + r.replace
	}
	return w
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
