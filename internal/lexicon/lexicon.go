package lexicon

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultLexicon []byte

// Category groups terms that share a weight and a pruning policy.
type Category struct {
	Name         string   `yaml:"name"`
	Weight       float64  `yaml:"weight"`
	MustKeep     bool     `yaml:"must_keep"`    // risk categories: matching turns are never pruned
	Facilitation bool     `yaml:"facilitation"` // rubric-relevant categories for facilitator turns
	Terms        []string `yaml:"terms"`
}

type document struct {
	Version    int        `yaml:"version"`
	Categories []Category `yaml:"categories"`
}

// Match records how often one lexicon term occurred in a token stream.
type Match struct {
	Category string
	Term     string
	Count    int
}

type entry struct {
	category int
	term     string
	tokens   []string
}

// Lexicon is the process-wide keyword store. It is never mutated after
// construction, so a single instance is shared by all concurrent evaluations.
type Lexicon struct {
	version    int
	categories []Category
	entries    []entry
	byFirst    map[string][]int
}

// Default returns the lexicon compiled into the binary.
func Default() (*Lexicon, error) {
	return Parse(defaultLexicon)
}

// Load reads a YAML lexicon from disk.
func Load(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	return Parse(data)
}

// Parse builds a Lexicon from a YAML document.
func Parse(data []byte) (*Lexicon, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("lexicon has no categories")
	}

	lex := &Lexicon{
		version: doc.Version,
		byFirst: make(map[string][]int),
	}
	seen := make(map[string]bool, len(doc.Categories))
	for ci, cat := range doc.Categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			return nil, fmt.Errorf("category %d has no name", ci)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate category %q", name)
		}
		seen[name] = true
		if cat.Weight < 0 {
			return nil, fmt.Errorf("category %q has negative weight", name)
		}
		if len(cat.Terms) == 0 {
			return nil, fmt.Errorf("category %q has no terms", name)
		}

		cat.Name = name
		normalized := make([]string, 0, len(cat.Terms))
		dup := make(map[string]bool, len(cat.Terms))
		for _, term := range cat.Terms {
			toks := Tokenize(term)
			if len(toks) == 0 {
				return nil, fmt.Errorf("category %q has an empty term", name)
			}
			key := strings.Join(toks, " ")
			if dup[key] {
				continue
			}
			dup[key] = true
			normalized = append(normalized, key)
			lex.byFirst[toks[0]] = append(lex.byFirst[toks[0]], len(lex.entries))
			lex.entries = append(lex.entries, entry{category: ci, term: key, tokens: toks})
		}
		cat.Terms = normalized
		lex.categories = append(lex.categories, cat)
	}
	return lex, nil
}

// Version is the document version declared in the YAML source.
func (l *Lexicon) Version() int { return l.version }

// Categories returns a copy of the configured categories in declaration order.
func (l *Lexicon) Categories() []Category {
	out := make([]Category, len(l.categories))
	for i, c := range l.categories {
		c.Terms = append([]string(nil), c.Terms...)
		out[i] = c
	}
	return out
}

// Category looks a category up by name.
func (l *Lexicon) Category(name string) (Category, bool) {
	for _, c := range l.categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// Match counts every lexicon term occurring in tokens. Phrases match on
// consecutive tokens; overlapping matches of different terms are all counted.
// Results are ordered by category declaration order, then term.
func (l *Lexicon) Match(tokens []string) []Match {
	counts := make(map[int]int)
	for i, tok := range tokens {
		for _, ei := range l.byFirst[tok] {
			if hasPrefix(tokens[i:], l.entries[ei].tokens) {
				counts[ei]++
			}
		}
	}
	if len(counts) == 0 {
		return nil
	}

	out := make([]Match, 0, len(counts))
	for ei, n := range counts {
		e := l.entries[ei]
		out = append(out, Match{Category: l.categories[e.category].Name, Term: e.term, Count: n})
	}
	order := make(map[string]int, len(l.categories))
	for i, c := range l.categories {
		order[c.Name] = i
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return order[out[i].Category] < order[out[j].Category]
		}
		return out[i].Term < out[j].Term
	})
	return out
}

// Tokenize lower-cases text and splits it into letter/digit runs. Apostrophes
// stay inside words so "can't" is one token.
func Tokenize(text string) []string {
	text = strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func hasPrefix(tokens, prefix []string) bool {
	if len(prefix) > len(tokens) {
		return false
	}
	for i := range prefix {
		if tokens[i] != prefix[i] {
			return false
		}
	}
	return true
}
