// Package lexical implements deterministic keyword matching between a
// candidate document and a job description.
package lexical

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/skillsift/evalengine/pkg/textx"
)

//go:embed skills.yaml
var defaultSkillsYAML []byte

type skillEntry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type skillsFile struct {
	Skills []skillEntry `yaml:"skills"`
}

// variant is one normalized spelling of a skill. Multi-word skills become
// multi-token phrases matched on consecutive tokens.
type variant struct {
	tokens    []string
	canonical string
}

// Dictionary holds the canonical skill names and every normalized variant
// that maps onto them. It is immutable after construction and safe for
// concurrent use.
type Dictionary struct {
	variants []variant
	names    []string
}

// DefaultDictionary builds the dictionary from the embedded skill list.
func DefaultDictionary() (*Dictionary, error) {
	return parseDictionary(defaultSkillsYAML)
}

// LoadDictionary reads a skill list from path. An empty path falls back to
// the embedded default.
func LoadDictionary(path string) (*Dictionary, error) {
	if path == "" {
		return DefaultDictionary()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skills file: %w", err)
	}
	dict, err := parseDictionary(raw)
	if err != nil {
		return nil, fmt.Errorf("parse skills file %s: %w", path, err)
	}
	return dict, nil
}

func parseDictionary(raw []byte) (*Dictionary, error) {
	var file skillsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("unmarshal skills: %w", err)
	}
	if len(file.Skills) == 0 {
		return nil, fmt.Errorf("skills list is empty")
	}

	dict := &Dictionary{}
	seen := map[string]bool{}
	for _, entry := range file.Skills {
		if entry.Name == "" {
			return nil, fmt.Errorf("skill entry with empty name")
		}
		dict.names = append(dict.names, entry.Name)
		for _, spelling := range append([]string{entry.Name}, entry.Aliases...) {
			tokens := textx.Tokens(spelling)
			if len(tokens) == 0 {
				continue
			}
			key := fmt.Sprint(tokens)
			if seen[key] {
				continue
			}
			seen[key] = true
			dict.variants = append(dict.variants, variant{tokens: tokens, canonical: entry.Name})
		}
	}
	return dict, nil
}

// Size returns the number of canonical skills.
func (d *Dictionary) Size() int {
	return len(d.names)
}

// scan returns, for each canonical skill present in tokens, the token index
// of its first occurrence across all variants.
func (d *Dictionary) scan(tokens []string) map[string]int {
	found := map[string]int{}
	for _, v := range d.variants {
		idx := indexOfPhrase(tokens, v.tokens)
		if idx < 0 {
			continue
		}
		if prev, ok := found[v.canonical]; !ok || idx < prev {
			found[v.canonical] = idx
		}
	}
	return found
}

func indexOfPhrase(tokens, phrase []string) int {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return -1
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, word := range phrase {
			if tokens[i+j] != word {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
