package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RewriteRule names the link-bearing attributes rewritten on one tag.
type RewriteRule struct {
	Tag   string
	Attrs []string
}

// DefaultRules is the rewrite table used when no rules file is configured.
var DefaultRules = []RewriteRule{
	{Tag: "a", Attrs: []string{"href"}},
	{Tag: "link", Attrs: []string{"href"}},
	{Tag: "script", Attrs: []string{"src"}},
	{Tag: "img", Attrs: []string{"src", "srcset"}},
	{Tag: "meta", Attrs: []string{"content"}},
}

// ruleEntry is one entry of a YAML rules file. Either Tag or Tags may be set.
type ruleEntry struct {
	Tag   string   `yaml:"tag,omitempty"`
	Tags  []string `yaml:"tags,omitempty"`
	Attrs []string `yaml:"attrs"`
}

// LoadRules reads a YAML rewrite table. Entries for the same tag are merged
// in file order; tag and attribute names are lowercased.
func LoadRules(path string) ([]RewriteRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}

	var entries []ruleEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("syntax error in rules file %s: %w", path, err)
	}

	var rules []RewriteRule
	index := make(map[string]int)
	for i, e := range entries {
		tags := e.Tags
		if e.Tag != "" {
			tags = append([]string{e.Tag}, tags...)
		}
		if len(tags) == 0 {
			return nil, fmt.Errorf("rules file %s: entry %d names no tag", path, i)
		}
		if len(e.Attrs) == 0 {
			return nil, fmt.Errorf("rules file %s: entry %d names no attributes", path, i)
		}
		for _, tag := range tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			pos, ok := index[tag]
			if !ok {
				pos = len(rules)
				index[tag] = pos
				rules = append(rules, RewriteRule{Tag: tag})
			}
			for _, attr := range e.Attrs {
				rules[pos].Attrs = appendUnique(rules[pos].Attrs, strings.ToLower(strings.TrimSpace(attr)))
			}
		}
	}

	if len(rules) == 0 {
		return nil, fmt.Errorf("rules file %s: no rules defined", path)
	}
	return rules, nil
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
