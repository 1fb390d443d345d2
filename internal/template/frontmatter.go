package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/pegtmpl/pkg/pegtmpl"
	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML header of a template.
// Unknown fields cause parse errors (use Meta for extensions).
type Frontmatter struct {
	Name        string `yaml:"name" json:"name,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`

	// Actions lists .star files loaded for this template, relative to it.
	Actions []string `yaml:"actions" json:"actions,omitempty"`

	// Start is the default start rule; AllowedStartRules are the others
	// a parse may select.
	Start             string   `yaml:"start" json:"start,omitempty"`
	AllowedStartRules []string `yaml:"allowed_start_rules" json:"allowed_start_rules,omitempty"`

	// Options are default parse options.
	Options map[string]any `yaml:"options" json:"options,omitempty"`

	// Labels is the label policy: ignore, warn or strict.
	Labels string `yaml:"labels" json:"labels,omitempty"`

	Meta map[string]any `yaml:"meta" json:"meta,omitempty"`
}

// StartRules returns Start followed by AllowedStartRules, without
// duplicates.
func (f *Frontmatter) StartRules() []string {
	var rules []string
	seen := make(map[string]bool)
	for _, r := range append([]string{f.Start}, f.AllowedStartRules...) {
		if r != "" && !seen[r] {
			seen[r] = true
			rules = append(rules, r)
		}
	}
	return rules
}

// frontmatterPattern matches /*--- ... ---*/ blocks.
var frontmatterPattern = regexp.MustCompile(`(?s)^\s*/\*---\s*\n(.*?)\s*---\*/`)

var knownFields = map[string]bool{
	"name":                true,
	"description":         true,
	"actions":             true,
	"start":               true,
	"allowed_start_rules": true,
	"options":             true,
	"labels":              true,
	"meta":                true,
}

// extractFrontmatter splits content into its frontmatter and body. end is
// the byte offset where the body starts; it is 0 without frontmatter.
func extractFrontmatter(file, content string) (fm *Frontmatter, end int, err error) {
	loc := frontmatterPattern.FindStringSubmatchIndex(content)
	if loc == nil {
		return &Frontmatter{}, 0, nil
	}

	fm, err = parseFrontmatterYAML(file, content[loc[2]:loc[3]])
	if err != nil {
		return nil, 0, err
	}
	return fm, loc[1], nil
}

// parseFrontmatterYAML parses YAML content with strict field validation.
func parseFrontmatterYAML(file, yamlContent string) (*Frontmatter, error) {
	var rawMap map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &rawMap); err != nil {
		return nil, &FrontmatterParseError{File: file, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	for field := range rawMap {
		if !knownFields[field] {
			return nil, &UnknownFieldError{File: file, Field: field}
		}
	}

	fm := &Frontmatter{}
	if err := yaml.Unmarshal([]byte(yamlContent), fm); err != nil {
		return nil, &FrontmatterParseError{File: file, Message: fmt.Sprintf("failed to parse frontmatter: %v", err)}
	}

	if _, err := pegtmpl.ParseLabelPolicy(fm.Labels); err != nil {
		return nil, &FrontmatterParseError{File: file, Message: err.Error()}
	}
	for _, a := range fm.Actions {
		if !strings.HasSuffix(a, ".star") {
			return nil, &FrontmatterParseError{File: file, Message: fmt.Sprintf("action file %q must have a .star extension", a)}
		}
	}
	return fm, nil
}
