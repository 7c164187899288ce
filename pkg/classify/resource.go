package classify

import (
	"strings"
	"unicode"
)

// identifierKeys are tried in order when naming a state resource.
var identifierKeys = []string{
	"identifier",
	"cluster_identifier",
	"cluster_id",
	"replication_group_id",
	"domain_name",
	"cluster_name",
	"broker_name",
	"name",
}

// ResourceName picks the display name of a state resource: an identifier
// attribute, then the Name tag, then the resource's own name.
func ResourceName(attrs Attributes, resourceName string) string {
	if id := attrs.FirstString(identifierKeys...); id != "" {
		return id
	}
	if tags := attrs.Tags(); tags != nil {
		if name := tags["Name"]; name != "" {
			return name
		}
	}
	return resourceName
}

// environmentTagKeys are matched case-insensitively.
var environmentTagKeys = []string{"environment", "env", "stage", "tier"}

// environmentFamilies maps each keyword to its family.
var environmentFamilies = map[string]string{
	"production":  "production",
	"prod":        "production",
	"prd":         "production",
	"live":        "production",
	"staging":     "staging",
	"stage":       "staging",
	"stg":         "staging",
	"preprod":     "staging",
	"development": "development",
	"develop":     "development",
	"dev":         "development",
	"testing":     "testing",
	"test":        "testing",
	"qa":          "testing",
}

// SuggestGroup proposes an existing group for a state resource. An
// environment tag naming a group wins; otherwise environment keywords in the
// name or identifier are matched against group names of the same family.
// Returns "" when nothing matches or the keywords point at several groups.
func SuggestGroup(attrs Attributes, resourceName, displayName string, groups []string) string {
	if g := groupFromTags(attrs, groups); g != "" {
		return g
	}

	families := map[string]bool{}
	for _, token := range tokenize(resourceName + " " + displayName) {
		if fam, ok := environmentFamilies[token]; ok {
			families[fam] = true
		}
	}
	if len(families) == 0 {
		return ""
	}

	var matched []string
	for _, g := range groups {
		if families[groupFamily(g)] {
			matched = append(matched, g)
		}
	}
	if len(matched) != 1 {
		return ""
	}
	return matched[0]
}

func groupFromTags(attrs Attributes, groups []string) string {
	tags := attrs.Tags()
	for _, envKey := range environmentTagKeys {
		for key, value := range tags {
			if strings.EqualFold(key, envKey) {
				if g := findGroup(value, groups); g != "" {
					return g
				}
			}
		}
	}
	for _, value := range attrs.TagList() {
		if g := findGroup(value, groups); g != "" {
			return g
		}
	}
	return ""
}

func findGroup(value string, groups []string) string {
	for _, g := range groups {
		if strings.EqualFold(value, g) {
			return g
		}
	}
	return ""
}

// groupFamily returns the environment family of a group name, or "".
func groupFamily(group string) string {
	tokens := tokenize(group)
	if len(tokens) == 1 {
		return environmentFamilies[tokens[0]]
	}
	// Multi-word group names such as "prod-eu" count when exactly one family
	// is present.
	fam := ""
	for _, t := range tokens {
		f, ok := environmentFamilies[t]
		if !ok {
			continue
		}
		if fam != "" && fam != f {
			return ""
		}
		fam = f
	}
	return fam
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
