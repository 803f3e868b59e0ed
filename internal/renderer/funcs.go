package renderer

import (
	"sort"
	"strings"
	"text/template"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FuncMap returns the helper functions available to every template.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"camelize":    inflect.CamelizeDownFirst,
		"pascalize":   inflect.Camelize,
		"pluralize":   inflect.Pluralize,
		"singularize": inflect.Singularize,
		"underscore":  inflect.Underscore,
		"dasherize":   inflect.Dasherize,
		"title":       caser(cases.Title),
		"upper":       caser(cases.Upper),
		"lower":       caser(cases.Lower),
		"trimPrefix":  strings.TrimPrefix,
		"trimSuffix":  strings.TrimSuffix,
		"hasPrefix":   strings.HasPrefix,
		"join":        strings.Join,
		"sortedKeys":  sortedKeys,
		"default":     defaultValue,
	}
}

// caser builds a fresh Caser per call since a Caser must not be shared
// between goroutines.
func caser(build func(language.Tag, ...cases.Option) cases.Caser) func(string) string {
	return func(s string) string {
		return build(language.English).String(s)
	}
}

// sortedKeys returns the keys of a mapping context value in sorted order.
// text/template ranges over maps in key order already; this is for joins
// and counting.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func defaultValue(fallback, value interface{}) interface{} {
	if value == nil {
		return fallback
	}
	if s, ok := value.(string); ok && s == "" {
		return fallback
	}
	return value
}
