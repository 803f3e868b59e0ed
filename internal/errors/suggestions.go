package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ContextAvailable is the context key holding the keys that exist where a
// reference path stopped matching.
const ContextAvailable = "available"

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// Suggest returns fix suggestions for err, or nil when there are none.
func Suggest(err error) []ErrorSuggestion {
	var pe *PigError
	if !errors.As(err, &pe) {
		return nil
	}

	switch pe.Code {
	case ErrCodeConfigNotFound:
		return []ErrorSuggestion{
			{
				Title:       "Create pig.yaml",
				Description: "pig looks for pig.yaml in the working directory and every parent",
				Example:     "entries:\n       - api: openapi/api.yaml\n         in: templates\n         out: generated",
			},
			{
				Title:   "Point at an existing config",
				Command: "pig --config path/to/pig.yaml",
			},
		}

	case ErrCodeNotAFile, ErrCodeNotADirectory:
		return []ErrorSuggestion{{
			Title:       "Check entry paths",
			Description: "api must be a file and in must be a directory, relative to the directory of pig.yaml",
			Command:     "ls -la " + pe.FilePath,
		}}

	case ErrCodeRefNotFound:
		return refNotFound(pe)

	case ErrCodeRefCycle:
		return []ErrorSuggestion{{
			Title:       "Break the reference cycle",
			Description: "Every $ref in the chain eventually points back to itself; inline one of the targets or drop one link",
		}}

	case ErrCodeRefInvalidObject:
		return []ErrorSuggestion{{
			Title:       "Keep $ref alone in its object",
			Description: "Sibling keys next to $ref are not allowed; wrap the reference instead",
			Example:     "allOf:\n       - $ref: 'models.yaml#/Pet'\n       - description: extra fields",
		}}

	case ErrCodeRefReservedKey:
		return []ErrorSuggestion{{
			Title:       "Rename reserved keys",
			Description: "Reference targets may not define $ref, $file, $keys or $name themselves",
		}}

	case ErrCodeSchemaStrict:
		return []ErrorSuggestion{
			{
				Title:       "Check the document header",
				Description: "The schema root needs openapi (or swagger), info and paths",
			},
			{
				Title:   "Inspect the document without validation",
				Command: "pig resolve --no-validate " + pe.FilePath,
			},
		}

	case ErrCodeOutputCollision:
		return []ErrorSuggestion{{
			Title:       "Separate entry outputs",
			Description: "Give entries distinct out directories or rename one of the templates",
		}}

	case ErrCodeTemplateExec:
		return []ErrorSuggestion{{
			Title:       "Check the template context",
			Description: "Templates run against the resolved document; print it to see which keys exist",
			Command:     "pig resolve --format yaml <schema>",
		}}
	}

	return nil
}

func refNotFound(pe *PigError) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{{
		Title:       "Check the reference path",
		Description: "Each segment after # names a key (or an index) in the target file",
	}}

	available, _ := pe.Context[ContextAvailable].([]string)
	if len(available) == 0 || len(pe.Keys) == 0 {
		return suggestions
	}
	missing := pe.Keys[len(pe.Keys)-1]

	if match := closest(missing, available); match != "" {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Did you mean '" + match + "'?",
			Description: "Similar key found",
		})
	}

	sorted := append([]string(nil), available...)
	sort.Strings(sorted)
	suggestions = append(suggestions, ErrorSuggestion{
		Title:       "Available keys",
		Description: strings.Join(sorted, ", "),
	})
	return suggestions
}

// closest returns the candidate that differs from name only by case, or
// that contains it (or is contained in it). Ties go to the first candidate.
func closest(name string, candidates []string) string {
	lower := strings.ToLower(name)
	for _, c := range candidates {
		if strings.EqualFold(c, name) {
			return c
		}
	}
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if strings.Contains(lc, lower) || strings.Contains(lower, lc) {
			return c
		}
	}
	return ""
}

// FormatSuggestions formats suggestions into a user-friendly string
func FormatSuggestions(suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return ""
	}

	var output strings.Builder
	output.WriteString("Suggestions:\n")

	for i, suggestion := range suggestions {
		output.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion.Title))
		if suggestion.Description != "" {
			output.WriteString(fmt.Sprintf("     %s\n", suggestion.Description))
		}
		if suggestion.Command != "" {
			output.WriteString(fmt.Sprintf("     Run: %s\n", suggestion.Command))
		}
		if suggestion.Example != "" {
			output.WriteString(fmt.Sprintf("     Example:\n       %s\n", suggestion.Example))
		}
	}

	return output.String()
}
