package template

import (
	"regexp"
	"strings"
)

// variablePattern matches {{name}} placeholders, tolerating inner spaces.
var variablePattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// RenderWithVariables substitutes {{key}} placeholders in the template
// content. Placeholders without a value are left intact so a missing
// variable is visible in the produced document rather than silently blank.
func RenderWithVariables(content string, variables map[string]string) string {
	if len(variables) == 0 {
		return content
	}
	return variablePattern.ReplaceAllStringFunc(content, func(match string) string {
		key := strings.TrimSpace(strings.Trim(match, "{}"))
		if value, ok := variables[key]; ok {
			return value
		}
		return match
	})
}

// Variables lists the distinct placeholder names referenced by the content.
func Variables(content string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range variablePattern.FindAllStringSubmatch(content, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}
