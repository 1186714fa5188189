package paths

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go-ytdl-host/internal/helpers"
)

// OutputName is the engine output template for the file name itself.
const OutputName = "%(title)s.%(ext)s"

// Tags that may appear in a subfolder pattern
var allowedTags = map[string]struct{}{
	"kind":    {},
	"quality": {},
	"channel": {},
	"date":    {},
}

// Regex to find tags like {tagName}
var tagRegex = regexp.MustCompile(`\{([^}]+)\}`)

// GeneratePath substitutes placeholders in a pattern string with sanitized values from the data map.
// It returns the generated relative path string or an error if substitution fails.
func GeneratePath(pattern string, data map[string]string) (string, error) {
	generatedPath := pattern

	for _, match := range tagRegex.FindAllStringSubmatch(pattern, -1) {
		if len(match) < 2 {
			continue
		}
		tagName := match[1]
		tagWithBraces := match[0]

		if _, allowed := allowedTags[tagName]; !allowed {
			return "", fmt.Errorf("unknown tag found in path pattern: %s", tagWithBraces)
		}

		sanitizedValue := helpers.ConvertToSlug(data[tagName])
		if sanitizedValue == "" {
			sanitizedValue = "unknown_" + tagName
		}
		generatedPath = strings.ReplaceAll(generatedPath, tagWithBraces, sanitizedValue)
	}

	cleanedPath := filepath.Clean(generatedPath)
	if cleanedPath == "." || cleanedPath == "" {
		return "", fmt.Errorf("generated path pattern resulted in an empty or invalid path: '%s'", pattern)
	}
	cleanedPath = strings.TrimPrefix(cleanedPath, string(filepath.Separator))

	// Security check: Prevent path traversal
	if strings.Contains(cleanedPath, "..") {
		return "", fmt.Errorf("generated path contains invalid sequence '..': %s", cleanedPath)
	}

	return cleanedPath, nil
}

// OutputTemplate builds the engine output template for a download into baseDir.
// An empty pattern places files directly in baseDir.
func OutputTemplate(baseDir, pattern string, data map[string]string) (string, error) {
	if baseDir == "" {
		return "", fmt.Errorf("output directory is empty")
	}
	if strings.TrimSpace(pattern) == "" {
		return filepath.Join(baseDir, OutputName), nil
	}
	sub, err := GeneratePath(pattern, data)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, sub, OutputName), nil
}

// TagData builds the substitution map for a subfolder pattern.
func TagData(kind, quality, channel string, when time.Time) map[string]string {
	return map[string]string{
		"kind":    kind,
		"quality": quality,
		"channel": channel,
		"date":    when.Format("2006-01-02"),
	}
}
