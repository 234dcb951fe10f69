package fanout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/panel/internal/models"
)

// SpecialistReview is one specialist's section of a multiplexed response.
type SpecialistReview struct {
	Specialist string              `json:"specialist"`
	Review     models.ReviewOutput `json:"review"`
}

// artifactDir is where backends may durably write their review instead of
// (or in addition to) printing it.
const artifactDir = ".panel"

// ArtifactPath returns the side-artifact location for a backend's review.
func ArtifactPath(workDir, backendName string) string {
	return filepath.Join(workDir, artifactDir, "review-"+backendName+".json")
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)```")

// ParseOutput recovers specialist reviews from a backend's raw output,
// trying strategies in order: fenced JSON blocks, brace-matched inline
// objects, heading-delimited text, and finally a side artifact the
// backend may have written under the workdir. Returns an error only when
// every strategy comes up empty.
func ParseOutput(output, workDir, backendName string, specialists []string) ([]SpecialistReview, error) {
	if reviews := parseFencedBlocks(output); len(reviews) > 0 {
		return reviews, nil
	}
	if reviews := parseInlineObjects(output); len(reviews) > 0 {
		return reviews, nil
	}
	if reviews := parseHeadings(output, specialists); len(reviews) > 0 {
		return reviews, nil
	}
	if reviews := parseArtifact(workDir, backendName); len(reviews) > 0 {
		return reviews, nil
	}
	return nil, fmt.Errorf("no parse strategy recovered structured output from backend %s", backendName)
}

// parseFencedBlocks extracts ```json fenced {specialist, review} objects.
func parseFencedBlocks(output string) []SpecialistReview {
	var reviews []SpecialistReview
	for _, m := range fencedBlockRe.FindAllStringSubmatch(output, -1) {
		var sr SpecialistReview
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &sr); err != nil {
			continue
		}
		if sr.Specialist != "" {
			reviews = append(reviews, sr)
		}
	}
	return reviews
}

// parseInlineObjects scans for brace-matched objects shaped like
// {"specialist": ..., "review": ...} without fencing.
func parseInlineObjects(output string) []SpecialistReview {
	var reviews []SpecialistReview
	for i := 0; i < len(output); i++ {
		if output[i] != '{' {
			continue
		}
		end, ok := matchBraces(output, i)
		if !ok {
			continue
		}
		candidate := output[i : end+1]
		var sr SpecialistReview
		if err := json.Unmarshal([]byte(candidate), &sr); err == nil && sr.Specialist != "" {
			reviews = append(reviews, sr)
			i = end
		}
	}
	return reviews
}

// matchBraces finds the index of the brace closing the one at start,
// skipping braces inside JSON strings.
func matchBraces(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

var headingIssueRe = regexp.MustCompile(`(?i)^[-*]\s*\[?(critical|high|medium|low)\]?\s*:?\s*(?:([\w./\-]+\.\w+):(\d+)\s*[-:]?\s*)?(.+)$`)

// specialist names map to a default category for the text fallback, where
// the backend gave us prose instead of structured issues.
var fallbackCategory = map[string]models.Category{
	"security":       models.CategorySecurity,
	"performance":    models.CategoryPerformance,
	"testing":        models.CategoryTesting,
	"architecture":   models.CategoryArchitecture,
	"business-logic": models.CategoryBusiness,
	"quality":        models.CategoryLogic,
}

// parseHeadings recovers reviews from markdown-ish text delimited by
// specialist-name headings, with bullet issue lines like
// "- [HIGH] store.go:42 connection never closed".
func parseHeadings(output string, specialists []string) []SpecialistReview {
	byName := make(map[string]bool, len(specialists))
	for _, s := range specialists {
		byName[strings.ToLower(s)] = true
	}

	var reviews []SpecialistReview
	var current *SpecialistReview

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") {
			name := strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "# ")))
			name = strings.TrimSuffix(name, " review")
			if byName[name] {
				if current != nil {
					reviews = append(reviews, *current)
				}
				current = &SpecialistReview{
					Specialist: name,
					Review:     models.ReviewOutput{Specialist: name},
				}
			}
			continue
		}

		if current == nil {
			continue
		}
		m := headingIssueRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		issue := models.Issue{
			Severity: models.Severity(strings.ToUpper(m[1])),
			Category: fallbackCategoryFor(current.Specialist),
			File:     m[2],
			Title:    strings.TrimSpace(m[4]),
		}
		if m[3] != "" {
			issue.LineStart, _ = strconv.Atoi(m[3])
		}
		current.Review.Issues = append(current.Review.Issues, issue)
	}
	if current != nil {
		reviews = append(reviews, *current)
	}
	return reviews
}

func fallbackCategoryFor(specialist string) models.Category {
	if c, ok := fallbackCategory[specialist]; ok {
		return c
	}
	return models.CategoryLogic
}

// parseArtifact reads a durably-persisted side artifact the backend may
// have written directly instead of printing structured output.
func parseArtifact(workDir, backendName string) []SpecialistReview {
	if workDir == "" {
		return nil
	}
	data, err := os.ReadFile(ArtifactPath(workDir, backendName))
	if err != nil {
		return nil
	}
	var reviews []SpecialistReview
	if err := json.Unmarshal(data, &reviews); err != nil {
		// Also accept a single object artifact.
		var one SpecialistReview
		if err := json.Unmarshal(data, &one); err != nil || one.Specialist == "" {
			return nil
		}
		return []SpecialistReview{one}
	}
	return reviews
}
