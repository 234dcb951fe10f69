package challenger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/panel/internal/models"
)

// stripFences removes markdown code fencing the model may wrap around JSON.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// parseReviewOutput decodes a reviewer response. A parse failure is
// non-fatal upstream; it surfaces as an error here and zero issues there.
func parseReviewOutput(text string) (*models.ReviewOutput, error) {
	text = stripFences(text)
	var out models.ReviewOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("parse reviewer response as JSON: %w", err)
	}
	return &out, nil
}

// parseFeedback decodes a challenger critique.
func parseFeedback(text string) (*models.ChallengerFeedback, error) {
	text = stripFences(text)
	var fb models.ChallengerFeedback
	if err := json.Unmarshal([]byte(text), &fb); err != nil {
		return nil, fmt.Errorf("parse challenger response as JSON: %w", err)
	}
	if fb.Satisfaction < 0 {
		fb.Satisfaction = 0
	}
	if fb.Satisfaction > 100 {
		fb.Satisfaction = 100
	}
	return &fb, nil
}
