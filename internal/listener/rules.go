package listener

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)
	// workoutPattern matches log lines like "3x10 squats @ 80kg" or
	// "5x5 bench press" (weight optional).
	workoutPattern = regexp.MustCompile(`(?i)^\s*(\d+)\s*x\s*(\d+)\s+([a-z][a-z\- ]*[a-z])(?:\s*@\s*(\d+(?:\.\d+)?)\s*(kg|lbs?))?\s*$`)
)

// LinkPayload is POSTed to the scrape endpoint for each URL found in chat.
type LinkPayload struct {
	URL          string `json:"url"`
	ChatID       int64  `json:"chat_id"`
	FromID       int64  `json:"from_id"`
	FromUsername string `json:"from_username,omitempty"`
}

// WorkoutPayload is POSTed to the workout-log endpoint.
type WorkoutPayload struct {
	Sets     int     `json:"sets"`
	Reps     int     `json:"reps"`
	Exercise string  `json:"exercise"`
	Weight   float64 `json:"weight,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	FromID   int64   `json:"from_id"`
}

func extractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// parseWorkout parses a single workout-log line. ok is false when the text
// is not workout syntax.
func parseWorkout(text string) (WorkoutPayload, bool) {
	m := workoutPattern.FindStringSubmatch(text)
	if m == nil {
		return WorkoutPayload{}, false
	}
	sets, err := strconv.Atoi(m[1])
	if err != nil {
		return WorkoutPayload{}, false
	}
	reps, err := strconv.Atoi(m[2])
	if err != nil {
		return WorkoutPayload{}, false
	}
	p := WorkoutPayload{
		Sets:     sets,
		Reps:     reps,
		Exercise: strings.ToLower(strings.TrimSpace(m[3])),
	}
	if m[4] != "" {
		w, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			return WorkoutPayload{}, false
		}
		p.Weight = w
		p.Unit = normalizeUnit(m[5])
	}
	return p, true
}

func normalizeUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	if strings.HasPrefix(u, "lb") {
		return "lb"
	}
	return "kg"
}

// matchMeme returns the configured reply for the first trigger word
// appearing in text, matching whole words case-insensitively.
func matchMeme(memes map[string]string, text string) (string, bool) {
	if len(memes) == 0 {
		return "", false
	}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?:;\"'()")
		if reply, ok := memes[word]; ok {
			return reply, true
		}
	}
	return "", false
}
