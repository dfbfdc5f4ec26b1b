package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	dateLayout = "2006_01_02"
	timeLayout = "15_04_05"
)

var placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)

// DefaultRunName is the template used when neither the request nor the
// configuration names the run.
func DefaultRunName(pipeline string) string {
	return pipeline + "-{date}-{time}"
}

// ValidateRunName accepts templates whose only placeholders are {date} and
// {time}.
func ValidateRunName(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("run name is empty")
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if m[1] != "date" && m[1] != "time" {
			return fmt.Errorf("invalid run name %q: only {date} and {time} placeholders are allowed, found {%s}", template, m[1])
		}
	}
	return nil
}

// FormatRunName expands {date} and {time} using t in UTC. Times carry
// microseconds so names of back-to-back runs differ.
func FormatRunName(template string, t time.Time) string {
	t = t.UTC()
	return strings.NewReplacer(
		"{date}", t.Format(dateLayout),
		"{time}", fmt.Sprintf("%s_%06d", t.Format(timeLayout), t.Nanosecond()/int(time.Microsecond)),
	).Replace(template)
}
