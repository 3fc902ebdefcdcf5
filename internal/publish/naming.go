package publish

import (
	"regexp"
	"strconv"
	"time"
)

// MaxNameLength bounds destination names so they stay legal repository names
const MaxNameLength = 60

var nameUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// DestinationName derives a publish destination name from the task name and
// the submission time. Characters outside [A-Za-z0-9_-] become hyphens, and a
// base36 millisecond suffix separates repeated submissions of the same task.
// The suffix is never cut; the task part is shortened instead.
func DestinationName(task string, at time.Time) string {
	suffix := strconv.FormatInt(at.UnixMilli(), 36)
	base := nameUnsafe.ReplaceAllString(task, "-")
	if base == "" {
		base = "site"
	}

	if room := MaxNameLength - len(suffix) - 1; len(base) > room {
		base = base[:room]
	}
	return base + "-" + suffix
}
