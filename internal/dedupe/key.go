package dedupe

import (
	"regexp"
	"strings"
	"time"
)

// Matcher selects keys for InvalidatePattern. *regexp.Regexp satisfies it.
type Matcher interface {
	MatchString(s string) bool
}

var _ Matcher = (*regexp.Regexp)(nil)

type substring string

func (s substring) MatchString(key string) bool {
	return strings.Contains(key, string(s))
}

// Contains matches keys containing s literally.
func Contains(s string) Matcher {
	return substring(s)
}

const dateLayout = "2006-01-02"

// EcosystemKey builds the key for a per-user fetch from a data source:
// ecosystem:{source}:{email}, suffixed with _{start}_{end} when both dates are
// set. Dates are taken in UTC.
func EcosystemKey(source, email string, start, end time.Time) string {
	key := "ecosystem:" + source + ":" + email
	if start.IsZero() || end.IsZero() {
		return key
	}
	return key + "_" + start.UTC().Format(dateLayout) + "_" + end.UTC().Format(dateLayout)
}
