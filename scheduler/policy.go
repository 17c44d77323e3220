package scheduler

// DefaultQuietTasks are the high-frequency tasks whose drift log line would flood the log.
var DefaultQuietTasks = []string{"rsi_update", "short_term_trend_analysis"}

// QuietSet lists task names exempt from the per-run drift log line.
// It only affects logging; it never changes whether or when a task runs.
type QuietSet map[string]struct{}

// NewQuietSet builds a QuietSet from names, ignoring blanks.
func NewQuietSet(names ...string) QuietSet {
	qs := make(QuietSet, len(names))
	for _, n := range names {
		n = normalizeName(n)
		if n == "" {
			continue
		}
		qs[n] = struct{}{}
	}
	return qs
}

// Contains reports whether name is exempt. A nil set exempts nothing.
func (qs QuietSet) Contains(name string) bool {
	_, ok := qs[name]
	return ok
}
