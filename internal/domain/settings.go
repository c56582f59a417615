package domain

import "sort"

// Settings is a string-to-string map of runner settings. Settings reach
// crawl and enumeration subprocesses as repeated "-s KEY=VALUE" arguments.
type Settings map[string]string

// Merge returns a new Settings with overrides applied on top of s. Keys
// present in overrides win. Neither map is modified.
func (s Settings) Merge(overrides Settings) Settings {
	merged := make(Settings, len(s)+len(overrides))
	for k, v := range s {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Pairs renders the settings as "KEY=VALUE" strings in sorted key order so
// generated command lines are deterministic.
func (s Settings) Pairs() []string {
	pairs := make([]string, 0, len(s))
	for k, v := range s {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}
