package eggstorage

import (
	"sort"
	"strconv"
	"unicode"
)

// CompareVersions orders version names the way release strings expect:
// runs of digits compare numerically, runs of other characters compare
// lexically, and a name that is a strict prefix of another sorts first.
// So "r2" < "r10", "0_9" < "0_10", and "r1" < "r1a".
func CompareVersions(a, b string) int {
	as, bs := versionChunks(a), versionChunks(b)

	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if as[i] != bs[i] {
			if as[i] < bs[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	default:
		return 0
	}
}

// SortVersions sorts versions in ascending order, so the latest version is
// the last element.
func SortVersions(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		return CompareVersions(versions[i], versions[j]) < 0
	})
}

// versionChunks splits a version into maximal runs of digits and non-digits:
// "r10a" becomes ["r", "10", "a"].
func versionChunks(v string) []string {
	var chunks []string
	start := 0
	for i := 1; i <= len(v); i++ {
		if i == len(v) || isDigit(rune(v[i])) != isDigit(rune(v[i-1])) {
			chunks = append(chunks, v[start:i])
			start = i
		}
	}
	return chunks
}

func isDigit(r rune) bool {
	return unicode.IsDigit(r)
}
