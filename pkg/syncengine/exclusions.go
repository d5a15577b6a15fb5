package syncengine

import (
	"path/filepath"
	"strings"

	"pixelgardenlabs.io/localsync/pkg/plog"
)

type exclusionMatchType int

const (
	literalMatch exclusionMatchType = iota
	prefixMatch
	suffixMatch
	globMatch
)

// exclusionSet holds categorized exclusion patterns, split by how cheaply
// they can be checked, so isSyncable can reject most paths with a single
// map lookup instead of walking every pattern.
type exclusionSet struct {
	literals         map[string]struct{}
	basenameLiterals map[string]struct{}
	nonLiterals      []exclusion
}

type exclusion struct {
	pattern       string
	cleanPattern  string
	matchType     exclusionMatchType
	matchBasename bool
}

// newExclusionSet analyzes and categorizes patterns to enable optimized
// matching later. Patterns without a path separator match against the
// basename anywhere in the tree, mirroring .gitignore semantics.
func newExclusionSet(patterns []string) exclusionSet {
	set := exclusionSet{
		literals:         make(map[string]struct{}),
		basenameLiterals: make(map[string]struct{}),
		nonLiterals:      make([]exclusion, 0, len(patterns)),
	}

	shouldMatchBasename := func(p string) bool { return !strings.Contains(p, "/") }

	for _, p := range patterns {
		p = normalizeExclusionPattern(p)
		switch {
		case strings.ContainsAny(p, "*?["):
			switch {
			case strings.HasSuffix(p, "/*"):
				set.nonLiterals = append(set.nonLiterals, exclusion{
					pattern:      p,
					cleanPattern: strings.TrimSuffix(p, "/*"),
					matchType:    prefixMatch,
				})
			case strings.HasSuffix(p, "*") && !strings.ContainsAny(p[:len(p)-1], "*?["):
				set.nonLiterals = append(set.nonLiterals, exclusion{
					pattern:       p,
					cleanPattern:  strings.TrimSuffix(p, "*"),
					matchType:     prefixMatch,
					matchBasename: shouldMatchBasename(p),
				})
			case strings.HasPrefix(p, "*") && !strings.ContainsAny(p[1:], "*?["):
				set.nonLiterals = append(set.nonLiterals, exclusion{
					pattern:       p,
					cleanPattern:  p[1:],
					matchType:     suffixMatch,
					matchBasename: shouldMatchBasename(p),
				})
			default:
				set.nonLiterals = append(set.nonLiterals, exclusion{
					pattern: p, cleanPattern: p, matchType: globMatch, matchBasename: shouldMatchBasename(p),
				})
			}
		case strings.HasSuffix(p, "/"):
			set.nonLiterals = append(set.nonLiterals, exclusion{
				pattern:      p,
				cleanPattern: strings.TrimSuffix(p, "/"),
				matchType:    prefixMatch,
			})
		default:
			if shouldMatchBasename(p) {
				set.basenameLiterals[p] = struct{}{}
			} else {
				set.literals[p] = struct{}{}
			}
		}
	}
	return set
}

// matches reports whether relPath (or its basename) is covered by any
// pattern in the set.
func (es *exclusionSet) matches(relPath, basename string) bool {
	normalizedPath := normalizeExclusionPattern(relPath)
	normalizedBasename := normalizeExclusionPattern(basename)

	if _, ok := es.literals[normalizedPath]; ok {
		return true
	}
	if _, ok := es.basenameLiterals[normalizedBasename]; ok {
		return true
	}

	for _, p := range es.nonLiterals {
		pathToCheck := normalizedPath
		if p.matchBasename {
			pathToCheck = normalizedBasename
		}

		switch p.matchType {
		case prefixMatch:
			if strings.HasPrefix(pathToCheck, p.cleanPattern) {
				if !p.matchBasename && pathToCheck != p.cleanPattern && !strings.HasPrefix(pathToCheck, p.cleanPattern+"/") {
					continue
				}
				return true
			}
		case suffixMatch:
			if strings.HasSuffix(pathToCheck, p.cleanPattern) {
				return true
			}
		case globMatch:
			match, err := filepath.Match(p.cleanPattern, pathToCheck)
			if err != nil {
				plog.Warn("syncengine: invalid exclusion pattern", "pattern", p.cleanPattern, "error", err)
				continue
			}
			if match {
				return true
			}
		}
	}
	return false
}

func normalizeExclusionPattern(p string) string {
	return strings.ToLower(filepath.ToSlash(p))
}
