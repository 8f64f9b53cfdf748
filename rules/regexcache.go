package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360/messagekit/pkg/cache"
)

// regexCache holds compiled patterns so rule matchers sharing a pattern
// compile it once. Bounded because patterns arrive from remote rulesets.
var regexCache cache.Cache[*regexp.Regexp]

func init() {
	var err error
	regexCache, err = cache.NewLRU[*regexp.Regexp](64)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize regex cache: %v", err))
	}
}

// compileRegex returns a cached compiled regex or compiles and caches one.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, found := regexCache.Get(pattern); found {
		return re, nil
	}

	if err := checkPatternComplexity(pattern); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern '%s': %w", pattern, err)
	}

	regexCache.Set(pattern, re)
	return re, nil
}

// checkPatternComplexity rejects remotely supplied patterns that could cause
// exponential backtracking. Heuristic, not exhaustive.
func checkPatternComplexity(pattern string) error {
	if len(pattern) > 500 {
		return fmt.Errorf("regex pattern too long (max 500 chars): %d chars", len(pattern))
	}

	// Fragments indicating nested quantifiers with overlap
	dangerousFragments := []string{
		`(.*)*`,
		`(.+)+`,
		`(\w*)+`,
		`(\w+)*\w`,
		`(a+)+`,
		`(\s+)*\s`,
	}
	for _, fragment := range dangerousFragments {
		if strings.Contains(pattern, fragment) {
			return fmt.Errorf("regex pattern contains nested quantifiers that may cause exponential backtracking")
		}
	}

	if strings.Count(pattern, "(") > 20 {
		return fmt.Errorf("regex pattern has too many groups (max 20)")
	}

	nestLevel := 0
	for _, ch := range pattern {
		switch ch {
		case '(':
			nestLevel++
			if nestLevel > 5 {
				return fmt.Errorf("regex pattern has excessive nesting depth (max 5 levels)")
			}
		case ')':
			nestLevel--
		}
	}

	return nil
}
