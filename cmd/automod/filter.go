package main

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// filter flags messages containing any blocked term as a whole word
type filter struct {
	terms    []string
	patterns []*regexp.Regexp
}

func newFilter(terms []string) *filter {
	f := &filter{}
	seen := make(map[string]bool)
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		f.terms = append(f.terms, term)
		f.patterns = append(f.patterns, termPattern(term))
	}
	return f
}

// termPattern anchors term at word boundaries on the sides that start or
// end with a word character
func termPattern(term string) *regexp.Regexp {
	expr := regexp.QuoteMeta(term)
	if isWordByte(term[0]) {
		expr = `\b` + expr
	}
	if isWordByte(term[len(term)-1]) {
		expr += `\b`
	}
	return regexp.MustCompile(`(?i)` + expr)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// match returns the first blocked term found in content
func (f *filter) match(content string) (string, bool) {
	for i, p := range f.patterns {
		if p.MatchString(content) {
			return f.terms[i], true
		}
	}
	return "", false
}

func (f *filter) size() int {
	return len(f.terms)
}

// loadTerms reads one term per line. Blank lines and # comments are ignored.
func loadTerms(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word list: %w", err)
	}
	defer file.Close()

	var terms []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	return terms, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
