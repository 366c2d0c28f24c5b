package stages

import (
	"regexp"
	"strings"
)

var (
	wordPattern = regexp.MustCompile(`\b\w+\b`)

	sectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d+\.`),
		regexp.MustCompile(`(?i)^section \d+`),
		regexp.MustCompile(`(?i)^article \d+`),
		regexp.MustCompile(`(?i)^part [ivx]+\b`),
		regexp.MustCompile(`^[A-Z][A-Z\s]{10,}$`),
	}
)

// DocumentStats are the locally computed figures for a document.
type DocumentStats struct {
	WordCount      int `json:"word_count"`
	SectionCount   int `json:"section_count"`
	CharacterCount int `json:"character_count"`
	LineCount      int `json:"line_count"`
}

// ComputeStats counts words, section headers, characters and lines in text.
// SectionCount is at least 1.
func ComputeStats(text string) DocumentStats {
	lines := strings.Split(text, "\n")

	sections := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		for _, p := range sectionPatterns {
			if p.MatchString(line) {
				sections++
				break
			}
		}
	}

	return DocumentStats{
		WordCount:      len(wordPattern.FindAllStringIndex(text, -1)),
		SectionCount:   max(sections, 1),
		CharacterCount: len([]rune(text)),
		LineCount:      len(lines),
	}
}
