// Package scanner screens file content for secret shapes. Scanning is a pure
// function of (content, path): no network, no disk, deterministic output.
package scanner

import (
	"path"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/gitwizard/gitwizard/pkg/scanner/rules"
)

// Finding is one candidate secret detected in a single scan pass.
type Finding struct {
	Kind       rules.Kind
	Value      string
	FilePath   string
	LineNumber int
}

// Result is the outcome of scanning one file.
type Result struct {
	Found    bool
	Findings []Finding
}

var commentMarkers = []string{"//", "#", "/*", "*/", "<!--", "-->"}

var docExtensions = []string{".md", ".txt", ".rst", ".adoc"}

// testPathSegments suppress a whole file when its name or any directory
// segment contains one of them. A test fixture holding a real secret is
// skipped too; that trade-off is accepted to keep noise down.
var testPathSegments = []string{"test", "spec", "example", "sample", "demo", "mock", "fixture"}

const maxValueLength = 1024

// Scanner applies a rule catalog to text content.
type Scanner struct {
	catalog *rules.Catalog
}

func NewScanner(catalog *rules.Catalog) *Scanner {
	if catalog == nil {
		catalog = rules.NewCatalog()
	}
	return &Scanner{catalog: catalog}
}

// Scan matches every catalog rule against every line of content and applies
// the suppression heuristics. Lines are 1-indexed. A single line may produce
// findings of several kinds; ordering follows line order then catalog order.
func (s *Scanner) Scan(content string, filePath string) Result {
	findings := []Finding{}

	if isTestOrExamplePath(filePath) {
		return Result{Found: false, Findings: findings}
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if isCommentOrDocumentation(line, filePath) {
			continue
		}

		for _, rule := range s.catalog.Rules() {
			for _, match := range rule.Matcher.FindAllString(line, -1) {
				findings = append(findings, Finding{
					Kind:       rule.Kind,
					Value:      sanitizeValue(match),
					FilePath:   filePath,
					LineNumber: i + 1,
				})
			}
		}
	}

	return Result{Found: len(findings) > 0, Findings: findings}
}

// ScanFiles scans multiple files and concatenates their findings in input order.
func (s *Scanner) ScanFiles(files []File) Result {
	findings := []Finding{}
	for _, file := range files {
		result := s.Scan(file.Content, file.Path)
		findings = append(findings, result.Findings...)
	}
	return Result{Found: len(findings) > 0, Findings: findings}
}

// File pairs a path with its content for batch scanning.
type File struct {
	Path    string
	Content string
}

func isCommentOrDocumentation(line string, filePath string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}

	for _, marker := range commentMarkers {
		if strings.HasPrefix(trimmed, marker) {
			return true
		}
	}

	ext := strings.ToLower(path.Ext(filePath))
	for _, docExt := range docExtensions {
		if ext == docExt {
			return true
		}
	}

	return false
}

func isTestOrExamplePath(filePath string) bool {
	for _, segment := range strings.Split(filePath, "/") {
		lowered := strings.ToLower(segment)
		for _, marker := range testPathSegments {
			if strings.Contains(lowered, marker) {
				return true
			}
		}
	}
	return false
}

// sanitizeValue strips ANSI escapes and caps the matched text so oversized
// or control-character-laden matches stay loggable and storable.
func sanitizeValue(value string) string {
	value = stripansi.Strip(value)
	if len(value) > maxValueLength {
		value = value[:maxValueLength]
	}
	return value
}
