package rewriter

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidationIssue describes a problem found in one record or answer
type ValidationIssue struct {
	RecordIndex int
	AnswerIndex int // -1 when the issue concerns the whole record
	Message     string
}

func (i ValidationIssue) String() string {
	if i.AnswerIndex < 0 {
		return fmt.Sprintf("record %d: %s", i.RecordIndex, i.Message)
	}
	return fmt.Sprintf("record %d answer %d: %s", i.RecordIndex, i.AnswerIndex, i.Message)
}

// ValidationReport summarises an annotation set before it is rewritten
type ValidationReport struct {
	Records int
	Pairs   int
	Issues  []ValidationIssue
}

// Valid reports whether no issues were found
func (r ValidationReport) Valid() bool {
	return len(r.Issues) == 0
}

// ValidateAnnotations inspects a set for records that will not rewrite cleanly.
// Issues are advisory: the pipeline still submits every pair.
func ValidateAnnotations(set *AnnotationSet, wordLimit int) ValidationReport {
	report := ValidationReport{Records: len(set.Annotations)}

	for i, rec := range set.Annotations {
		if strings.TrimSpace(rec.Question) == "" {
			report.Issues = append(report.Issues, ValidationIssue{
				RecordIndex: i, AnswerIndex: -1, Message: "question is empty",
			})
		}
		if len(rec.Answers) == 0 {
			report.Issues = append(report.Issues, ValidationIssue{
				RecordIndex: i, AnswerIndex: -1, Message: "record has no answers",
			})
		}

		for j, ans := range rec.Answers {
			report.Pairs++
			switch {
			case strings.TrimSpace(ans.Answer) == "":
				report.Issues = append(report.Issues, ValidationIssue{
					RecordIndex: i, AnswerIndex: j, Message: "answer is empty",
				})
			case strings.ContainsAny(ans.Answer, "\r\n"):
				// The answer line cannot be recovered from the prompt
				report.Issues = append(report.Issues, ValidationIssue{
					RecordIndex: i, AnswerIndex: j, Message: "answer contains a line break",
				})
			case wordLimit > 0 && WordCount(ans.Answer) > wordLimit:
				report.Issues = append(report.Issues, ValidationIssue{
					RecordIndex: i, AnswerIndex: j,
					Message: fmt.Sprintf("answer already exceeds the word limit (%d words, limit %d)",
						WordCount(ans.Answer), wordLimit),
				})
			}
		}
	}

	return report
}

// WordCount counts whitespace-separated words
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// SanitizeContent cleans and normalizes model output
func SanitizeContent(content string) string {
	// Trim leading and trailing whitespace
	content = strings.TrimSpace(content)

	// Normalize whitespace (replace multiple spaces with single space)
	content = normalizeWhitespace(content)

	// Remove non-printable characters except newlines and tabs
	content = removeNonPrintable(content)

	return content
}

// normalizeWhitespace replaces multiple consecutive spaces with a single space
// but preserves newlines and tabs
func normalizeWhitespace(s string) string {
	var result strings.Builder
	wasSpace := false

	for _, r := range s {
		if r == '\n' || r == '\t' {
			result.WriteRune(r)
			wasSpace = false
		} else if unicode.IsSpace(r) {
			if !wasSpace {
				result.WriteRune(' ')
				wasSpace = true
			}
		} else {
			result.WriteRune(r)
			wasSpace = false
		}
	}

	return result.String()
}

// removeNonPrintable removes non-printable characters except newlines and tabs
func removeNonPrintable(s string) string {
	var result strings.Builder

	for _, r := range s {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}
