package rewriter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LogWriter appends "question answer --> rewrite ..." lines to a text file, one
// line per question. The file is opened and closed on every write so progress
// survives a crash.
type LogWriter struct {
	path     string
	set      *AnnotationSet
	record   int  // next record whose line is not finished
	lineOpen bool // question text of record already written
}

// CreateLogWriter truncates (or creates) the log at path for the given set
func CreateLogWriter(path string, set *AnnotationSet) (*LogWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close log %s: %w", path, err)
	}
	return &LogWriter{path: path, set: set}, nil
}

// Path returns the log location
func (w *LogWriter) Path() string {
	return w.path
}

// Append writes the results of one batch. Results must arrive in submission order.
func (w *LogWriter) Append(results []RewriteResult) error {
	for _, res := range results {
		if err := w.appendOne(res); err != nil {
			return err
		}
	}
	return nil
}

func (w *LogWriter) appendOne(res RewriteResult) error {
	idx := res.Pair.RecordIndex
	if idx < w.record || idx >= len(w.set.Annotations) {
		return fmt.Errorf("%w: record %d answer %d", ErrResultOutOfOrder, idx, res.Pair.AnswerIndex)
	}

	var sb strings.Builder
	// Records without answers never produce results; close their lines here
	for w.record < idx {
		w.closeLine(&sb)
	}
	if !w.lineOpen {
		sb.WriteString(w.set.Annotations[w.record].Question)
		w.lineOpen = true
	}
	fmt.Fprintf(&sb, " %s --> %s", res.Pair.Answer, res.Rewrite)
	if res.Pair.AnswerIndex >= len(w.set.Annotations[idx].Answers)-1 {
		w.closeLine(&sb)
	}
	return w.write(sb.String())
}

// Finish writes the lines of any trailing records that had no answers
func (w *LogWriter) Finish() error {
	var sb strings.Builder
	for w.record < len(w.set.Annotations) {
		w.closeLine(&sb)
	}
	if sb.Len() == 0 {
		return nil
	}
	return w.write(sb.String())
}

func (w *LogWriter) closeLine(sb *strings.Builder) {
	if !w.lineOpen {
		sb.WriteString(w.set.Annotations[w.record].Question)
	}
	sb.WriteString("\n")
	w.record++
	w.lineOpen = false
}

func (w *LogWriter) write(s string) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", w.path, err)
	}
	if _, err := f.WriteString(s); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to log %s: %w", w.path, err)
	}
	return f.Close()
}

// ReplaceAnswers returns a deep copy of set with answers substituted from rewrites
// in queue order. The input set is not modified.
func ReplaceAnswers(set *AnnotationSet, rewrites []string) (*AnnotationSet, error) {
	out := set.Clone()
	queue := rewrites
	for i := range out.Annotations {
		for j := range out.Annotations[i].Answers {
			if len(queue) == 0 {
				return nil, fmt.Errorf("%w: ran out of rewrites at record %d answer %d",
					ErrResultCountMismatch, i, j)
			}
			out.Annotations[i].Answers[j].Answer = queue[0]
			queue = queue[1:]
		}
	}
	if len(queue) != 0 {
		return nil, fmt.Errorf("%w: %d rewrites left over", ErrResultCountMismatch, len(queue))
	}
	return out, nil
}

// Rewrites returns the rewrite strings of results in order
func Rewrites(results []RewriteResult) []string {
	out := make([]string, len(results))
	for i, res := range results {
		out[i] = res.Rewrite
	}
	return out
}

// WriteAnnotations serializes set as indented JSON. The file is written to a
// temporary sibling and renamed into place.
func WriteAnnotations(path string, set *AnnotationSet) error {
	data, err := json.MarshalIndent(set, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal annotations: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".annotations-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write annotations: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync annotations: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close annotations: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to move annotations into place: %w", err)
	}
	return nil
}
