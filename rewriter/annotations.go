package rewriter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AnswerEntry is one candidate answer. Fields other than "answer" are kept as-is.
type AnswerEntry struct {
	Answer string
	Extra  map[string]json.RawMessage
}

// AnnotationRecord pairs a question with its candidate answers
type AnnotationRecord struct {
	Question string
	Answers  []AnswerEntry
	Extra    map[string]json.RawMessage
}

// AnnotationSet is the loaded annotation document. Top-level keys other than
// "annotations" are kept as-is.
type AnnotationSet struct {
	Annotations []AnnotationRecord
	Extra       map[string]json.RawMessage
}

// AnnotationPath returns the location of the annotation file for a split
func AnnotationPath(root, split string) string {
	return filepath.Join(root, split, fmt.Sprintf("annotations_%s.json", split))
}

// RewrittenAnnotationPath returns where the rewritten annotation file for a split is written
func RewrittenAnnotationPath(root, split string) string {
	return filepath.Join(root, split, fmt.Sprintf("annotations_%s_.json", split))
}

// LoadAnnotations reads an annotation set from disk
func LoadAnnotations(path string) (*AnnotationSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations %s: %w", path, err)
	}

	var set AnnotationSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse annotations %s: %w", path, err)
	}
	return &set, nil
}

// Pairs flattens the set into (question, answer) pairs in document order
func (s *AnnotationSet) Pairs() []QAPair {
	var pairs []QAPair
	for i, rec := range s.Annotations {
		for j, ans := range rec.Answers {
			pairs = append(pairs, QAPair{
				RecordIndex: i,
				AnswerIndex: j,
				Question:    rec.Question,
				Answer:      ans.Answer,
			})
		}
	}
	return pairs
}

// Head returns a deep copy holding at most n records. n <= 0 keeps every record.
func (s *AnnotationSet) Head(n int) *AnnotationSet {
	out := s.Clone()
	if n > 0 && n < len(out.Annotations) {
		out.Annotations = out.Annotations[:n]
	}
	return out
}

// Clone returns a deep copy of the set
func (s *AnnotationSet) Clone() *AnnotationSet {
	out := &AnnotationSet{Extra: cloneRaw(s.Extra)}
	if s.Annotations != nil {
		out.Annotations = make([]AnnotationRecord, len(s.Annotations))
		for i, rec := range s.Annotations {
			out.Annotations[i] = rec.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the record
func (r AnnotationRecord) Clone() AnnotationRecord {
	out := AnnotationRecord{Question: r.Question, Extra: cloneRaw(r.Extra)}
	if r.Answers != nil {
		out.Answers = make([]AnswerEntry, len(r.Answers))
		for i, ans := range r.Answers {
			out.Answers[i] = AnswerEntry{Answer: ans.Answer, Extra: cloneRaw(ans.Extra)}
		}
	}
	return out
}

func (s *AnnotationSet) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("annotation set: %w", err)
	}
	raw, ok := fields["annotations"]
	if !ok {
		return ErrMissingAnnotations
	}
	delete(fields, "annotations")

	var records []AnnotationRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("annotations: %w", err)
	}
	s.Annotations = records
	s.Extra = nonEmpty(fields)
	return nil
}

func (s AnnotationSet) MarshalJSON() ([]byte, error) {
	fields := cloneRaw(s.Extra)
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	records := s.Annotations
	if records == nil {
		records = []AnnotationRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	fields["annotations"] = raw
	return json.Marshal(fields)
}

func (r *AnnotationRecord) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("annotation record: %w", err)
	}

	if raw, ok := fields["question"]; ok {
		if err := json.Unmarshal(raw, &r.Question); err != nil {
			return fmt.Errorf("annotation record question: %w", err)
		}
		delete(fields, "question")
	}
	if raw, ok := fields["answers"]; ok {
		if err := json.Unmarshal(raw, &r.Answers); err != nil {
			return fmt.Errorf("annotation record %q answers: %w", r.Question, err)
		}
		delete(fields, "answers")
	}
	r.Extra = nonEmpty(fields)
	return nil
}

func (r AnnotationRecord) MarshalJSON() ([]byte, error) {
	fields := cloneRaw(r.Extra)
	if fields == nil {
		fields = make(map[string]json.RawMessage, 2)
	}
	question, err := json.Marshal(r.Question)
	if err != nil {
		return nil, err
	}
	answers := r.Answers
	if answers == nil {
		answers = []AnswerEntry{}
	}
	rawAnswers, err := json.Marshal(answers)
	if err != nil {
		return nil, err
	}
	fields["question"] = question
	fields["answers"] = rawAnswers
	return json.Marshal(fields)
}

func (e *AnswerEntry) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("answer entry: %w", err)
	}
	raw, ok := fields["answer"]
	if !ok {
		return ErrMissingAnswerField
	}
	answer, err := stringifyJSON(raw)
	if err != nil {
		return fmt.Errorf("answer entry: %w", err)
	}
	delete(fields, "answer")

	e.Answer = answer
	e.Extra = nonEmpty(fields)
	return nil
}

func (e AnswerEntry) MarshalJSON() ([]byte, error) {
	fields := cloneRaw(e.Extra)
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	answer, err := json.Marshal(e.Answer)
	if err != nil {
		return nil, err
	}
	fields["answer"] = answer
	return json.Marshal(fields)
}

// stringifyJSON returns a JSON string's value, or the literal text of any other value
func stringifyJSON(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return string(trimmed), nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}

func nonEmpty(fields map[string]json.RawMessage) map[string]json.RawMessage {
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func cloneRaw(fields map[string]json.RawMessage) map[string]json.RawMessage {
	if fields == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
