package rewriter_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/answer-rewriter/rewriter"
)

const sampleAnnotations = `{
	"info": {"version": "1.0"},
	"annotations": [
		{
			"question_id": 1,
			"question": "What color is the sky?",
			"answers": [
				{"answer_id": 1, "answer": "blue", "raw_answer": "blue"},
				{"answer_id": 2, "answer": "light blue"}
			]
		},
		{
			"question_id": 2,
			"question": "How many wheels does a bike have?",
			"answers": [
				{"answer_id": 1, "answer": 2}
			]
		}
	]
}`

var _ = Describe("Annotations", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	writeFile := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	Describe("AnnotationPath", func() {
		It("should follow the split layout", func() {
			Expect(rewriter.AnnotationPath("/data/okvqa", "train")).
				To(Equal(filepath.Join("/data/okvqa", "train", "annotations_train.json")))
			Expect(rewriter.RewrittenAnnotationPath("/data/okvqa", "val")).
				To(Equal(filepath.Join("/data/okvqa", "val", "annotations_val_.json")))
		})
	})

	Describe("LoadAnnotations", func() {
		It("should load questions and answers in order", func() {
			path := writeFile("train/annotations_train.json", sampleAnnotations)

			set, err := rewriter.LoadAnnotations(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(set.Annotations).To(HaveLen(2))
			Expect(set.Annotations[0].Question).To(Equal("What color is the sky?"))
			Expect(set.Annotations[0].Answers[0].Answer).To(Equal("blue"))
			Expect(set.Annotations[0].Answers[1].Answer).To(Equal("light blue"))
		})

		It("should stringify non-string answers", func() {
			path := writeFile("a.json", sampleAnnotations)

			set, err := rewriter.LoadAnnotations(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(set.Annotations[1].Answers[0].Answer).To(Equal("2"))
		})

		It("should keep unknown fields", func() {
			path := writeFile("a.json", sampleAnnotations)

			set, err := rewriter.LoadAnnotations(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(set.Extra).To(HaveKey("info"))
			Expect(set.Annotations[0].Extra).To(HaveKey("question_id"))
			Expect(set.Annotations[0].Answers[0].Extra).To(HaveKey("raw_answer"))
			Expect(set.Annotations[0].Answers[0].Extra).ToNot(HaveKey("answer"))
		})

		It("should fail when the file is missing", func() {
			_, err := rewriter.LoadAnnotations(filepath.Join(dir, "missing.json"))
			Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())
		})

		It("should fail on malformed JSON", func() {
			path := writeFile("bad.json", `{"annotations": [`)
			_, err := rewriter.LoadAnnotations(path)
			Expect(err).To(HaveOccurred())
		})

		It("should fail without an annotations key", func() {
			path := writeFile("empty.json", `{"questions": []}`)
			_, err := rewriter.LoadAnnotations(path)
			Expect(err).To(MatchError(rewriter.ErrMissingAnnotations))
		})

		It("should fail when an answer entry has no answer", func() {
			path := writeFile("noanswer.json", `{"annotations": [{"question": "q", "answers": [{"answer_id": 1}]}]}`)
			_, err := rewriter.LoadAnnotations(path)
			Expect(err).To(MatchError(rewriter.ErrMissingAnswerField))
		})
	})

	Describe("Pairs", func() {
		It("should flatten every answer in document order", func() {
			path := writeFile("a.json", sampleAnnotations)
			set, err := rewriter.LoadAnnotations(path)
			Expect(err).ToNot(HaveOccurred())

			pairs := set.Pairs()
			Expect(pairs).To(HaveLen(3))
			Expect(pairs[0]).To(Equal(rewriter.QAPair{RecordIndex: 0, AnswerIndex: 0, Question: "What color is the sky?", Answer: "blue"}))
			Expect(pairs[1].Answer).To(Equal("light blue"))
			Expect(pairs[2]).To(Equal(rewriter.QAPair{RecordIndex: 1, AnswerIndex: 0, Question: "How many wheels does a bike have?", Answer: "2"}))
		})

		It("should return no pairs for an empty set", func() {
			set := &rewriter.AnnotationSet{}
			Expect(set.Pairs()).To(BeEmpty())
		})
	})

	Describe("Clone and Head", func() {
		It("should produce an independent deep copy", func() {
			set := makeSet(2, 2)
			set.Annotations[0].Answers[0].Extra = map[string]json.RawMessage{"answer_id": json.RawMessage(`1`)}

			clone := set.Clone()
			clone.Annotations[0].Answers[0].Answer = "changed"
			clone.Annotations[0].Answers[0].Extra["answer_id"][0] = '9'

			Expect(set.Annotations[0].Answers[0].Answer).To(Equal("answer 0-0"))
			Expect(string(set.Annotations[0].Answers[0].Extra["answer_id"])).To(Equal("1"))
		})

		It("should keep only the first n records", func() {
			set := makeSet(5, 1)
			Expect(set.Head(2).Annotations).To(HaveLen(2))
			Expect(set.Head(0).Annotations).To(HaveLen(5))
			Expect(set.Head(10).Annotations).To(HaveLen(5))
			Expect(set.Annotations).To(HaveLen(5))
		})
	})

	Describe("JSON round trip", func() {
		It("should write back the same structure with pass-through fields", func() {
			var set rewriter.AnnotationSet
			Expect(json.Unmarshal([]byte(sampleAnnotations), &set)).To(Succeed())

			data, err := json.Marshal(set)
			Expect(err).ToNot(HaveOccurred())

			var generic map[string]interface{}
			Expect(json.Unmarshal(data, &generic)).To(Succeed())
			Expect(generic).To(HaveKey("info"))

			anns := generic["annotations"].([]interface{})
			first := anns[0].(map[string]interface{})
			Expect(first["question_id"]).To(BeNumerically("==", 1))
			answers := first["answers"].([]interface{})
			Expect(answers[0].(map[string]interface{})).To(HaveKeyWithValue("answer", "blue"))
			Expect(answers[0].(map[string]interface{})).To(HaveKeyWithValue("raw_answer", "blue"))
		})
	})
})
