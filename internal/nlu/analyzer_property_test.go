package nlu_test

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/nlu"
)

// TestAnalyzeScoreBoundsProperty verifies that the sentiment score stays in
// [-1, 1] and the label stays consistent with the score for arbitrary
// utterances and histories.
func TestAnalyzeScoreBoundsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	a := nlu.New()

	properties.Property("sentiment score is clamped and labelled consistently", prop.ForAll(
		func(content string, history []float64) bool {
			res := a.Analyze(content, stateWith(nil, history))
			if res.SentimentScore < -1 || res.SentimentScore > 1 {
				return false
			}
			return res.Sentiment == conv.SentimentForScore(res.SentimentScore)
		},
		gen.AnyString(),
		gen.SliceOf(gen.Float64Range(-1, 1)),
	))

	properties.Property("intent is always a valid category", prop.ForAll(
		func(content string) bool {
			res := a.Analyze(content, stateWith(nil, nil))
			return res.Intent.IsValid()
		},
		gen.AnyString(),
	))

	properties.Property("similarity is within [0,1] and repeat flag matches threshold", prop.ForAll(
		func(content string, history []string) bool {
			var normalized []string
			for _, h := range history {
				normalized = append(normalized, conv.NormalizeQuery(h))
			}
			res := a.Analyze(content, stateWith(normalized, nil))
			if res.SimilarityToPrevious < 0 || res.SimilarityToPrevious > 1 {
				return false
			}
			if len(normalized) == 0 {
				return !res.IsRepeatQuery
			}
			return res.IsRepeatQuery == (res.SimilarityToPrevious >= 0.70)
		},
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("analysis is deterministic", prop.ForAll(
		func(content string) bool {
			st := stateWith([]string{"where is my refund"}, []float64{-0.4, -0.2})
			first := a.Analyze(content, st)
			second := a.Analyze(content, st)
			return reflect.DeepEqual(first, second)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
