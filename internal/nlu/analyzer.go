// Package nlu implements the deterministic keyword analyzer that classifies
// every user utterance on a support call. No external model is involved;
// the analysis is a fixed keyword scan plus a similarity check, which keeps
// the per-turn cost flat and the behaviour reproducible.
//
// The analysis has three stages:
//
//  1. Intent: categories are scanned in a fixed severity order and the
//     first category with any phrase contained in the lowercased utterance
//     wins with confidence 0.8. No match falls back to OTHER at 0.5.
//
//  2. Sentiment: negative and positive keyword hits are counted and the
//     dominant side sets the base score at ±0.3 per hit. Shouting markers
//     (repeated exclamations, mostly-uppercase text) and a consistently
//     negative history push the score further down. The score is clamped
//     to [-1, 1] and mapped to a label via [conv.SentimentForScore].
//
//  3. Repetition: the normalized utterance is compared against up to ten
//     prior normalized queries using a longest-common-subsequence ratio;
//     0.70 or higher flags a repeat. A repeat with no matched intent is
//     reported as REPEAT_QUERY.
package nlu

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/sahaya-ai/sahaya/internal/conv"
)

const (
	// matchConfidence is reported when a keyword category matches;
	// fallbackConfidence when the utterance matches nothing.
	matchConfidence    = 0.8
	fallbackConfidence = 0.5

	// defaultSimilarityThreshold is the LCS ratio at or above which a
	// query counts as a repeat of an earlier one.
	defaultSimilarityThreshold = 0.70

	// repetitionWindow bounds how many prior queries are compared.
	repetitionWindow = 10

	// keywordWeight is the score contribution of one sentiment keyword.
	keywordWeight = 0.3
)

// Option is a functional option for configuring an [Analyzer].
type Option func(*Analyzer)

// WithSimilarityThreshold sets the minimum similarity for repeat
// detection. Default: 0.70.
func WithSimilarityThreshold(threshold float64) Option {
	return func(a *Analyzer) {
		a.similarityThreshold = threshold
	}
}

// Analyzer classifies user utterances. It is read-only after construction
// and safe for concurrent use.
type Analyzer struct {
	similarityThreshold float64
}

var _ conv.Analyzer = (*Analyzer)(nil)

// New returns an Analyzer configured with the supplied options.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{similarityThreshold: defaultSimilarityThreshold}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze classifies one raw user utterance against the conversation so
// far. The state is only read; the tracker folds the result in afterwards.
func (a *Analyzer) Analyze(content string, state *conv.ConversationState) conv.NLUResult {
	lower := strings.ToLower(content)

	intent, confidence := classifyIntent(lower)
	score := scoreSentiment(content, lower, state.SentimentHistory)
	isRepeat, similarity := a.checkRepetition(content, state.QueryHistory)

	// A repeated utterance that matched no category means the caller is
	// circling the same unanswered question.
	if isRepeat && intent == conv.IntentOther {
		intent = conv.IntentRepeatQuery
	}

	return conv.NLUResult{
		Intent:               intent,
		IntentConfidence:     confidence,
		Sentiment:            conv.SentimentForScore(score),
		SentimentScore:       score,
		IsRepeatQuery:        isRepeat,
		SimilarityToPrevious: similarity,
	}
}

// classifyIntent scans the keyword table in declaration order and returns
// the first category with a phrase hit.
func classifyIntent(lower string) (conv.Intent, float64) {
	for _, ic := range intentKeywords {
		for _, phrase := range ic.phrases {
			if strings.Contains(lower, phrase) {
				return ic.intent, matchConfidence
			}
		}
	}
	return conv.IntentOther, fallbackConfidence
}

// scoreSentiment computes the turn's sentiment score in [-1, 1]. The caps
// ratio is measured on the raw content; keyword matching on the lowered
// form.
func scoreSentiment(raw, lower string, history []float64) float64 {
	var negatives, positives int
	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			negatives++
		}
	}
	for _, kw := range positiveKeywords {
		if strings.Contains(lower, kw) {
			positives++
		}
	}

	var score float64
	switch {
	case negatives > positives:
		score = -keywordWeight * float64(negatives)
	case positives > negatives:
		score = keywordWeight * float64(positives)
	}

	if strings.Count(raw, "!") >= 2 {
		score -= 0.2
	}
	if capsRatio(raw) > 0.5 {
		score -= 0.3
	}

	// A consistently negative recent history amplifies the reading.
	if len(history) > 0 {
		recent := history
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		var sum float64
		for _, s := range recent {
			sum += s
		}
		if sum/float64(len(recent)) < -0.3 {
			score -= 0.1
		}
	}

	return clamp(score, -1, 1)
}

// checkRepetition compares the normalized utterance against the stored
// query history and returns whether the best similarity crosses the
// threshold, along with that similarity.
func (a *Analyzer) checkRepetition(content string, queryHistory []string) (bool, float64) {
	if len(queryHistory) == 0 {
		return false, 0
	}
	current := conv.NormalizeQuery(content)
	history := queryHistory
	if len(history) > repetitionWindow {
		history = history[len(history)-repetitionWindow:]
	}
	var best float64
	for _, prev := range history {
		if sim := lcsRatio(current, prev); sim > best {
			best = sim
		}
	}
	return best >= a.similarityThreshold, best
}

// lcsRatio is 2·LCS(a,b) / (|a|+|b|) counted in runes: 1 for identical
// strings, 0 for disjoint ones.
func lcsRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la+lb == 0 {
		return 1
	}
	lcs := matchr.LongestCommonSubsequence(a, b)
	return 2 * float64(lcs) / float64(la+lb)
}

func capsRatio(s string) float64 {
	var upper, total int
	for _, r := range s {
		total++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(upper) / float64(total)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
