// Package reader extracts Japanese articles from the web and finds the kanji
// they use.
package reader

import (
	"context"
	"runtime"
	"strings"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Token represents a single analyzed unit of text.
type Token struct {
	Surface       string   // The text as it appears (e.g. "行っ")
	BaseForm      string   // The dictionary form (e.g. "行く")
	Reading       string   // Katakana reading (e.g. "イッ")
	PartsOfSpeech []string // Kagome IPA feature list
	PrimaryPOS    string
}

// Sentence represents a sentence containing tokens.
type Sentence struct {
	Text   string
	Tokens []Token
}

// Analyzer segments Japanese text. It is safe for concurrent use.
type Analyzer struct {
	t *tokenizer.Tokenizer
	// Workers bounds the parallelism of AnalyzeDocument.
	Workers int
}

// NewAnalyzer creates a tokenizer backed by the IPA dictionary.
func NewAnalyzer() (*Analyzer, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, err
	}
	return &Analyzer{t: t, Workers: runtime.NumCPU()}, nil
}

// Analyze breaks text into tokens with readings and base forms.
func (a *Analyzer) Analyze(text string) []Token {
	var result []Token
	for _, token := range a.t.Tokenize(text) {
		if token.Class == tokenizer.DUMMY || strings.TrimSpace(token.Surface) == "" {
			continue
		}

		// IPA features: 0-3 POS, 4-5 conjugation, 6 base form, 7 reading.
		features := token.Features()

		base := token.Surface
		if len(features) > 6 && features[6] != "*" {
			base = features[6]
		}
		reading := ""
		if len(features) > 7 && features[7] != "*" {
			reading = features[7]
		}
		primaryPOS := ""
		if len(features) > 0 {
			primaryPOS = features[0]
		}

		result = append(result, Token{
			Surface:       token.Surface,
			BaseForm:      base,
			Reading:       reading,
			PartsOfSpeech: features,
			PrimaryPOS:    primaryPOS,
		})
	}
	return result
}

// AnalyzeDocument splits the text into sentences and tokenizes them on a
// worker pool. The result keeps the order of the sentences in text.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, text string) ([]Sentence, error) {
	var raw []string
	for _, s := range splitSentences(text) {
		if strings.TrimSpace(s) != "" {
			raw = append(raw, s)
		}
	}
	result := make([]Sentence, len(raw))

	wp := NewWorkerPool(a.Workers, 0)
	wp.Start(ctx)

	var submitErr error
	for i, s := range raw {
		i, s := i, s
		err := wp.SubmitCtx(ctx, func(ctx context.Context) error {
			result[i] = Sentence{Text: s, Tokens: a.Analyze(s)}
			return nil
		})
		if err != nil {
			submitErr = err
			break
		}
	}
	// Workers only stop early when ctx is done; otherwise Close runs the
	// whole queue.
	wp.Close()

	if submitErr != nil {
		return nil, submitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		// 。！？ and newlines end a sentence.
		if r == '。' || r == '！' || r == '？' || r == '\n' {
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}
