package capability

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"inferd/internal/catalog"
	"inferd/pkg/types"
)

// Builtin maps a descriptor to one of the built-in text capabilities by
// model type. Types without a built-in implementation fail construction.
func Builtin(desc catalog.Descriptor) (Capability, error) {
	switch desc.Type {
	case types.ModelTypeSummarizer:
		return &summarizer{}, nil
	case types.ModelTypeClassifier:
		return &classifier{}, nil
	case types.ModelTypeGenerator:
		return &generator{ref: desc.ModelRef}, nil
	default:
		return nil, fmt.Errorf("no built-in capability for model type %q", desc.Type)
	}
}

// intParam reads a numeric parameter, accepting the types JSON and YAML
// decoders produce.
func intParam(params map[string]any, name string, fallback int) int {
	switch v := params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// summarizer emits a length-bounded extract of the input text.
type summarizer struct{}

func (s *summarizer) Invoke(ctx context.Context, batch []Request) ([]string, error) {
	out := make([]string, len(batch))
	for i, req := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		maxLen := intParam(req.Params, "max_length", 150)
		minLen := intParam(req.Params, "min_length", 30)
		if minLen > maxLen {
			minLen = maxLen
		}
		out[i] = summarize(req.Input, maxLen, minLen)
	}
	return out, nil
}

func summarize(text string, maxWords, minWords int) string {
	words := strings.Fields(text)
	if len(words) <= minWords {
		return strings.Join(words, " ")
	}
	if len(words) > maxWords {
		words = words[:maxWords]
		return strings.Join(words, " ") + " ..."
	}
	// Keep whole leading sentences while they fit the budget.
	sentences := strings.SplitAfter(strings.Join(words, " "), ". ")
	var b strings.Builder
	count := 0
	for _, s := range sentences {
		n := len(strings.Fields(s))
		if count > 0 && count+n > maxWords {
			break
		}
		b.WriteString(s)
		count += n
	}
	return strings.TrimSpace(b.String())
}

// classifier is a small lexicon-based sentiment model. Output format
// matches the serving contract: "Classification: LABEL (confidence: x.xxx)".
type classifier struct{}

var (
	positiveWords = map[string]struct{}{
		"good": {}, "great": {}, "excellent": {}, "happy": {}, "love": {},
		"wonderful": {}, "best": {}, "amazing": {}, "fantastic": {}, "nice": {},
	}
	negativeWords = map[string]struct{}{
		"bad": {}, "terrible": {}, "awful": {}, "sad": {}, "hate": {},
		"worst": {}, "horrible": {}, "poor": {}, "angry": {}, "broken": {},
	}
)

func (c *classifier) Invoke(ctx context.Context, batch []Request) ([]string, error) {
	out := make([]string, len(batch))
	for i, req := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		label, score := classify(req.Input)
		out[i] = fmt.Sprintf("Classification: %s (confidence: %.3f)", label, score)
	}
	return out, nil
}

func classify(text string) (string, float64) {
	var pos, neg, total int
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'")
		total++
		if _, ok := positiveWords[w]; ok {
			pos++
		} else if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	if total == 0 || pos == neg {
		return "NEUTRAL", 0.500
	}
	margin := float64(pos-neg) / float64(total)
	if margin < 0 {
		margin = -margin
	}
	score := 0.5 + margin/2
	if score > 0.999 {
		score = 0.999
	}
	if pos > neg {
		return "POSITIVE", score
	}
	return "NEGATIVE", score
}

// generator produces a deterministic, seed-hashed continuation of the
// prompt. It never returns the bare prompt unchanged.
type generator struct {
	ref string
}

var continuations = []string{
	"and from there the idea only grew stronger",
	"which is exactly where things started to change",
	"though nobody expected what would follow",
	"and the rest, as they say, is history",
	"opening a door that could not be closed again",
	"until the pattern finally became clear",
	"in ways that would matter for years to come",
	"and that small detail made all the difference",
}

func (g *generator) Invoke(ctx context.Context, batch []Request) ([]string, error) {
	out := make([]string, len(batch))
	for i, req := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = g.generate(req.Input, intParam(req.Params, "max_length", 100))
	}
	return out, nil
}

func (g *generator) generate(prompt string, maxWords int) string {
	h := fnv.New64a()
	h.Write([]byte(g.ref))
	h.Write([]byte(prompt))
	seed := h.Sum64()

	parts := []string{strings.TrimSpace(prompt)}
	count := len(strings.Fields(prompt))
	for count < maxWords {
		next := continuations[seed%uint64(len(continuations))]
		seed = seed*6364136223846793005 + 1442695040888963407
		parts = append(parts, next)
		count += len(strings.Fields(next))
		if seed%3 == 0 {
			break
		}
	}
	// A prompt already at the length budget still gets one continuation
	// so the output is never a bare echo of the input.
	if len(parts) == 1 {
		parts = append(parts, continuations[seed%uint64(len(continuations))])
	}
	return strings.Join(parts, ", ") + "."
}
