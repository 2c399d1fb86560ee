package capability

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferd/internal/catalog"
	"inferd/pkg/types"
)

func desc(mt types.ModelType) catalog.Descriptor {
	return catalog.Descriptor{Key: types.Key("m", "v1"), Type: mt, ModelRef: "ref"}
}

func TestBuiltinKnownTypes(t *testing.T) {
	for _, mt := range []types.ModelType{
		types.ModelTypeSummarizer,
		types.ModelTypeClassifier,
		types.ModelTypeGenerator,
	} {
		cap, err := Builtin(desc(mt))
		require.NoError(t, err, "type %s", mt)
		require.NotNil(t, cap)
	}
}

func TestBuiltinUnknownType(t *testing.T) {
	_, err := Builtin(desc(types.ModelTypeOther))
	require.Error(t, err)
}

func TestSummarizerTruncates(t *testing.T) {
	cap, err := Builtin(desc(types.ModelTypeSummarizer))
	require.NoError(t, err)

	long := strings.Repeat("word ", 300)
	out, err := cap.Invoke(context.Background(), []Request{
		{Input: long, Params: map[string]any{"max_length": 20, "min_length": 5}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.LessOrEqual(t, len(strings.Fields(out[0])), 21) // budget plus ellipsis
}

func TestSummarizerShortInputUnchanged(t *testing.T) {
	cap, err := Builtin(desc(types.ModelTypeSummarizer))
	require.NoError(t, err)

	out, err := cap.Invoke(context.Background(), []Request{
		{Input: "short text", Params: map[string]any{"max_length": 50, "min_length": 30}},
	})
	require.NoError(t, err)
	assert.Equal(t, "short text", out[0])
}

func TestClassifierOutputFormat(t *testing.T) {
	cap, err := Builtin(desc(types.ModelTypeClassifier))
	require.NoError(t, err)

	out, err := cap.Invoke(context.Background(), []Request{
		{Input: "this is a great and wonderful day"},
		{Input: "a terrible, awful experience"},
		{Input: "the sky is blue"},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Contains(t, out[0], "Classification: POSITIVE")
	assert.Contains(t, out[1], "Classification: NEGATIVE")
	assert.Contains(t, out[2], "Classification: NEUTRAL")
	assert.Regexp(t, `confidence: 0\.\d{3}\)$`, out[0])
}

func TestGeneratorNeverEchoes(t *testing.T) {
	cap, err := Builtin(desc(types.ModelTypeGenerator))
	require.NoError(t, err)

	prompt := "Once upon a time"
	out, err := cap.Invoke(context.Background(), []Request{
		{Input: prompt, Params: map[string]any{"max_length": 30}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, prompt, out[0])
	assert.True(t, strings.HasPrefix(out[0], prompt))
}

func TestGeneratorDeterministic(t *testing.T) {
	cap, err := Builtin(desc(types.ModelTypeGenerator))
	require.NoError(t, err)

	batch := []Request{{Input: "a seed prompt", Params: map[string]any{"max_length": 40}}}
	first, err := cap.Invoke(context.Background(), batch)
	require.NoError(t, err)
	second, err := cap.Invoke(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInvokePreservesOrder(t *testing.T) {
	cap, err := Builtin(desc(types.ModelTypeClassifier))
	require.NoError(t, err)

	out, err := cap.Invoke(context.Background(), []Request{
		{Input: "love love love"},
		{Input: "hate hate hate"},
	})
	require.NoError(t, err)
	assert.Contains(t, out[0], "POSITIVE")
	assert.Contains(t, out[1], "NEGATIVE")
}

func TestInvokeCanceledContext(t *testing.T) {
	cap, err := Builtin(desc(types.ModelTypeSummarizer))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cap.Invoke(ctx, []Request{{Input: "anything"}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestIntParamNumericKinds(t *testing.T) {
	assert.Equal(t, 7, intParam(map[string]any{"n": 7}, "n", 1))
	assert.Equal(t, 7, intParam(map[string]any{"n": int64(7)}, "n", 1))
	assert.Equal(t, 7, intParam(map[string]any{"n": 7.0}, "n", 1))
	assert.Equal(t, 1, intParam(map[string]any{"n": "7"}, "n", 1))
	assert.Equal(t, 1, intParam(nil, "n", 1))
}
