package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := Default()

	tests := []struct {
		text string
		want Result
	}{
		{"我好难过", Result{Intent: "comfort", Emotion: "sad", Intensity: "weak"}},
		{"为什么天是蓝的", Result{Intent: "question", Emotion: "neutral", Intensity: "weak"}},
		{"今天超开心", Result{Intent: "share", Emotion: "happy", Intensity: "weak"}},
		{"气炸了", Result{Intent: "general", Emotion: "angry", Intensity: "strong"}},
		{"这首歌好听", Result{Intent: "praise", Emotion: "neutral", Intensity: "weak"}},
		{"hello", Result{Intent: DefaultIntent, Emotion: DefaultEmotion, Intensity: DefaultIntensity}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := Default()
	first := c.Classify("我好难过")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, c.Classify("我好难过"))
	}
	assert.Equal(t, "sad", first.Emotion)
}

func TestCustomTables(t *testing.T) {
	c := New(
		[]Rule{{Label: "food", Keywords: []string{"吃"}}},
		[]EmotionRule{{Emotion: "hungry", Intensity: "strong", Keywords: []string{"饿"}}},
	)
	assert.Equal(t, Result{Intent: "food", Emotion: "hungry", Intensity: "strong"}, c.Classify("好饿想吃饭"))
}
