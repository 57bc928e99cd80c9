package classifier

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/worklog/internal/domain"
)

var ts = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestClassifyLogTypes(t *testing.T) {
	tests := []struct {
		content    string
		want       domain.LogType
		confidence float64
	}{
		{"starting the design review now", domain.StartOnly, 0.8},
		{"Kick off sprint planning", domain.StartOnly, 0.8},
		{"design review wrapped up", domain.EndOnly, 0.8},
		{"Finished the code review", domain.EndOnly, 0.8},
		{"meeting from 9 to 10", domain.Complete, 0.8},
		{"lunch 12:00-13:00", domain.Complete, 0.8},
		{"会議 10時〜11時", domain.Complete, 0.8},
		{"会議開始", domain.StartOnly, 0.8},
		{"会議終了", domain.EndOnly, 0.8},
		{"started and finished the report", domain.Complete, 0.5},
		{"had coffee", domain.Complete, 0.5},
		{"", domain.Complete, 0.5},
		{"starting the meeting from 9 to 10", domain.StartOnly, 0.8},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got, err := c.Classify(tt.content, ts, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.LogType)
			assert.Equal(t, tt.confidence, got.Confidence)
			assert.NotEmpty(t, got.Reasoning)
		})
	}
}

func TestClassifyMarkersMatchWholeWords(t *testing.T) {
	c := New()
	// "attend" and "weekend" must not count as end markers, "restart" not as start.
	got, err := c.Classify("attend the weekend restart party", ts, "")
	require.NoError(t, err)
	assert.Equal(t, domain.Complete, got.LogType)
	assert.Equal(t, 0.5, got.Confidence)
}

func TestActivityKey(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"starting the design review now", "design review"},
		{"design review wrapped up", "design review"},
		{"Standup begin", "standup"},
		{"FULL-WIDTH ｍｅｅｔｉｎｇ done", "meeting"},
		{"朝の会議を開始", "会議"},
		{"Started refactoring the parser", "started re"},
		{"abc done", "abc done"},
	}

	c := New()
	for _, tt := range tests {
		got, err := c.Classify(tt.content, ts, "")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.ActivityKey, tt.content)
	}
}

func TestKeywordsSkipMarkersAndStopWords(t *testing.T) {
	got, err := New().Classify("Starting the design review with the team now", ts, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"design", "review", "team"}, got.Keywords)
}

func TestClassifyTimezone(t *testing.T) {
	got, err := New().Classify("lunch done", ts, "Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, 18, got.LocalTime.Hour())
	assert.True(t, got.LocalTime.Equal(ts))
}

func TestClassifyUnknownTimezoneIsAnalysisError(t *testing.T) {
	_, err := New().Classify("lunch done", ts, "Mars/Olympus_Mons")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLogTypeAnalysis)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "design review done", Normalize("  Design\tREVIEW   done "))
	assert.Equal(t, "abc", Normalize("ＡＢＣ"))
}
