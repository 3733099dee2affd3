package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAlertsSingleObject(t *testing.T) {
	in := `{"@timestamp":"2026-07-29T00:00:00Z","event":{"kind":"alert"}}`
	alerts, errs, err := ReadAlerts(strings.NewReader(in))
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, alerts, 1)
	assert.Equal(t, "2026-07-29T00:00:00Z", alerts[0].Timestamp)
}

func TestReadAlertsJSONArray(t *testing.T) {
	in := `[
		{"@timestamp":"2026-07-29T00:00:00Z","event":{"kind":"alert"}},
		{"@timestamp":"2026-07-29T00:01:00Z","event":{"kind":"alert"}}
	]`
	alerts, errs, err := ReadAlerts(strings.NewReader(in))
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Len(t, alerts, 2)
}

func TestReadAlertsJSONArrayWithBadElement(t *testing.T) {
	in := `[
		{"@timestamp":"2026-07-29T00:00:00Z","event":{"kind":"alert"}},
		{"event":{"kind":"alert"}}
	]`
	alerts, errs, err := ReadAlerts(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Index)
}

func TestReadAlertsNDJSON(t *testing.T) {
	in := `{"@timestamp":"2026-07-29T00:00:00Z","event":{"kind":"alert"}}
{"@timestamp":"2026-07-29T00:01:00Z","event":{"kind":"alert"}}
`
	alerts, errs, err := ReadAlerts(strings.NewReader(in))
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Len(t, alerts, 2)
}

func TestReadAlertsNDJSONWithBadLine(t *testing.T) {
	in := `{"@timestamp":"2026-07-29T00:00:00Z","event":{"kind":"alert"}}
not even json
{"@timestamp":"2026-07-29T00:01:00Z","event":{"kind":"alert"}}
`
	alerts, errs, err := ReadAlerts(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Index)
	assert.Contains(t, errs[0].Line, "not even json")
}

func TestReadAlertsEmptyInput(t *testing.T) {
	alerts, errs, err := ReadAlerts(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Empty(t, alerts)
}

func TestReadAlertsMalformedSingleObjectIsFatal(t *testing.T) {
	_, _, err := ReadAlerts(strings.NewReader("{not json"))
	assert.Error(t, err)
}

func TestItemErrorTruncatesLongLines(t *testing.T) {
	long := strings.Repeat("x", 500)
	ie := ItemError{Index: 0, Line: truncate(long), Cause: "bad"}
	assert.Len(t, ie.Line, 200)
}
