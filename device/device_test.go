package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressCallbackReport(t *testing.T) {
	var got []Progress
	cb := ProgressCallback(func(p Progress) { got = append(got, p) })

	cb.Report(Progress{Phase: PhaseReading, Done: 1024, Total: 4096})
	cb.Report(Progress{Phase: PhaseReading})

	if assert.Len(t, got, 2) {
		assert.InDelta(t, 25.0, got[0].Percentage, 0.001)
		assert.Zero(t, got[1].Percentage)
	}
}

func TestProgressCallbackReportNil(t *testing.T) {
	var cb ProgressCallback
	assert.NotPanics(t, func() { cb.Report(Progress{Done: 1, Total: 2}) })
}
