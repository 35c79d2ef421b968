package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
	"github.com/AlColeNS/search-expiscor-sub004/internal/pipeline"
)

func testNotifier(enabled bool) *Notifier {
	return NewNotifier(&common.MailConfig{
		Enabled: enabled,
		Host:    "mail.invalid",
		Port:    587,
		From:    "expiscor@example.com",
		To:      []string{"ops@example.com"},
	}, "docs-connector", arbor.NewLogger())
}

func TestNotifierRows(t *testing.T) {
	n := testNotifier(true)
	n.Add(Row{DocID: "doc-1", Phase: "publish", Status: "failed", Message: "index rejected"})
	n.Add(Row{DocID: "doc-2", Phase: "transform", Status: "failed", Message: "bad field"})

	rows := n.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "doc-1", rows[0].DocID)
	assert.False(t, rows[0].Time.IsZero(), "time is stamped when omitted")

	n.Reset()
	assert.Empty(t, n.Rows())
}

func TestNotifierDisabledIsNoOp(t *testing.T) {
	n := testNotifier(false)
	n.Add(Row{DocID: "doc-1"})
	assert.NoError(t, n.SendSummary("Full", &pipeline.Report{}, nil))
}

func TestNotifierNoRecipientsIsNoOp(t *testing.T) {
	n := NewNotifier(&common.MailConfig{Enabled: true}, "docs-connector", arbor.NewLogger())
	assert.NoError(t, n.SendSummary("Full", &pipeline.Report{}, nil))
}

func TestNotifierBody(t *testing.T) {
	n := testNotifier(true)
	n.Add(Row{DocID: "doc-9", Phase: "publish", Status: "failed", Message: "timeout"})

	report := &pipeline.Report{
		Documents: 12,
		Failures:  1,
		Elapsed:   90 * time.Second,
		Phases: map[models.Phase]*pipeline.PhaseStats{
			models.PhasePublish: {Count: 12, Total: 600 * time.Millisecond, Max: 80 * time.Millisecond},
		},
	}

	body := n.buildBody("Full", report, nil)
	assert.Contains(t, body, "docs-connector")
	assert.Contains(t, body, "Documents: 12")
	assert.Contains(t, body, "Failures: 1")
	assert.Contains(t, body, "doc-9")
	assert.Contains(t, body, "publish")

	failed := n.buildBody("Full", report, fmt.Errorf("crawl aborted"))
	assert.Contains(t, failed, "FAILED")
	assert.Contains(t, failed, "crawl aborted")
}
