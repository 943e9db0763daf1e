// Package notify delivers completed test results to candidates. Delivery is
// fire-and-forget from the engine's point of view.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/crewhall/skilltest/internal/model"
)

// LogNotifier is the default delivery provider: it logs the result summary
// and confirms. A real mail provider implements engine.Notifier the same
// way.
type LogNotifier struct{}

// EmailResults logs the delivery and returns a confirmation message.
func (LogNotifier) EmailResults(t model.TestSession) (string, error) {
	score := 0.0
	if t.OverallScore != nil {
		score = *t.OverallScore
	}
	slog.Info("emailed test results",
		"test_id", t.ID,
		"candidate", t.CandidateName,
		"result", t.Result,
		"score", score,
	)
	return fmt.Sprintf("Results for %s sent to candidate %s", t.ID, t.CandidateName), nil
}
