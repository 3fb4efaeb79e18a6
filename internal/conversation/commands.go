// ABOUTME: Chat commands the orchestrator answers without the AI capability
// ABOUTME: Job status summaries from the tracker and the help text

package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/tubeagent/internal/store"
)

// statusJobs is how many recent jobs a status reply lists
const statusJobs = 5

const replyNoJobs = "You don't have any videos yet. Try \"make a video about the history of coffee\"."

const helpText = `I can chat about video ideas and make short videos for you.

- "Make a video about the history of coffee" starts a new video
- Add details like "for kids", "in Spanish", "90 seconds" or "tutorial"
- "What's the status?" lists your latest videos
- "Help" shows this message

I'll post here when a video is ready.`

// statusReply summarizes the user's most recent jobs, newest first.
func (o *Orchestrator) statusReply(ctx context.Context, userID string) (*Reply, error) {
	list, err := o.tracker.ListByOwner(ctx, userID, statusJobs)
	if err != nil {
		return nil, fmt.Errorf("listing video jobs: %w", err)
	}
	if len(list) == 0 {
		return &Reply{Text: replyNoJobs, outcome: "status"}, nil
	}

	var b strings.Builder
	b.WriteString("Here's where your latest videos stand:")
	for _, job := range list {
		fmt.Fprintf(&b, "\n- %q: %s", jobTitle(*job), statusLine(*job))
	}
	return &Reply{Text: b.String(), outcome: "status"}, nil
}

func statusLine(job store.VideoJob) string {
	switch job.State {
	case store.JobCreated:
		return "queued (job " + job.ID + ")"
	case store.JobRunning:
		return "in progress (job " + job.ID + ")"
	case store.JobCompleted:
		return "ready at " + job.ResultRef
	case store.JobFailed:
		return "failed: " + job.ErrorInfo
	default:
		return string(job.State)
	}
}
