package app

import (
	"fmt"

	"study_engagement_bot/internal/domain/participant"
)

// ErrRetryable marks failures the caller may safely retry with the same
// arguments: activity accounting is idempotent for already-counted dates and
// already-sent milestones, so replaying a conflicted call cannot double-count.
var ErrRetryable = fmt.Errorf("temporary storage conflict, the request may be retried")

// ErrUnknownQuestion wraps participant.ErrNotFound so ingress glue can map
// both unknown participants and unknown question IDs to the same client error.
var ErrUnknownQuestion = fmt.Errorf("question is not in the participant's pool: %w", participant.ErrNotFound)
