package deep

import "github.com/argus-news/argus/pkg/models"

// AggregateStatus derives the parent job status from the sub-task state
// multiset:
//
//	all completed                         → completed
//	all terminal, some completed          → partial_success
//	all terminal, none completed          → failed
//	any in_progress or any terminal mixed → in_progress
//	all pending                           → pending
func AggregateStatus(subTasks []*models.AiSubTask) models.AiJobStatus {
	if len(subTasks) == 0 {
		return models.AiJobStatusPending
	}

	var completed, terminal, pending int
	for _, st := range subTasks {
		if st.Status == models.SubTaskStatusCompleted {
			completed++
		}
		if st.Status.Terminal() {
			terminal++
		}
		if st.Status == models.SubTaskStatusPending {
			pending++
		}
	}

	switch {
	case completed == len(subTasks):
		return models.AiJobStatusCompleted
	case terminal == len(subTasks) && completed > 0:
		return models.AiJobStatusPartialSuccess
	case terminal == len(subTasks):
		return models.AiJobStatusFailed
	case pending == len(subTasks):
		return models.AiJobStatusPending
	}
	return models.AiJobStatusInProgress
}

// AggregateFailureReason picks the reason reported on a terminal parent:
// the earliest (by creation order) failing sub-task with a non-content
// category, or the earliest content failure when nothing else failed.
// A fully successful set yields the zero reason.
func AggregateFailureReason(subTasks []*models.AiSubTask) models.FailureReason {
	var contentFallback *models.FailureReason
	for _, st := range subTasks {
		if !st.Status.Terminal() || st.Status == models.SubTaskStatusCompleted {
			continue
		}
		code := st.FailureCode
		if code == "" {
			code = models.FailureUnknown
		}
		reason := models.Reason(code)
		if reason.Category != models.CategoryContent {
			return reason
		}
		if contentFallback == nil {
			contentFallback = &reason
		}
	}
	if contentFallback != nil {
		return *contentFallback
	}
	return models.FailureReason{}
}

// countSubTasks tallies completed vs failed-ish for the terminal event.
func countSubTasks(subTasks []*models.AiSubTask) (successful, failed int) {
	for _, st := range subTasks {
		switch {
		case st.Status == models.SubTaskStatusCompleted:
			successful++
		case st.Status.Terminal():
			failed++
		}
	}
	return successful, failed
}
