package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/scheduler"
)

// JobsHandler triggers background jobs on demand.
type JobsHandler struct {
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

// NewJobsHandler creates a JobsHandler for the given scheduler.
func NewJobsHandler(sched *scheduler.Scheduler, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		sched:  sched,
		logger: logHandler(logger, "jobs"),
	}
}

// ListJobs responds with the names of all registered jobs.
// GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.sched.Names()})
}

// RunJob executes a registered job immediately and responds with its result.
// The run still honors the job's no-overlap guard, so triggering a job that
// is mid-cycle reports a skip rather than a second concurrent run.
// POST /api/jobs/{name}/run
func (h *JobsHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")

	result, err := h.sched.RunOnce(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown job: "+name)
			return
		}
		h.logger.ErrorContext(r.Context(), "job trigger failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to run job")
		return
	}

	status := http.StatusOK
	if !result.Success {
		// The job ran but reported failure; surface that distinctly from
		// transport-level errors.
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}
