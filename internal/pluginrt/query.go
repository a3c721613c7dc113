package pluginrt

import (
	"encoding/json"
	"time"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/protocol"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
)

// handleGetJob implements spec.md §4.8 step 4's GetJob branch: "*" builds
// a filtered list from the repository (status, time range, tag subset,
// field projection); a specific id is looked up directly and returns
// job-not-found on a miss.
func (r *Runtime) handleGetJob(req protocol.GetJobRequest) {
	effectiveUser, _ := protocol.EffectiveUser(req.Username, req.RequestUsername)

	if req.JobID != protocol.AllJobsID && req.JobID != "" {
		j, ok := r.repo.Get(req.JobID, effectiveUser)
		if !ok {
			r.ch.Send(protocol.NewError(req.ID(), wireerrors.KindJobNotFound, "job not found: "+req.JobID))
			return
		}
		projected, err := j.Project(req.Fields)
		if err != nil {
			r.ch.Send(protocol.NewErrorFromErr(req.ID(), err))
			return
		}
		r.ch.Send(protocol.NewJobStateResponse(req.ID(), r.ids.Next(), []json.RawMessage{projected}))
		return
	}

	jobs := r.repo.List(effectiveUser)
	jobs = filterByTimeRange(jobs, req.StartTime, req.EndTime)
	jobs = filterByStatuses(jobs, req.Statuses)
	jobs = filterByTags(jobs, req.Tags)

	out := make([]json.RawMessage, 0, len(jobs))
	for _, j := range jobs {
		projected, err := j.Project(req.Fields)
		if err != nil {
			r.log.Warn("dropping job from GetJob result, projection failed", "jobId", j.ID, "error", err)
			continue
		}
		out = append(out, projected)
	}
	r.ch.Send(protocol.NewJobStateResponse(req.ID(), r.ids.Next(), out))
}

func filterByTimeRange(jobs []*job.Job, startTime, endTime *string) []*job.Job {
	if startTime == nil && endTime == nil {
		return jobs
	}
	var start, end time.Time
	if startTime != nil {
		start, _ = time.Parse(time.RFC3339, *startTime)
	}
	if endTime != nil {
		end, _ = time.Parse(time.RFC3339, *endTime)
	}

	out := jobs[:0:0]
	for _, j := range jobs {
		j.Lock()
		sub := j.SubmissionTime
		j.Unlock()
		if startTime != nil && sub.Before(start) {
			continue
		}
		if endTime != nil && sub.After(end) {
			continue
		}
		out = append(out, j)
	}
	return out
}

func filterByStatuses(jobs []*job.Job, statuses []string) []*job.Job {
	if len(statuses) == 0 {
		return jobs
	}
	want := make(map[job.Status]bool, len(statuses))
	for _, s := range statuses {
		want[job.ParseStatus(s)] = true
	}

	out := jobs[:0:0]
	for _, j := range jobs {
		j.Lock()
		status := j.Status
		j.Unlock()
		if want[status] {
			out = append(out, j)
		}
	}
	return out
}

// filterByTags keeps jobs whose tag set is a superset of the requested
// tags (every requested tag must be present on the job).
func filterByTags(jobs []*job.Job, tags []string) []*job.Job {
	if len(tags) == 0 {
		return jobs
	}

	out := jobs[:0:0]
	for _, j := range jobs {
		j.Lock()
		jobTags := make(map[string]bool, len(j.Tags))
		for _, t := range j.Tags {
			jobTags[t] = true
		}
		j.Unlock()

		hasAll := true
		for _, t := range tags {
			if !jobTags[t] {
				hasAll = false
				break
			}
		}
		if hasAll {
			out = append(out, j)
		}
	}
	return out
}
