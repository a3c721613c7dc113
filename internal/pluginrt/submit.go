package pluginrt

import (
	"encoding/json"

	"github.com/jsturma/launcher-plugin/internal/protocol"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
)

// handleSubmitJob implements spec.md §4.8 step 4's SubmitJob branch: fill
// in the effective user (admin impersonation, or the job body's own user
// when the request's username is empty), validate, hand off to the
// backend, and reply JobState with the submitted job.
func (r *Runtime) handleSubmitJob(req protocol.SubmitJobRequest) {
	if req.Job == nil {
		r.ch.Send(protocol.NewError(req.ID(), wireerrors.KindInvalidRequest, "job is required"))
		return
	}

	effectiveUser, _ := protocol.EffectiveUser(req.Username, req.RequestUsername)
	if effectiveUser == "" {
		effectiveUser = req.Job.User
	}
	if effectiveUser == "" {
		r.ch.Send(protocol.NewError(req.ID(), wireerrors.KindInvalidRequest, "username is required"))
		return
	}
	req.Job.User = effectiveUser

	if err := req.Job.Validate(); err != nil {
		r.ch.Send(protocol.NewError(req.ID(), wireerrors.KindInvalidRequest, err.Error()))
		return
	}

	if err := r.source.SubmitJob(req.Job); err != nil {
		r.log.Error("submit job failed", "error", err)
		r.ch.Send(protocol.NewErrorFromErr(req.ID(), err))
		return
	}

	projected, err := req.Job.Project(nil)
	if err != nil {
		r.ch.Send(protocol.NewErrorFromErr(req.ID(), err))
		return
	}
	r.ch.Send(protocol.NewJobStateResponse(req.ID(), r.ids.Next(), []json.RawMessage{projected}))
}
