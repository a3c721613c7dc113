package pluginrt

import (
	"github.com/jsturma/launcher-plugin/internal/protocol"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
)

// handleControlJob applies a suspend/resume/stop/kill/cancel operation to
// an already-submitted job via the backend.
func (r *Runtime) handleControlJob(req protocol.ControlJobRequest) {
	effectiveUser, _ := protocol.EffectiveUser(req.Username, req.RequestUsername)

	j, ok := r.repo.Get(req.JobID, effectiveUser)
	if !ok {
		r.ch.Send(protocol.NewError(req.ID(), wireerrors.KindJobNotFound, "job not found: "+req.JobID))
		return
	}

	statusMessage, err := r.source.ControlJob(j, req.Operation)
	if err != nil {
		r.log.Error("control job failed", "jobId", req.JobID, "operation", req.Operation, "error", err)
		r.ch.Send(protocol.NewErrorFromErr(req.ID(), err))
		return
	}

	r.ch.Send(protocol.NewControlJobResponse(req.ID(), r.ids.Next(), statusMessage, true))
}
