package pluginrt

import "github.com/jsturma/launcher-plugin/internal/protocol"

// handleGetJobStatus forwards to the stream manager: a cancel request
// tears down the request id's registration, everything else registers
// (or re-registers) it and triggers an initial-state replay.
func (r *Runtime) handleGetJobStatus(req protocol.GetJobStatusRequest) {
	if req.Cancel {
		r.streams.CancelStatusStream(req.JobID, req.ID())
		return
	}

	effectiveUser, _ := protocol.EffectiveUser(req.Username, req.RequestUsername)
	if err := r.streams.AddStatusStream(req.ID(), req.JobID, effectiveUser); err != nil {
		r.ch.Send(protocol.NewErrorFromErr(req.ID(), err))
	}
}
