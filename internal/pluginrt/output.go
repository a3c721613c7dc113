package pluginrt

import (
	"github.com/jsturma/launcher-plugin/internal/protocol"
)

// handleGetJobOutput forwards to the stream manager's output-stream
// registry. Mirrors handleGetJobStatus's cancel/register split.
func (r *Runtime) handleGetJobOutput(req protocol.GetJobOutputRequest) {
	if req.Cancel {
		r.streams.CancelOutputStream(req.ID())
		return
	}

	effectiveUser, _ := protocol.EffectiveUser(req.Username, req.RequestUsername)
	if err := r.streams.AddOutputStream(req.ID(), req.JobID, effectiveUser, req.OutputType); err != nil {
		r.ch.Send(protocol.NewErrorFromErr(req.ID(), err))
	}
}
