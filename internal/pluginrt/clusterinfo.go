package pluginrt

import "github.com/jsturma/launcher-plugin/internal/protocol"

// handleGetClusterInfo reports the backend's static capabilities.
func (r *Runtime) handleGetClusterInfo(req protocol.GetClusterInfoRequest) {
	info, err := r.source.GetConfiguration()
	if err != nil {
		r.ch.Send(protocol.NewErrorFromErr(req.ID(), err))
		return
	}

	r.ch.Send(protocol.NewClusterInfoResponse(req.ID(), r.ids.Next(),
		info.Host, info.SupportsContainers, info.DefaultImage, info.AllowUnknownImages,
		info.Images, info.Queues, info.Config))
}
