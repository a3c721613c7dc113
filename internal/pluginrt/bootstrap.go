package pluginrt

import (
	"github.com/jsturma/launcher-plugin/internal/protocol"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
)

// handleBootstrap implements spec.md §4.8 step 4's Bootstrap branch:
// version-check, then JobSource.Initialize, then JobSource.GetJobs
// inserted into the repository, then reply Bootstrap echoing the
// plugin's own version.
func (r *Runtime) handleBootstrap(req protocol.BootstrapRequest) {
	if req.Version.Major != r.version.Major {
		r.ch.Send(protocol.NewError(req.ID(), wireerrors.KindUnsupportedVersion,
			"plugin major version does not match launcher major version"))
		return
	}

	if err := r.source.Initialize(); err != nil {
		r.log.Error("backend initialize failed", "error", err)
		r.ch.Send(protocol.NewErrorFromErr(req.ID(), err))
		return
	}

	jobs, err := r.source.GetJobs()
	if err != nil {
		r.log.Error("backend GetJobs failed", "error", err)
		r.ch.Send(protocol.NewErrorFromErr(req.ID(), err))
		return
	}
	for _, j := range jobs {
		r.repo.Add(j)
	}

	r.ch.Send(protocol.NewBootstrapResponse(req.ID(), r.ids.Next(), r.version))
}
