// Package pluginrt implements the plugin runtime (C9): it wires the
// channel, repository, notifier, and stream manager together, installs
// the request dispatcher for every message type, runs the heartbeat
// timer, and drives bootstrap reconciliation and graceful shutdown.
// Grounded on the teacher's cmd/joblet wiring of its gRPC server,
// runtime registry, and signal-driven shutdown, adapted from "construct
// a gRPC service and serve it" to "construct a stdio channel and read
// it until EOF or a signal".
package pluginrt

import (
	"io"
	"time"

	"github.com/jsturma/launcher-plugin/internal/channel"
	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/notifier"
	"github.com/jsturma/launcher-plugin/internal/protocol"
	"github.com/jsturma/launcher-plugin/internal/repository"
	"github.com/jsturma/launcher-plugin/internal/stream"
	"github.com/jsturma/launcher-plugin/pkg/asyncrt"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
	"github.com/jsturma/launcher-plugin/pkg/logger"
)

// ClusterInfo is the backend-reported cluster/configuration snapshot
// returned from JobSource.GetConfiguration, carried into a
// ClusterInfoResponse by handleGetClusterInfo.
type ClusterInfo struct {
	Host               string
	SupportsContainers bool
	DefaultImage       string
	AllowUnknownImages bool
	Images             []string
	Queues             []string
	Config             map[string]interface{}
}

// JobSource is the capability a job-execution backend must provide. The
// local backend (C10/C11) is the reference implementation; Design Note
// "Deep/multiple inheritance" maps the original's IJobSource abstract
// base class to this single-responsibility interface.
type JobSource interface {
	// Initialize prepares the backend (e.g. the local backend creates its
	// job/output directories). Called once during Bootstrap.
	Initialize() error
	// GetJobs returns every job the backend already knows about, used to
	// seed the repository during Bootstrap reconciliation.
	GetJobs() ([]*job.Job, error)
	// SubmitJob assigns the job an id and starts it. The job's User field
	// is already resolved by the time this is called.
	SubmitJob(j *job.Job) error
	// ControlJob applies operation to an already-submitted job.
	ControlJob(j *job.Job, operation protocol.ControlOperation) (statusMessage string, err error)
	// GetConfiguration reports the backend's static capabilities.
	GetConfiguration() (ClusterInfo, error)
}

// Runtime is the wired-together plugin process.
type Runtime struct {
	ch      *channel.Channel
	repo    *repository.Repository
	n       *notifier.Notifier
	streams *stream.Manager
	pool    *asyncrt.Runtime
	source  JobSource
	ids     *protocol.ResponseIDGenerator

	version           protocol.Version
	heartbeatInterval time.Duration
	retention         time.Duration

	log           *logger.Logger
	heartbeatStop chan struct{}
}

// Config bundles the construction-time options named in spec.md §6 that
// the runtime itself needs.
type Config struct {
	Version           protocol.Version
	HeartbeatInterval time.Duration
	JobRetention      time.Duration
	MaxMessagePayload int
	PoolSize          int
}

// New wires every component together. The returned Runtime is not
// running until Run is called.
func New(in io.Reader, out io.Writer, source JobSource, cfg Config) *Runtime {
	pool := asyncrt.New(cfg.PoolSize)
	n := notifier.New()
	repo := repository.New(repository.NoopHooks{}, n)
	ids := protocol.NewResponseIDGenerator()

	r := &Runtime{
		repo:              repo,
		n:                 n,
		pool:              pool,
		source:            source,
		ids:               ids,
		version:           cfg.Version,
		heartbeatInterval: cfg.HeartbeatInterval,
		retention:         cfg.JobRetention,
		log:               logger.WithField("component", "pluginrt"),
	}
	r.ch = channel.New(in, out, cfg.MaxMessagePayload, r)
	r.streams = stream.New(repo, n, ids, r.sink, nil)
	return r
}

// sink adapts Channel.Send (which reports a write error) to the stream
// manager's fire-and-forget Sink signature, logging any write failure.
func (r *Runtime) sink(resp protocol.Response) {
	if err := r.ch.Send(resp); err != nil {
		r.log.Error("failed to send response", "error", err)
	}
}

// Notifier returns the runtime's status bus. A backend constructed before
// the runtime (the usual order, since New takes it as the JobSource)
// needs this to publish status updates the repository, pruner, and
// streams are all wired to observe; see SetHooks for the same
// before/after-construction wiring shape applied to repository.Hooks.
func (r *Runtime) Notifier() *notifier.Notifier { return r.n }

// SetHooks replaces the repository's lifecycle hooks (the local backend's
// job store, C11) and the stream manager's output stream factory (the
// local backend's tailer, C12). Must be called before Run.
func (r *Runtime) SetHooks(hooks repository.Hooks, outputFactory stream.OutputStreamFactory) {
	r.repo = repository.New(hooks, r.n)
	r.streams = stream.New(r.repo, r.n, r.ids, r.sink, outputFactory)
}

// Run drives the channel's reader loop until EOF or a transport error,
// then calls Shutdown. It blocks until the channel stops; a Shutdown
// called from another goroutine does not stop the reader loop.
func (r *Runtime) Run() error {
	if err := r.repo.Initialize(r.pool, r.retention); err != nil {
		return err
	}

	if r.heartbeatInterval > 0 {
		r.heartbeatStop = make(chan struct{})
		go r.runHeartbeat()
	}
	err := r.ch.Run()
	r.Shutdown()
	return err
}

// Shutdown stops the heartbeat timer and drains the worker pool. Safe to
// call more than once.
func (r *Runtime) Shutdown() {
	if r.heartbeatStop != nil {
		select {
		case <-r.heartbeatStop:
		default:
			close(r.heartbeatStop)
		}
	}
	r.pool.Shutdown()
	r.repo.Close()
}

func (r *Runtime) runHeartbeat() {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.ch.Send(protocol.NewHeartbeat(0))
		case <-r.heartbeatStop:
			return
		}
	}
}

// Handle implements channel.Handler. Every request is submitted to the
// shared pool so the channel's reader goroutine is never blocked by
// request processing (SPEC_FULL.md §5).
func (r *Runtime) Handle(req protocol.Request) {
	r.pool.Submit(func() { r.process(req) })
}

func (r *Runtime) process(req protocol.Request) {
	switch v := req.(type) {
	case protocol.HeartbeatRequest:
		r.log.Debug("heartbeat received", "requestId", v.ID())
	case protocol.BootstrapRequest:
		r.handleBootstrap(v)
	case protocol.SubmitJobRequest:
		r.handleSubmitJob(v)
	case protocol.GetJobRequest:
		r.handleGetJob(v)
	case protocol.GetJobStatusRequest:
		r.handleGetJobStatus(v)
	case protocol.ControlJobRequest:
		r.handleControlJob(v)
	case protocol.GetJobOutputRequest:
		r.handleGetJobOutput(v)
	case protocol.GetJobResourceUtilRequest:
		r.ch.Send(protocol.NewError(v.ID(), wireerrors.KindRequestNotSupported,
			"resource utilization reporting is not supported by the local backend"))
	case protocol.GetJobNetworkRequest:
		r.ch.Send(protocol.NewError(v.ID(), wireerrors.KindRequestNotSupported,
			"network reporting is not supported by the local backend"))
	case protocol.GetClusterInfoRequest:
		r.handleGetClusterInfo(v)
	default:
		r.log.Warn("no handler for request type", "type", req.Type())
	}
}
