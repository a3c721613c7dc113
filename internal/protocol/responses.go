package protocol

import (
	"encoding/json"
	"sync/atomic"

	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
)

// ResponseIDGenerator hands out the process-global monotonic responseId
// required by spec.md §4.2/§8 ("Response ID monotonicity"). Heartbeat and
// Error responses use id 0; everything else draws the next value starting
// at 1.
type ResponseIDGenerator struct {
	next atomic.Uint64
}

// NewResponseIDGenerator creates a generator whose first Next() call
// returns 1.
func NewResponseIDGenerator() *ResponseIDGenerator {
	return &ResponseIDGenerator{}
}

// Next returns the next monotonic response id.
func (g *ResponseIDGenerator) Next() uint64 {
	return g.next.Add(1)
}

// Response is implemented by every concrete response payload.
type Response interface {
	ResponseMessageType() MessageType
	RequestID() uint64
}

type baseResponse struct {
	MessageType MessageType `json:"messageType"`
	RequestID_  uint64      `json:"requestId"`
	ResponseID  uint64      `json:"responseId"`
}

func (b baseResponse) ResponseMessageType() MessageType { return b.MessageType }
func (b baseResponse) RequestID() uint64                { return b.RequestID_ }

type HeartbeatResponse struct {
	baseResponse
}

type BootstrapResponse struct {
	baseResponse
	Version Version `json:"version"`
}

// JobStateResponse carries jobs already projected (see job.Project) to
// the wire field set named in spec.md §4.2: "optionally projected to a
// field set that always includes id".
type JobStateResponse struct {
	baseResponse
	Jobs   []json.RawMessage `json:"jobs"`
}

type JobStatusResponse struct {
	baseResponse
	JobID     string          `json:"jobId"`
	Status    string          `json:"status"`
	Message   string          `json:"statusMessage"`
	Sequences []SequenceEntry `json:"sequences"`
}

// SequenceEntry is one {requestId, seq} pair in a multi-stream response.
type SequenceEntry struct {
	RequestID uint64 `json:"requestId"`
	SeqID     uint64 `json:"seqId"`
}

type ControlJobResponse struct {
	baseResponse
	StatusMessage     string `json:"statusMessage"`
	OperationComplete bool   `json:"operationComplete"`
}

type JobOutputResponse struct {
	baseResponse
	SequenceID uint64     `json:"sequenceId"`
	Complete   bool       `json:"complete"`
	Output     string     `json:"output,omitempty"`
	OutputType OutputType `json:"outputType,omitempty"`
}

type JobResourceUtilResponse struct {
	baseResponse
	SequenceID      uint64  `json:"sequenceId"`
	CPUPercent      float64 `json:"cpuPercent"`
	CPUTime         float64 `json:"cpuTime"`
	VirtualMemory   uint64  `json:"virtualMemory"`
	ResidentMemory  uint64  `json:"residentMemory"`
}

type JobNetworkResponse struct {
	baseResponse
	IPAddresses []string `json:"ipAddresses"`
}

type ClusterInfoResponse struct {
	baseResponse
	Host                string                 `json:"host"`
	SupportsContainers  bool                   `json:"supportsContainers"`
	DefaultImage        string                 `json:"defaultImage,omitempty"`
	AllowUnknownImages  bool                   `json:"allowUnknownImages"`
	Images              []string               `json:"images,omitempty"`
	Queues              []string               `json:"queues,omitempty"`
	Config              map[string]interface{} `json:"config,omitempty"`
}

// ErrorResponse is the wire Error response. errorCode is one of the
// WireKind values from pkg/errors.
type ErrorResponse struct {
	baseResponse
	ErrorCode    wireerrors.WireKind `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage"`
}

// NewHeartbeat builds an unsolicited or replying Heartbeat response.
// Heartbeats always carry responseId 0 per spec.md §6.
func NewHeartbeat(requestID uint64) HeartbeatResponse {
	return HeartbeatResponse{baseResponse{MsgHeartbeat, requestID, 0}}
}

// NewError builds an Error response. Error responses always carry
// responseId 0 per spec.md §6.
func NewError(requestID uint64, kind wireerrors.WireKind, message string) ErrorResponse {
	return ErrorResponse{
		baseResponse: baseResponse{MsgError, requestID, 0},
		ErrorCode:    kind,
		ErrorMessage: message,
	}
}

// NewErrorFromErr classifies err to its wire kind and builds an Error
// response from it.
func NewErrorFromErr(requestID uint64, err error) ErrorResponse {
	return NewError(requestID, wireerrors.ClassifyToWireKind(err), err.Error())
}

// NewJobStatusResponse builds a JobStatus response. requestID is 0 for a
// multi-subscriber broadcast addressed via sequences rather than a single
// request (the stream manager's fan-out path).
func NewJobStatusResponse(requestID, responseID uint64, jobID, status, message string, sequences []SequenceEntry) JobStatusResponse {
	return JobStatusResponse{
		baseResponse: baseResponse{MsgGetJobStatus, requestID, responseID},
		JobID:        jobID,
		Status:       status,
		Message:      message,
		Sequences:    sequences,
	}
}

// NewJobOutputResponse builds a JobOutput response chunk.
func NewJobOutputResponse(requestID, responseID, sequenceID uint64, complete bool, output string, outputType OutputType) JobOutputResponse {
	return JobOutputResponse{
		baseResponse: baseResponse{MsgGetJobOutput, requestID, responseID},
		SequenceID:   sequenceID,
		Complete:     complete,
		Output:       output,
		OutputType:   outputType,
	}
}

// NewBootstrapResponse builds a Bootstrap response echoing the plugin's
// own version.
func NewBootstrapResponse(requestID, responseID uint64, version Version) BootstrapResponse {
	return BootstrapResponse{
		baseResponse: baseResponse{MsgBootstrap, requestID, responseID},
		Version:      version,
	}
}

// NewJobStateResponse builds a JobState response carrying jobs already
// projected to JSON (via job.Project).
func NewJobStateResponse(requestID, responseID uint64, jobs []json.RawMessage) JobStateResponse {
	return JobStateResponse{
		baseResponse: baseResponse{MsgGetJob, requestID, responseID},
		Jobs:         jobs,
	}
}

// NewControlJobResponse builds a ControlJob response.
func NewControlJobResponse(requestID, responseID uint64, statusMessage string, complete bool) ControlJobResponse {
	return ControlJobResponse{
		baseResponse:      baseResponse{MsgControlJob, requestID, responseID},
		StatusMessage:     statusMessage,
		OperationComplete: complete,
	}
}

// NewClusterInfoResponse builds a ClusterInfo response.
func NewClusterInfoResponse(requestID, responseID uint64, host string, supportsContainers bool,
	defaultImage string, allowUnknownImages bool, images, queues []string, config map[string]interface{}) ClusterInfoResponse {
	return ClusterInfoResponse{
		baseResponse:       baseResponse{MsgGetClusterInfo, requestID, responseID},
		Host:               host,
		SupportsContainers: supportsContainers,
		DefaultImage:       defaultImage,
		AllowUnknownImages: allowUnknownImages,
		Images:             images,
		Queues:             queues,
		Config:             config,
	}
}
