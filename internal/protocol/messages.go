package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jsturma/launcher-plugin/internal/job"
)

// errInvalidRequest is wrapped into every parse/validation failure so
// callers can recognize it with errors.Is without depending on the exact
// message text.
var errInvalidRequest = errors.New("invalid request")

// MessageType is the closed set of request message tags from spec.md §4.2.
type MessageType int

const (
	MsgHeartbeat MessageType = iota + 1
	MsgBootstrap
	MsgSubmitJob
	MsgGetJob
	MsgGetJobStatus
	MsgControlJob
	MsgGetJobOutput
	MsgGetJobResourceUtil
	MsgGetJobNetwork
	MsgGetClusterInfo
	MsgError
)

// ControlOperation is the closed set of ControlJob.operation values.
type ControlOperation string

const (
	OpSuspend ControlOperation = "suspend"
	OpResume  ControlOperation = "resume"
	OpStop    ControlOperation = "stop"
	OpKill    ControlOperation = "kill"
	OpCancel  ControlOperation = "cancel"
)

// OutputType is the closed set of GetJobOutput.outputType values.
type OutputType string

const (
	OutputStdout OutputType = "stdout"
	OutputStderr OutputType = "stderr"
	OutputBoth   OutputType = "both"
)

// AllJobsID is the wire sentinel meaning "all matching jobs".
const AllJobsID = "*"

// envelope is used only to peek messageType/requestId before dispatching
// to a concrete request type.
type envelope struct {
	MessageType MessageType `json:"messageType"`
	RequestID   uint64      `json:"requestId"`
}

// Request is implemented by every concrete request payload.
type Request interface {
	Type() MessageType
	ID() uint64
}

type baseRequest struct {
	MessageType MessageType `json:"messageType"`
	RequestID   uint64      `json:"requestId"`
}

func (b baseRequest) Type() MessageType { return b.MessageType }
func (b baseRequest) ID() uint64        { return b.RequestID }

type HeartbeatRequest struct{ baseRequest }

type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

type BootstrapRequest struct {
	baseRequest
	Version Version `json:"version"`
}

type SubmitJobRequest struct {
	baseRequest
	Username        string   `json:"username"`
	RequestUsername string   `json:"requestUsername,omitempty"`
	Job             *job.Job `json:"job"`
}

type GetJobRequest struct {
	baseRequest
	Username        string     `json:"username"`
	RequestUsername string     `json:"requestUsername,omitempty"`
	JobID           string     `json:"jobId"`
	StartTime       *string    `json:"startTime,omitempty"`
	EndTime         *string    `json:"endTime,omitempty"`
	Statuses        []string   `json:"statuses,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Fields          []string   `json:"fields,omitempty"`
}

type GetJobStatusRequest struct {
	baseRequest
	Username        string `json:"username"`
	RequestUsername string `json:"requestUsername,omitempty"`
	JobID           string `json:"jobId"`
	Cancel          bool   `json:"cancel"`
}

type ControlJobRequest struct {
	baseRequest
	Username        string           `json:"username"`
	RequestUsername string           `json:"requestUsername,omitempty"`
	JobID           string           `json:"jobId"`
	Operation       ControlOperation `json:"operation"`
}

type GetJobOutputRequest struct {
	baseRequest
	Username        string     `json:"username"`
	RequestUsername string     `json:"requestUsername,omitempty"`
	JobID           string     `json:"jobId"`
	OutputType      OutputType `json:"outputType"`
	Cancel          bool       `json:"cancel"`
}

type GetJobResourceUtilRequest struct {
	baseRequest
	Username        string `json:"username"`
	RequestUsername string `json:"requestUsername,omitempty"`
	JobID           string `json:"jobId"`
	Cancel          bool   `json:"cancel"`
}

type GetJobNetworkRequest struct {
	baseRequest
	Username        string `json:"username"`
	RequestUsername string `json:"requestUsername,omitempty"`
	JobID           string `json:"jobId"`
}

type GetClusterInfoRequest struct {
	baseRequest
	Username string `json:"username"`
}

// EffectiveUser resolves the "*"+requestUsername admin-impersonation rule
// shared by every request carrying (username, requestUsername): the
// distinguished user value "*" plus a non-empty requestUsername denotes an
// administrator acting on behalf of that user.
func EffectiveUser(username, requestUsername string) (effective string, isAdmin bool) {
	if job.IsAllUsers(username) {
		if requestUsername != "" {
			return requestUsername, true
		}
		return job.AllUsersSentinel, true
	}
	return username, false
}

// ParseRequest decodes a raw JSON payload into its concrete Request type
// based on messageType. A payload that fails to parse at all (not even
// the envelope) returns an error; the caller (C3) must respond with
// Error(invalid-request) rather than propagate it further.
func ParseRequest(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}

	var req Request
	var err error
	switch env.MessageType {
	case MsgHeartbeat:
		var r HeartbeatRequest
		err = json.Unmarshal(data, &r)
		req = r
	case MsgBootstrap:
		var r BootstrapRequest
		err = json.Unmarshal(data, &r)
		req = r
	case MsgSubmitJob:
		var r SubmitJobRequest
		err = json.Unmarshal(data, &r)
		req = r
	case MsgGetJob:
		var r GetJobRequest
		err = json.Unmarshal(data, &r)
		req = r
	case MsgGetJobStatus:
		var r GetJobStatusRequest
		err = json.Unmarshal(data, &r)
		req = r
	case MsgControlJob:
		var r ControlJobRequest
		err = json.Unmarshal(data, &r)
		req = r
	case MsgGetJobOutput:
		var r GetJobOutputRequest
		err = json.Unmarshal(data, &r)
		req = r
	case MsgGetJobResourceUtil:
		var r GetJobResourceUtilRequest
		err = json.Unmarshal(data, &r)
		req = r
	case MsgGetJobNetwork:
		var r GetJobNetworkRequest
		err = json.Unmarshal(data, &r)
		req = r
	case MsgGetClusterInfo:
		var r GetClusterInfoRequest
		err = json.Unmarshal(data, &r)
		req = r
	default:
		return nil, fmt.Errorf("%w: unknown messageType %d", errInvalidRequest, env.MessageType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return req, nil
}

// Validate checks request-level structural rules from spec.md §4.2:
// "*" on GetJobNetwork is invalid; an empty user is only valid on
// SubmitJob.
func Validate(req Request) error {
	switch r := req.(type) {
	case GetJobNetworkRequest:
		if r.JobID == AllJobsID {
			return fmt.Errorf("%w: GetJobNetwork does not support jobId \"*\"", errInvalidRequest)
		}
		if r.Username == "" {
			return fmt.Errorf("%w: username is required", errInvalidRequest)
		}
	case SubmitJobRequest:
		// Empty real user is permitted; filled in from job body by the
		// runtime dispatcher.
	case GetJobRequest:
		if r.Username == "" {
			return fmt.Errorf("%w: username is required", errInvalidRequest)
		}
	case GetJobStatusRequest:
		if r.Username == "" {
			return fmt.Errorf("%w: username is required", errInvalidRequest)
		}
	case ControlJobRequest:
		if r.Username == "" {
			return fmt.Errorf("%w: username is required", errInvalidRequest)
		}
		switch r.Operation {
		case OpSuspend, OpResume, OpStop, OpKill, OpCancel:
		default:
			return fmt.Errorf("%w: unknown control operation %q", errInvalidRequest, r.Operation)
		}
	case GetJobOutputRequest:
		if r.Username == "" {
			return fmt.Errorf("%w: username is required", errInvalidRequest)
		}
	case GetJobResourceUtilRequest:
		if r.Username == "" {
			return fmt.Errorf("%w: username is required", errInvalidRequest)
		}
	case GetClusterInfoRequest:
		if r.Username == "" {
			return fmt.Errorf("%w: username is required", errInvalidRequest)
		}
	}
	return nil
}
