package job

import "encoding/json"

// MountSourceType is the closed set of mount source variants the wire
// format carries as {"type": ..., "source": ...}. Per Design Note
// "Runtime polymorphism of mount sources" this models a tagged variant: a
// closed set of concrete source types plus a catch-all Passthrough that
// retains the unparsed JSON object for unknown types.
type MountSourceType string

const (
	MountSourceHostPath   MountSourceType = "hostPath"
	MountSourceNFS        MountSourceType = "nfs"
	MountSourceCephFS     MountSourceType = "cephfs"
	MountSourceGlusterFS  MountSourceType = "glusterfs"
	MountSourceAzureFile  MountSourceType = "azureFile"
	MountSourcePassthrough MountSourceType = "passthrough"
)

// MountSource is a tagged union over the six mount source variants.
// Exactly one of the typed fields is populated, selected by Type; for
// Passthrough, Raw holds the unparsed JSON source object of an
// unknown/future source type; its original type name is not kept, since
// Type is set to "passthrough".
type MountSource struct {
	Type MountSourceType

	HostPath  *HostPathSource
	NFS       *NFSSource
	CephFS    *CephFSSource
	GlusterFS *GlusterFSSource
	AzureFile *AzureFileSource

	Raw json.RawMessage
}

type HostPathSource struct {
	Path string `json:"path"`
}

type NFSSource struct {
	Server string `json:"server"`
	Path   string `json:"path"`
}

type CephFSSource struct {
	Monitors []string `json:"monitors"`
	Path     string   `json:"path"`
	User     string   `json:"user,omitempty"`
	Secret   string   `json:"secret,omitempty"`
}

type GlusterFSSource struct {
	Servers []string `json:"servers"`
	Volume  string   `json:"volume"`
}

type AzureFileSource struct {
	ShareName  string `json:"shareName"`
	SecretName string `json:"secretName"`
}

// Mount is one entry of Job.Mounts.
type Mount struct {
	Destination string      `json:"destination"`
	ReadOnly    bool        `json:"readOnly"`
	Source      MountSource `json:"source"`
}

type wireMount struct {
	Destination string          `json:"destination"`
	ReadOnly    bool            `json:"readOnly"`
	Type        MountSourceType `json:"type"`
	Source      json.RawMessage `json:"source"`
}

// UnmarshalJSON decodes a Mount from the wire {destination, readOnly,
// type, source} shape into the tagged MountSource union.
func (m *Mount) UnmarshalJSON(data []byte) error {
	var w wireMount
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Destination = w.Destination
	m.ReadOnly = w.ReadOnly
	m.Source.Type = w.Type

	switch w.Type {
	case MountSourceHostPath:
		var s HostPathSource
		if err := json.Unmarshal(w.Source, &s); err != nil {
			return err
		}
		m.Source.HostPath = &s
	case MountSourceNFS:
		var s NFSSource
		if err := json.Unmarshal(w.Source, &s); err != nil {
			return err
		}
		m.Source.NFS = &s
	case MountSourceCephFS:
		var s CephFSSource
		if err := json.Unmarshal(w.Source, &s); err != nil {
			return err
		}
		m.Source.CephFS = &s
	case MountSourceGlusterFS:
		var s GlusterFSSource
		if err := json.Unmarshal(w.Source, &s); err != nil {
			return err
		}
		m.Source.GlusterFS = &s
	case MountSourceAzureFile:
		var s AzureFileSource
		if err := json.Unmarshal(w.Source, &s); err != nil {
			return err
		}
		m.Source.AzureFile = &s
	default:
		// Unknown/passthrough type: retain the unparsed object.
		m.Source.Type = MountSourcePassthrough
		m.Source.Raw = append(json.RawMessage(nil), w.Source...)
	}
	return nil
}

// MarshalJSON encodes a Mount back to the wire shape.
func (m Mount) MarshalJSON() ([]byte, error) {
	var src interface{}
	switch m.Source.Type {
	case MountSourceHostPath:
		src = m.Source.HostPath
	case MountSourceNFS:
		src = m.Source.NFS
	case MountSourceCephFS:
		src = m.Source.CephFS
	case MountSourceGlusterFS:
		src = m.Source.GlusterFS
	case MountSourceAzureFile:
		src = m.Source.AzureFile
	default:
		src = m.Source.Raw
	}

	rawSrc, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}

	return json.Marshal(wireMount{
		Destination: m.Destination,
		ReadOnly:    m.ReadOnly,
		Type:        m.Source.Type,
		Source:      rawSrc,
	})
}

// IsHostPath reports whether this mount is backed by a local host path,
// the only source variant the local backend supports (spec.md §3).
func (m Mount) IsHostPath() bool {
	return m.Source.Type == MountSourceHostPath && m.Source.HostPath != nil
}
