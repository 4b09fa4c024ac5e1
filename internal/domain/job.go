package domain

import (
	"fmt"
	"strings"
)

// JobStatus enumerates mesh job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// MeshFormat is one of the mesh file formats a provider can return.
type MeshFormat string

const (
	MeshFormatOBJ MeshFormat = "obj"
	MeshFormatSTL MeshFormat = "stl"
	MeshFormatGLB MeshFormat = "glb"
	MeshFormatFBX MeshFormat = "fbx"
)

// Valid reports whether f belongs to the closed set of result formats.
func (f MeshFormat) Valid() bool {
	switch f {
	case MeshFormatOBJ, MeshFormatSTL, MeshFormatGLB, MeshFormatFBX:
		return true
	}
	return false
}

// Requestable reports whether f may be asked for when submitting a job.
// FBX is only ever produced, never requested.
func (f MeshFormat) Requestable() bool {
	return f == MeshFormatOBJ || f == MeshFormatSTL || f == MeshFormatGLB
}

// ParseMeshFormat normalizes user input. Empty input yields an empty format.
func ParseMeshFormat(raw string) (MeshFormat, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	if raw == "gltf" {
		raw = string(MeshFormatGLB)
	}
	f := MeshFormat(raw)
	if !f.Valid() {
		return "", fmt.Errorf("%w: unsupported mesh format %q", ErrInvalidInput, raw)
	}
	return f, nil
}

// MeshRequest is the input of a mesh generation submission. When both
// Image and Prompt are set the image drives generation and the prompt is
// auxiliary guidance.
type MeshRequest struct {
	Image  string     `json:"image,omitempty"`
	Prompt string     `json:"prompt,omitempty"`
	Format MeshFormat `json:"format,omitempty"`
}

// MeshMetadata carries optional geometry statistics.
type MeshMetadata struct {
	Vertices *int `json:"vertices,omitempty"`
	Faces    *int `json:"faces,omitempty"`
}

// MeshResult is the terminal payload of a completed job.
type MeshResult struct {
	MeshFileURL string        `json:"meshFileUrl"`
	MaterialURL string        `json:"mtlUrl,omitempty"`
	Format      MeshFormat    `json:"format"`
	Metadata    *MeshMetadata `json:"metadata,omitempty"`
}

// StatusReport is what a status check returns for a job.
type StatusReport struct {
	Status   JobStatus   `json:"status"`
	Progress *int        `json:"progress,omitempty"`
	Result   *MeshResult `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Submission identifies an accepted mesh job and the backend that owns it.
type Submission struct {
	JobID    string `json:"jobId"`
	Provider string `json:"provider"`
}

// FailedReport builds a failed status report.
func FailedReport(msg string) StatusReport {
	return StatusReport{Status: JobStatusFailed, Error: msg}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
