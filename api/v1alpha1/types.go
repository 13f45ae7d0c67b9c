// Package v1alpha1 contains the wire types exposed by the remote OCR API.
package v1alpha1

import "time"

// Job status wire strings.
const (
	JobStatusDraft      = "draft"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusError      = "error"
	JobStatusPaused     = "paused"
)

// Job file types.
const (
	FileTypePDF        = "pdf"
	FileTypeBlocks     = "blocks"
	FileTypeAnnotation = "annotation"
	FileTypeResultMD   = "result_md"
	FileTypeResultZip  = "result_zip"
	FileTypeCrop       = "crop"
	FileTypeOcrHTML    = "ocr_html"
	FileTypeResultJSON = "result_json"
)

type Job struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"client_id"`
	DocumentID    string     `json:"document_id"`
	DocumentName  string     `json:"document_name"`
	TaskName      string     `json:"task_name"`
	Status        string     `json:"status"`
	Progress      float64    `json:"progress"`
	Engine        string     `json:"engine"`
	StoragePrefix string     `json:"storage_prefix"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	StatusMessage *string    `json:"status_message,omitempty"`
	NodeID        *string    `json:"node_id,omitempty"`
	RetryCount    int        `json:"retry_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type JobList struct {
	Items []Job `json:"items"`
}

type JobFile struct {
	ID       string            `json:"id"`
	JobID    string            `json:"job_id"`
	FileType string            `json:"file_type"`
	Key      string            `json:"key"`
	FileName string            `json:"file_name"`
	FileSize int64             `json:"file_size"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type JobSettings struct {
	TextModel        string `json:"text_model"`
	TableModel       string `json:"table_model"`
	ImageModel       string `json:"image_model"`
	StampModel       string `json:"stamp_model"`
	IsCorrectionMode bool   `json:"is_correction_mode"`
}

// BlockStats summarizes the blocks requested by a job.
type BlockStats struct {
	Total   int            `json:"total"`
	ByType  map[string]int `json:"by_type"`
	Grouped int            `json:"grouped"`
}

type ArtifactInfo struct {
	FileType string `json:"file_type"`
	FileName string `json:"file_name"`
	Key      string `json:"key"`
	FileSize int64  `json:"file_size"`
	Icon     string `json:"icon"`
}

type JobDetails struct {
	Job        Job            `json:"job"`
	Settings   *JobSettings   `json:"settings,omitempty"`
	BlockStats *BlockStats    `json:"block_stats,omitempty"`
	BaseURL    string         `json:"base_url"`
	Artifacts  []ArtifactInfo `json:"artifacts"`
}

type QueueInfo struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Max        int   `json:"max"`
}

type ResultURL struct {
	DownloadURL string `json:"download_url"`
	FileName    string `json:"file_name"`
}

type Health struct {
	OK bool `json:"ok"`
}

// StartJobRequest carries the model selection used when a draft is started.
type StartJobRequest struct {
	Engine           string `json:"engine"`
	TextModel        string `json:"text_model"`
	TableModel       string `json:"table_model"`
	ImageModel       string `json:"image_model"`
	StampModel       string `json:"stamp_model"`
	IsCorrectionMode bool   `json:"is_correction_mode"`
}

type PatchJobRequest struct {
	TaskName string `json:"task_name"`
}

type UploadTextRequest struct {
	Key     string `json:"key"`
	Content string `json:"content"`
}

type DeleteBatchRequest struct {
	Keys []string `json:"keys"`
}

type ObjectExists struct {
	Exists bool `json:"exists"`
}

type ObjectRef struct {
	Key string `json:"key"`
}

type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type ObjectList struct {
	Objects []ObjectInfo `json:"objects"`
}

type Node struct {
	ID        string    `json:"id"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

type NodeFile struct {
	ID       string `json:"id"`
	NodeID   string `json:"node_id"`
	Key      string `json:"key"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
