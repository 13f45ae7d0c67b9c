package events

// JobStatusEvent is emitted on every job lifecycle transition the API
// performs. Worker-side transitions surface through the job row itself.
type JobStatusEvent struct {
	JobID      string `json:"job_id"`
	ClientID   string `json:"client_id"`
	TaskName   string `json:"task_name"`
	Status     string `json:"status"`
	PrevStatus string `json:"prev_status,omitempty"`
}
