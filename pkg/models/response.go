package models

// ExecutionResponse is the wire shape of a successful execution. The
// dispatcher serializes it once; replay duplicates receive the same bytes.
type ExecutionResponse struct {
	Success  bool    `json:"success"`
	Response string  `json:"response"`
	Usage    Usage   `json:"usage"`
	Cost     Cost    `json:"cost"`
	Latency  int64   `json:"latency"`
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	RunID    *string `json:"runId"`
}
