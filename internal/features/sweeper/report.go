package sweeper

import "time"

// CycleReport is what one poll did. It is also the status file format,
// so it never carries a full private key.
type CycleReport struct {
	Cycle      int        `json:"cycle"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	DryRun     bool       `json:"dryRun,omitempty"`
	Funded     int        `json:"funded"`
	Swept      []SweptKey `json:"swept,omitempty"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Errors     []string   `json:"errors,omitempty"`
}

// SweptKey is one issued sweep. Unverified sweeps exited non-zero or printed
// nothing and were let through by the ignore policy; they carry no txid.
type SweptKey struct {
	Key        string `json:"key"`
	Target     string `json:"target"`
	TxID       string `json:"txid,omitempty"`
	Unverified bool   `json:"unverified,omitempty"`
}
