package resultstore

import (
	"time"
)

// Run represents one complete execution of the test harness under a fixed
// scenario/configuration. Name is the natural key; Frame and Cycle rows
// reference it by name rather than by the surrogate ID so downstream
// tooling can join against the human-readable run identifier directly.
type Run struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`

	// Run start, timezone-aware.
	Date time.Time `json:"date"`

	// Scenario is the short category label, e.g. "1thr-2task". Many runs
	// share a scenario.
	Scenario string `gorm:"index" json:"scenario"`

	// Hostname of the machine that executed the run.
	Hostname string `json:"hostname"`

	// One-way network propagation time measured for this run's topology,
	// according to the EtherCAT DC system.
	PropagationTimeNs int64 `json:"propagation_time_ns"`

	// Settings is a schema-less JSON document with the full tuning/scenario
	// parameters used for the run. The tuning matrix changes over time, so
	// only well-formedness is validated, never the contents.
	Settings string `gorm:"type:text" json:"settings"`

	Frames []Frame `gorm:"foreignKey:Run;references:Name;constraint:OnUpdate:RESTRICT,OnDelete:CASCADE" json:"-"`
	Cycles []Cycle `gorm:"foreignKey:Run;references:Name;constraint:OnUpdate:RESTRICT,OnDelete:CASCADE" json:"-"`
}

// Frame records one captured EtherCAT PDU observed during a run. Rows are
// write-once observations derived from the raw capture file.
type Frame struct {
	ID  uint   `gorm:"primaryKey" json:"id"`
	Run string `gorm:"index;not null" json:"run"`

	// Capture-tool-assigned sequence number, for cross-referencing against
	// the raw capture file.
	PacketNumber int64 `json:"packet_number"`

	// Position of this PDU within its aggregated Ethernet frame. Multiple
	// PDUs may be coalesced into one frame, so (run, packet_number, index)
	// is an advisory natural key only.
	Index int `json:"index"`

	// EtherCAT command code, e.g. "LRW".
	Command string `json:"command"`

	// Timestamps in nanoseconds relative to the run-local capture clock.
	TxTimeNs int64 `json:"tx_time_ns"`
	RxTimeNs int64 `json:"rx_time_ns"`

	// Round-trip latency, always rx - tx. Computed by the store on insert.
	DeltaTimeNs int64 `json:"delta_time_ns"`
}

// Cycle records one iteration of the application's real-time control loop.
type Cycle struct {
	ID  uint   `gorm:"primaryKey" json:"id"`
	Run string `gorm:"index;uniqueIndex:idx_cycles_run_cycle;not null" json:"run"`

	// Iteration counter, strictly increasing within a run.
	Cycle int64 `gorm:"uniqueIndex:idx_cycles_run_cycle;not null" json:"cycle"`

	// Time spent doing application work within the iteration.
	ProcessingTimeNs int64 `json:"processing_time_ns"`

	// Time spent blocked waiting for the next scheduled tick.
	TickWaitNs int64 `json:"tick_wait_ns"`

	// Deviation of the actual iteration period from the configured target
	// period. Negative when the loop ran early.
	CycleTimeDeltaNs int64 `json:"cycle_time_delta_ns"`
}
