package core

// RunMode is the protocol state of a node. It also decides which frames
// a panel accepts.
type RunMode uint8

const (
	ModeInit RunMode = iota
	ModePending1
	ModePending2
	ModePending3
	ModePending4
	ModeRun
	ModeReady
	ModeFirmware
)

var runModeNames = [...]string{
	ModeInit:     "INIT",
	ModePending1: "PENDING_1",
	ModePending2: "PENDING_2",
	ModePending3: "PENDING_3",
	ModePending4: "PENDING_4",
	ModeRun:      "RUN",
	ModeReady:    "READY",
	ModeFirmware: "FIRMWARE",
}

func (m RunMode) String() string {
	if int(m) < len(runModeNames) {
		return runModeNames[m]
	}
	return "MODE(" + itoa(int(m)) + ")"
}

// PendingMode returns PENDING_stage
func PendingMode(stage int) RunMode {
	if stage < 1 || stage > DetectStages {
		return ModeInit
	}
	return ModePending1 + RunMode(stage-1)
}

// PendingStage returns the stage awaited in a PENDING mode, or 0
func (m RunMode) PendingStage() int {
	if m >= ModePending1 && m <= ModePending4 {
		return int(m-ModePending1) + 1
	}
	return 0
}
