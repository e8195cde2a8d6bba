package dap

type dapError int

const (
	processingErr dapError = iota
	parseErr
	launchErr
	setBreakpointsErr
	continueErr
	attachErr
)

func (e dapError) String() string {
	return []string{
		"Processing error",
		"Parse error",
		"Failed to launch",
		"Failed to set breakpoints",
		"Failed to continue",
		"Failed to attach",
	}[e]
}
