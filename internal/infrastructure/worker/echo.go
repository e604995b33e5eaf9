package worker

// CallbackFunc invokes the same transition the HTTP callback endpoint would
// (spec.md §6's POST /api/stitch/callback/:runId/:nodeId), letting an
// in-process Executor complete a node without an actual webhook round trip.
type CallbackFunc func(runID, nodeID string, succeeded bool, output interface{}, errMsg string) error

// EchoExecutor is the illustrative built-in workerType used by tests and by
// flows that need a no-op pass-through node: it reflects its input back as
// output and reports success. It never calls an LLM or any other external
// service — it exists solely to exercise the Worker-node path end to end
// without standing up a real webhook.
type EchoExecutor struct {
	Callback CallbackFunc
}

// NewEchoExecutor returns an Executor registered under workerType "echo".
func NewEchoExecutor(callback CallbackFunc) *EchoExecutor {
	return &EchoExecutor{Callback: callback}
}

// Execute reflects input back as output. It runs the callback in a goroutine
// so Execute's own return (dispatch succeeded) is never confused with the
// node's eventual completion, matching the async contract every other
// Executor/webhook must honor.
func (e *EchoExecutor) Execute(runID, nodeID string, config map[string]interface{}, input map[string]interface{}) error {
	go func() {
		_ = e.Callback(runID, nodeID, true, input, "")
	}()
	return nil
}
