package task

import "encoding/json"

// TypeEcho is the job type served by EchoHandler.
const TypeEcho = "echo"

// EchoHandler completes with the job's params as its result. It ships with
// every deployment as a smoke test for the full claim, progress, complete
// path without touching any external system.
type EchoHandler struct{}

// Type returns the echo job type.
func (EchoHandler) Type() string {
	return TypeEcho
}

// Execute reports the halfway mark and returns the params unchanged.
func (EchoHandler) Execute(ctx *Context) (json.RawMessage, error) {
	if err := ctx.ReportProgress(50, "halfway"); err != nil {
		return nil, err
	}
	return ctx.Params(), nil
}
