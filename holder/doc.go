// Package holder implements the self-regulating memory controller behind nerdy-holder.
//
// # Reading Guide
//
// Start with these files to understand one decision cycle:
//   - loop.go: ControlLoop, the orchestrator (sample, predict, control, size/admit, track, tune)
//   - controller.go: asymmetric PID-style Controller
//   - admission.go: ResponseEngine, which sizes a correction and gates it with a benefit/cost test
//
// The self-tuning side lives in tracker.go (sliding-window statistics), optimizer.go
// (scenario-aware scoring with exploration and rollback) and params.go (persisted tunables).
//
// # Architecture
//
// Every component is a plain struct owned by the ControlLoop and constructed with its own
// configuration; nothing is reached through package-level state. All "now" reads go through
// Clock and all randomness through PartitionedRNG, so tests drive time and exploration
// deterministically.
//
// Sub-packages:
//   - holder/memory/: owned memory chunks and the host memory sampler
//   - holder/trace/: per-cycle decision trace
//   - holder/metrics/: Prometheus registry and the HTTP exporter
//
// # Sign conventions
//
// The ControlLoop works with error = current - target (positive means release). The
// Controller keeps its historical convention error = target - current and labels the
// negative side "allocate". The two labels are intentionally left inverted relative to
// each other; see Controller.Compute.
package holder
