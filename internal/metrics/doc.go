/*
Package metrics provides Prometheus metric collection for the engine.

The Collector registers counters, histograms and gauges through promauto
against an injectable Registerer, grouped by concern:

  - Agent metrics: invocation totals and durations per agent and status.
  - Handoff metrics: accepted handoffs, rejections by error code, and
    final chain depth per session.
  - Workflow metrics: subtask totals and durations, retry attempts.
  - Context metrics: compressions, archived turns, compression ratio.
  - Session metrics: active session gauge.
*/
package metrics
