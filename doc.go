// Package journeykit provides a durable, event-triggered workflow automation
// engine for multi-tenant marketing platforms.
//
// # Architecture
//
// JourneyKit moves a contact through a directed graph of steps (message, wait,
// condition, action, split test) with at-most-once delivery, deterministic
// branch selection, bounded retry, and resumability across process restarts:
//
//	┌─────────────────────────────────────┐
//	│          Engine                     │  Tick loop, claim/advance,
//	│  (drain due, park, complete, fail)  │  crash recovery
//	└─────────────────────────────────────┘
//	           ↓ dispatches to
//	┌─────────────────────────────────────┐
//	│        Step Processors              │  Message, Wait, Condition,
//	│   (uniform Outcome per step kind)   │  Action, SplitTest
//	└─────────────────────────────────────┘
//	           ↓ persist through
//	┌─────────────────────────────────────┐
//	│        Execution Store              │  NATS KV (CAS), due index,
//	│  (position + append-only log)       │  idempotent advance
//	└─────────────────────────────────────┘
//
// Workflow definitions are immutable once published; a running execution
// always resolves its current step against the exact definition version it
// started with. The scheduler is never in-memory only: parked executions
// live in the store's due index and survive restarts.
//
// # Layers
//
// Core engine packages:
//   - workflow: definition graph, step tagged union, validation
//   - workflowstore: versioned definition persistence (NATS KV)
//   - execution, executionstore: execution state, append-only log, due index
//   - trigger: entry admission (dedup, suppression, payload schema)
//   - processor: step transition functions
//   - analytics: per-workflow and per-step counters, delivery callbacks
//   - engine: scheduler, worker pool, retry policy
//
// Collaborator contracts (implementations out of scope for the engine):
//   - template: content rendering
//   - delivery: message delivery with idempotency keys
//   - contact: contact snapshots and mutations
//
// Infrastructure:
//   - natsclient: NATS/JetStream connection and KV with CAS retry
//   - metric: Prometheus metrics registry and HTTP endpoint
//   - health: subsystem liveness aggregation behind /health
//   - config: layered file/env configuration for the journeyd daemon
//   - errors, pkg/retry, pkg/worker, pkg/clock, pkg/cache
//
// JourneyKit MUST NOT contain channel-specific wire formats, template
// languages, UI concerns, or CRM scoring. Those belong to upstream services
// that call the engine through the narrow contracts above.
package journeykit
