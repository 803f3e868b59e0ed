// Package internal contains the implementation packages of the pig CLI.
//
// # Package Organization
//
//   - config: pig.yaml discovery, decoding and path validation
//   - document: ordered YAML/JSON document tree and its encoders
//   - resolver: $ref parsing, the per-session document cache and inlining
//   - renderer: template discovery, rendering and context snapshots
//   - reconciler: moves output no template produces into the trash
//   - watcher: fsnotify watch handles with write coalescing
//   - pipeline: one-shot and watch-mode orchestration of the above
//   - notify: websocket broadcast of regeneration events
//   - errors: typed errors with codes and fix suggestions
//   - logging: structured logging over log/slog
//   - version: build information
//
// # Data Flow
//
// For every entry of pig.yaml the pipeline resolves the schema root into one
// document, writes the .pig.context.json and .pig.context.yaml snapshots,
// enumerates the entry's templates, reconciles the outputs of all entries
// and renders. In watch mode the watcher reports:
//
//   - schema writes, which re-resolve that entry
//   - template writes, which re-enumerate and re-render that entry
//   - pig.yaml writes, which restart from scratch
//
// Events are handled one at a time by a single goroutine. The first error
// ends the run.
package internal
