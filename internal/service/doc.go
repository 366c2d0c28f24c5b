// Package service composes the rule generation pipeline.
//
// A Service owns the pieces shared by every run: the secret scrubber, the five
// stages, the single-shot fallback and one Runner whose limiter bounds in-flight
// stage invocations across all runs. Each call to Generate or Start builds a fresh
// orchestrator, run context and emitter, so runs never share mutable state.
//
// The Registry hands the composed service and its transport collaborators to the
// HTTP and MCP adapters.
package service
