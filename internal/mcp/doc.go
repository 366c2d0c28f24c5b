// Package mcp exposes the rule pipeline as Model Context Protocol tools.
//
// It uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp) over the
// stdio transport and calls the pipeline service directly. Tools:
//
//   - generate_rules: run one document through the five stages and return the rules
//   - describe_pipeline: report the stage order, fallback policy and runner limits
package mcp
