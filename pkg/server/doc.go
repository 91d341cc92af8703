// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

// Package server provides the HTTP bridge in front of the agent and the tool
// transport.
//
// Routes:
//
//	POST /api/agent            one agent run: {prompt, history?} -> {answer}
//	POST /api/chat             streamed model output as chunked text
//	GET  /api/mcp/tools        tool descriptors from the dispatcher
//	POST /api/mcp/tools/call   direct tool call: {name, args}
//	GET  /healthz              liveness
//	GET  /readyz               model readiness
//	GET  /metrics              prometheus exposition, when metrics are enabled
package server
