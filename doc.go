// Package infoxp orchestrates a local chat model with tools.
//
// The agent loop (pkg/agent) sends the conversation and the tool catalog to
// an Ollama model, executes the tool calls it asks for and feeds the results
// back until the model answers or the hop budget runs out. Tools are web
// search with a scraper fallback (pkg/search), page reading through a reader
// proxy (pkg/reader) and MongoDB access (pkg/store), registered in
// pkg/toolset.
//
// The agent reaches the tools through pkg/transport: a remote MCP peer when
// one is configured and answers in time, otherwise a local infoxp-mcp
// process spawned over stdio.
//
// # Quick Start
//
//	go install github.com/kadirpekel/infoxp/cmd/...@latest
//	ollama pull llama3.1
//	infoxp ask "what is new in Go 1.24?"
//
// Serve the HTTP bridge:
//
//	infoxp serve
//	curl -s localhost:3000/api/agent -d '{"prompt":"find players named Ada"}'
package infoxp
