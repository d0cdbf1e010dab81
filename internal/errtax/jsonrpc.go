package errtax

import "docsearch-mcp/internal/protocol"

// ToJSONRPCError converts a typed Error into the JSON-RPC error envelope
// the transport layer writes back to the client.
func (e *Error) ToJSONRPCError(id interface{}) *protocol.JSONRPCResponse {
	return &protocol.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &protocol.JSONRPCError{
			Code:    e.Kind.jsonRPCCode(),
			Message: e.Message,
			Data:    e,
		},
	}
}

// HandleJSONRPCError is the single entry point internal/mcpserver calls to
// turn any error - typed or not - into a response. A non-taxonomy error is
// folded into an internal error with a fresh trace ID rather than leaking
// its raw text to the client.
func HandleJSONRPCError(err error, id interface{}) *protocol.JSONRPCResponse {
	if err == nil {
		return nil
	}
	return From(err).ToJSONRPCError(id)
}
