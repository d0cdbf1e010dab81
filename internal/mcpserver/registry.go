package mcpserver

import "docsearch-mcp/internal/protocol"

// toolDescriptors is the fixed tools/list payload (§4.I). Both schemas
// declare exactly one required field, matching boundary scenario 1.
func toolDescriptors(declaredMaxResults int) []protocol.Tool {
	return []protocol.Tool{
		{
			Name:        "search",
			Description: "Search the documentation corpus and return a ranked set of relevant passages with source URLs.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Natural-language search query.",
						"minLength":   1,
						"maxLength":   10000,
					},
					"result_count": map[string]interface{}{
						"type":        "integer",
						"description": "Number of ranked results to return.",
						"minimum":     1,
						"maximum":     declaredMaxResults,
					},
				},
				"required": []interface{}{"query"},
			},
		},
		{
			Name:        "fetch",
			Description: "Fetch the full canonical page content for a previously surfaced documentation URL.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url": map[string]interface{}{
						"type":        "string",
						"description": "The documentation URL to fetch.",
					},
				},
				"required": []interface{}{"url"},
			},
		},
	}
}
