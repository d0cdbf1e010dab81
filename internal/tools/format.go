package tools

import (
	"fmt"
	"strconv"
	"strings"

	"docsearch-mcp/internal/corpus"
	"docsearch-mcp/internal/retrieval"
)

const anonymousClosingLine = "\nSign up for a free account for higher rate limits and full-document access: https://docs.example.com/signup"

// formatSearchResponse renders a ranked search response as plain text per
// §6.3: one "[N] <title>" block per ranked result separated by 80-character
// rule lines, a merged-document indicator and fetch guidance where
// applicable, an additional-resources section with per-URL char counts, an
// anonymous closing line, and a clamp note when result_count was adjusted.
func formatSearchResponse(resp *retrieval.SearchResponse, resultCount, declaredMax int, clamped, authenticated bool) string {
	var sb strings.Builder

	for i, r := range resp.RankedResults {
		if i > 0 {
			sb.WriteString(separator)
			sb.WriteString("\n")
		}
		title := resultTitle(r.ProcessedResult)
		fmt.Fprintf(&sb, "[%d] %s\n%s\n", i+1, title, r.Content)
		if r.IsMerged() {
			fmt.Fprintf(&sb, "(merged from %d sections — full content available via fetch(url: %q))\n", len(r.MergedFrom), r.URL)
		}
	}

	if len(resp.AdditionalURLs) > 0 {
		sb.WriteString(separator)
		sb.WriteString("\n")
		sb.WriteString("Additional resources:\n")
		for _, a := range resp.AdditionalURLs {
			fmt.Fprintf(&sb, "- %s\n  (%s chars)\n", a.URL, strconv.Itoa(a.Length))
		}
	}

	if !authenticated {
		sb.WriteString(anonymousClosingLine)
		sb.WriteString("\n")
	}

	if clamped {
		fmt.Fprintf(&sb, "\n(result_count was adjusted to %d; accepted range is 1-%d)\n", resultCount, declaredMax)
	}

	return sb.String()
}

// formatFetchResponse renders a fetched page as a minimal markdown block
// per §6.4: a source URL line, the verbatim page content, and the
// anonymous closing line.
func formatFetchResponse(page *corpus.Page, authenticated bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Source: %s\n\n%s\n", page.URL, page.Content)
	if !authenticated {
		sb.WriteString(anonymousClosingLine)
		sb.WriteString("\n")
	}
	return sb.String()
}

func resultTitle(p retrieval.ProcessedResult) string {
	if p.ContextLabel != "" {
		return p.ContextLabel
	}
	if idx := strings.LastIndexByte(p.URL, '/'); idx >= 0 && idx+1 < len(p.URL) {
		return p.URL[idx+1:]
	}
	return p.URL
}
