package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/homelab-ops/warden/pkg/models"
	"github.com/homelab-ops/warden/pkg/tools"
)

// MemorySearcher finds similar past incidents for a free-text query. The
// memory service implements it.
type MemorySearcher interface {
	SimilarText(ctx context.Context, query string, k int) ([]models.ScoredRecord, error)
}

// MemorySimilar lets the Analyst search incident memory beyond the
// automatic history section, for example by a suspected root cause rather
// than the triggering alert's wording.
func MemorySimilar(mem MemorySearcher) *tools.Tool {
	return &tools.Tool{
		Name:        "memory_similar",
		Description: "Search past incidents by free-text description and return the closest matches with their outcomes.",
		Params: []tools.Param{
			{Name: "query", Type: tools.TypeString, Required: true, Description: "Symptom or cause description to search for"},
			{Name: "k", Type: tools.TypeNumber, Description: "Maximum number of matches to return"},
		},
		Risk:    tools.RiskRead,
		Family:  tools.FamilyMemory,
		Handler: memorySimilarHandler(mem),
	}
}

func memorySimilarHandler(mem MemorySearcher) tools.Handler {
	return func(ctx context.Context, _ *tools.ExecContext, args map[string]any) (string, error) {
		query := stringArg(args, "query")
		if query == "" {
			return "", fmt.Errorf("query must not be empty")
		}
		k, _ := intArg(args, "k")

		records, err := mem.SimilarText(ctx, query, k)
		if err != nil {
			return "", fmt.Errorf("memory search: %w", err)
		}
		if len(records) == 0 {
			return "no similar past incidents found", nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d similar past incident(s), most similar first:\n", len(records))
		for i, rec := range records {
			p := rec.Record.Payload
			name := p.Labels["alertname"]
			if name == "" {
				name = p.Fingerprint
			}
			fmt.Fprintf(&b, "%d. %s (similarity %.2f) severity=%s outcome=%s closed=%s",
				i+1, name, rec.Score, p.Severity, p.Outcome, p.ClosedAt.Format("2006-01-02"))
			if len(p.ToolsUsed) > 0 {
				fmt.Fprintf(&b, " tools=%s", strings.Join(p.ToolsUsed, ","))
			}
			if fix := p.StageSummaries[string(models.StageHealer)]; fix != "" {
				fmt.Fprintf(&b, "\n   fix: %s", fix)
			} else if analysis := p.StageSummaries[string(models.StageAnalyst)]; analysis != "" {
				fmt.Fprintf(&b, "\n   analysis: %s", analysis)
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}
