package security

import (
	"fmt"
	"strings"
)

// Markdown renders a Report the way original_source/src/agents/security_auditor.rs's
// format_report does: a scorecard followed by one section per issue.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Security Audit Report\n\n")
	fmt.Fprintf(&b, "**Overall Score:** %.1f/100\n\n", r.Score.OverallScore)
	fmt.Fprintf(&b, "| Category | Score |\n|---|---|\n")
	fmt.Fprintf(&b, "| Security | %.1f |\n", r.Score.SecurityScore)
	fmt.Fprintf(&b, "| Quality | %.1f |\n", r.Score.QualityScore)
	fmt.Fprintf(&b, "| Gas Efficiency | %.1f |\n", r.Score.GasEfficiencyScore)
	fmt.Fprintf(&b, "| Maintainability | %.1f |\n\n", r.Score.MaintainabilityScore)

	fmt.Fprintf(&b, "**Summary:** %d issues across %d lines, %d functions analyzed "+
		"(%d critical, %d high, %d medium, %d low, %d info)\n\n",
		r.Summary.TotalIssues, r.Summary.LinesAnalyzed, r.Summary.FunctionsAnalyzed,
		r.Summary.CriticalIssues, r.Summary.HighIssues, r.Summary.MediumIssues,
		r.Summary.LowIssues, r.Summary.InfoIssues)

	if len(r.Issues) > 0 {
		fmt.Fprintf(&b, "## Issues\n\n")
		for _, iss := range r.Issues {
			loc := ""
			if iss.Line != nil {
				loc = fmt.Sprintf(" (line %d)", *iss.Line)
			}
			fmt.Fprintf(&b, "### [%s] %s%s\n\n", iss.Severity, iss.Title, loc)
			fmt.Fprintf(&b, "%s\n\n", iss.Description)
			if iss.CodeSnippet != nil {
				fmt.Fprintf(&b, "```\n%s\n```\n\n", *iss.CodeSnippet)
			}
			if iss.Suggestion != "" {
				fmt.Fprintf(&b, "**Suggestion:** %s\n\n", iss.Suggestion)
			}
			for _, ref := range iss.References {
				fmt.Fprintf(&b, "- %s\n", ref)
			}
			if len(iss.References) > 0 {
				b.WriteString("\n")
			}
		}
	}

	if r.AIAnalysis != nil {
		fmt.Fprintf(&b, "## AI Analysis\n\n%s\n\n", *r.AIAnalysis)
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(&b, "## Recommendations\n\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}

	return b.String()
}
