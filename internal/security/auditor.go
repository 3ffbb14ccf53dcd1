package security

import (
	"context"
	"sort"
	"strings"

	"github.com/kandev/agentcore/internal/platform/logger"
)

// Analyzer is the optional AI-augmented pass. A nil Analyzer on Auditor
// disables the AI pass regardless of Options.EnableAI.
type Analyzer interface {
	Analyze(ctx context.Context, source string) (string, error)
}

// Auditor runs the regex rule engine plus an optional AI pass over
// source text, grounded on original_source/src/agents/security_auditor.rs.
type Auditor struct {
	analyzer  Analyzer
	log       *logger.Logger
	overrides RuleOverrides
}

func New(analyzer Analyzer, log *logger.Logger) *Auditor {
	return &Auditor{analyzer: analyzer, log: log}
}

// LoadOverrides reads path as a rule-severity override file and applies
// it to every subsequent Audit call. A missing path clears any
// previously loaded overrides.
func (a *Auditor) LoadOverrides(path string) error {
	overrides, err := LoadRuleOverrides(path)
	if err != nil {
		return err
	}
	a.overrides = overrides
	return nil
}

// Audit runs the full pipeline: syntax rules, security rules, missing
// feature checks, best practice rules, an optional AI pass, then
// summary/score/recommendations/confidence derived from the findings.
func (a *Auditor) Audit(ctx context.Context, source string, opts Options) (*Report, float64, error) {
	lines := strings.Split(source, "\n")
	functionsAnalyzed := strings.Count(source, "function ")

	var issues []Issue

	for _, r := range syntaxRules {
		issues = append(issues, matchRule(source, lines, r.pattern, Issue{
			Title:       r.name,
			Description: r.description,
			Severity:    a.overrides.severityFor(r.name, r.severity),
			Category:    CategorySyntax,
			Suggestion:  r.suggestion,
		})...)
	}

	for _, r := range securityRules {
		issues = append(issues, matchRule(source, lines, r.pattern, Issue{
			Title:       r.name,
			Description: r.description,
			Severity:    a.overrides.severityFor(r.name, r.severity),
			Category:    r.category,
			Suggestion:  r.suggestion,
			References:  r.references,
		})...)
	}

	issues = append(issues, missingFeatureIssues(source, functionsAnalyzed)...)

	for _, r := range bestPracticeRules {
		issues = append(issues, matchRule(source, lines, r.pattern, Issue{
			Title:       r.name,
			Description: r.description,
			Severity:    a.overrides.severityFor(r.name, r.severity),
			Category:    CategoryBestPractice,
			Suggestion:  r.suggestion,
		})...)
	}

	var aiAnalysis *string
	if opts.EnableAI && a.analyzer != nil {
		if text, err := a.analyzer.Analyze(ctx, source); err == nil {
			aiAnalysis = &text
		} else if a.log != nil {
			a.log.WithError(err).Warn("security: AI analysis pass failed, continuing without it")
		}
	}

	summary := summarize(issues, len(lines), functionsAnalyzed)

	scoringSet := issues
	if opts.Depth != DepthComprehensive {
		scoringSet = filterByFloor(issues, opts.SeverityFloor)
	}
	score := computeScore(scoringSet)

	recs := recommendations(summary)

	returned := issues
	if opts.Depth != DepthComprehensive {
		returned = filterByFloor(issues, opts.SeverityFloor)
	}
	sortIssues(returned)

	report := &Report{
		Summary:         summary,
		Issues:          returned,
		Recommendations: recs,
		Score:           score,
		AIAnalysis:      aiAnalysis,
	}
	return report, confidence(summary, opts.Depth), nil
}

func matchRule(source string, lines []string, pattern interface{ FindAllStringIndex(string, int) [][]int }, base Issue) []Issue {
	locs := pattern.FindAllStringIndex(source, -1)
	if len(locs) == 0 {
		return nil
	}
	issue := base
	if line := lineOf(source, locs[0][0]); line > 0 {
		l := line
		issue.Line = &l
		if l-1 < len(lines) {
			snippet := strings.TrimSpace(lines[l-1])
			issue.CodeSnippet = &snippet
		}
	}
	return []Issue{issue}
}

func lineOf(source string, offset int) int {
	if offset < 0 || offset > len(source) {
		return 0
	}
	return strings.Count(source[:offset], "\n") + 1
}

// missingFeatureIssues implements the documented gating scheme: the
// ReentrancyGuard and pragma checks only fire once the source declares
// at least one function; the AccessControl check additionally requires
// the source to look like a contract declaration.
func missingFeatureIssues(source string, functionsAnalyzed int) []Issue {
	var issues []Issue
	if functionsAnalyzed == 0 {
		return issues
	}

	if !strings.Contains(source, "ReentrancyGuard") && !strings.Contains(source, "nonReentrant") {
		issues = append(issues, Issue{
			Title:       "Missing Reentrancy Protection",
			Description: "Contract with functions but no ReentrancyGuard or nonReentrant modifier detected",
			Severity:    SeverityHigh,
			Category:    CategoryReentrancyAttack,
			Suggestion:  "Inherit OpenZeppelin's ReentrancyGuard and apply the nonReentrant modifier to state-changing external functions",
			References:  []string{"https://docs.openzeppelin.com/contracts/4.x/api/security#ReentrancyGuard"},
		})
	}

	if !strings.Contains(source, "pragma solidity ^0.8") {
		issues = append(issues, Issue{
			Title:       "Outdated or Missing Pragma",
			Description: "Source does not pin pragma solidity ^0.8, missing built-in overflow checks and recent compiler fixes",
			Severity:    SeverityMedium,
			Category:    CategoryBestPractice,
			Suggestion:  "Pin pragma solidity ^0.8.x",
		})
	}

	if strings.Contains(source, "contract") {
		if !strings.Contains(source, "Ownable") && !strings.Contains(source, "onlyOwner") && !strings.Contains(source, "AccessControl") {
			issues = append(issues, Issue{
				Title:       "Missing Access Control",
				Description: "Contract declares functions but no Ownable, onlyOwner, or AccessControl pattern was detected",
				Severity:    SeverityMedium,
				Category:    CategoryAccessControl,
				Suggestion:  "Restrict privileged functions with OpenZeppelin's Ownable or AccessControl",
				References:  []string{"https://docs.openzeppelin.com/contracts/4.x/access-control"},
			})
		}
	}

	return issues
}

func summarize(issues []Issue, lineCount, functionsAnalyzed int) Summary {
	s := Summary{TotalIssues: len(issues), LinesAnalyzed: lineCount, FunctionsAnalyzed: functionsAnalyzed}
	for _, iss := range issues {
		switch iss.Severity {
		case SeverityCritical:
			s.CriticalIssues++
		case SeverityHigh:
			s.HighIssues++
		case SeverityMedium:
			s.MediumIssues++
		case SeverityLow:
			s.LowIssues++
		case SeverityInfo:
			s.InfoIssues++
		}
	}
	return s
}

func filterByFloor(issues []Issue, floor Severity) []Issue {
	var out []Issue
	for _, iss := range issues {
		if iss.Severity >= floor {
			out = append(out, iss)
		}
	}
	return out
}

func computeScore(issues []Issue) Score {
	security, quality, gas, maintainability := 100.0, 100.0, 100.0, 100.0
	for _, iss := range issues {
		d := deduction(iss.Severity)
		switch scoreBucket(iss.Category) {
		case "security":
			security -= d
		case "quality":
			quality -= d
		case "gas":
			gas -= d
		default:
			maintainability -= d
		}
	}
	security = clamp(security)
	quality = clamp(quality)
	gas = clamp(gas)
	maintainability = clamp(maintainability)
	overall := (security + quality + gas + maintainability) / 4
	return Score{
		OverallScore:         overall,
		SecurityScore:        security,
		QualityScore:         quality,
		GasEfficiencyScore:   gas,
		MaintainabilityScore: maintainability,
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func recommendations(s Summary) []string {
	recs := make([]string, 0, 5)
	if s.CriticalIssues > 0 {
		recs = append(recs, "Do not deploy: critical issues must be resolved first")
	}
	if s.HighIssues > 0 {
		recs = append(recs, "Review all high severity findings before deployment")
	}
	recs = append(recs,
		"Consider a professional third-party audit before mainnet deployment",
		"Run the full test suite with coverage before every release",
		"Keep dependencies such as OpenZeppelin contracts up to date",
	)
	return recs
}

func confidence(s Summary, depth Depth) float64 {
	c := 0.9
	switch depth {
	case DepthComprehensive:
		c += 0.05
	case DepthQuick:
		c -= 0.10
	}
	if s.CriticalIssues == 0 {
		c += 0.05
	} else {
		c -= 0.10
	}
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// sortIssues orders ascending by line number, with issues that have no
// line number sorted last, tie-broken by descending severity.
func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Line == nil && b.Line != nil {
			return false
		}
		if a.Line != nil && b.Line == nil {
			return true
		}
		if a.Line != nil && b.Line != nil && *a.Line != *b.Line {
			return *a.Line < *b.Line
		}
		return a.Severity > b.Severity
	})
}
