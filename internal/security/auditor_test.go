package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditChineseLiteral(t *testing.T) {
	a := New(nil, nil)
	report, _, err := a.Audit(context.Background(), `contract X { string s = "你好"; }`, Options{
		Depth: DepthStandard, SeverityFloor: SeverityInfo,
	})
	require.NoError(t, err)

	require.Len(t, report.Issues, 1)
	assert.Equal(t, "Chinese Characters in String", report.Issues[0].Title)
	assert.Equal(t, SeverityCritical, report.Issues[0].Severity)

	assert.Equal(t, 100.0, report.Score.SecurityScore)
	assert.Equal(t, 80.0, report.Score.QualityScore)
	assert.Equal(t, 95.0, report.Score.OverallScore)
}

func TestAuditReservedParamAndDangerousTransfer(t *testing.T) {
	a := New(nil, nil)
	report, _, err := a.Audit(context.Background(), `function f(uint256 days) external { msg.sender.transfer(1); }`, Options{
		Depth: DepthStandard, SeverityFloor: SeverityInfo,
	})
	require.NoError(t, err)

	assert.Equal(t, 80.0, report.Score.SecurityScore)
	assert.Equal(t, 75.0, report.Score.QualityScore)
	assert.Equal(t, 100.0, report.Score.GasEfficiencyScore)
	assert.Equal(t, 100.0, report.Score.MaintainabilityScore)
	assert.Equal(t, 88.75, report.Score.OverallScore)

	var titles []string
	for _, iss := range report.Issues {
		titles = append(titles, iss.Title)
	}
	assert.Contains(t, titles, "Reserved Keyword as Parameter")
	assert.Contains(t, titles, "Dangerous transfer() Usage")
	assert.Contains(t, titles, "Missing Reentrancy Protection")
	assert.Contains(t, titles, "Outdated or Missing Pragma")
	assert.NotContains(t, titles, "Missing Access Control", "bare function source has no \"contract\" substring, so the access-control check is gated off")

	for _, iss := range report.Issues {
		switch iss.Title {
		case "Reserved Keyword as Parameter", "Dangerous transfer() Usage":
			require.NotNil(t, iss.Line)
			assert.Equal(t, 1, *iss.Line)
		default:
			assert.Nil(t, iss.Line, "whole-source missing-feature checks carry no line number")
		}
	}
}

func TestAuditEmptySourceIsPristine(t *testing.T) {
	a := New(nil, nil)
	report, conf, err := a.Audit(context.Background(), "", Options{Depth: DepthStandard, SeverityFloor: SeverityInfo})
	require.NoError(t, err)

	assert.Empty(t, report.Issues)
	assert.Equal(t, 100.0, report.Score.OverallScore)
	assert.Len(t, report.Recommendations, 3)
	assert.Greater(t, conf, 0.9)
}

func TestAuditComprehensiveDepthSkipsFloorFiltering(t *testing.T) {
	a := New(nil, nil)
	source := `function f(uint256 days) external { msg.sender.transfer(1); }`

	standard, _, err := a.Audit(context.Background(), source, Options{Depth: DepthStandard, SeverityFloor: SeverityHigh})
	require.NoError(t, err)
	comprehensive, _, err := a.Audit(context.Background(), source, Options{Depth: DepthComprehensive, SeverityFloor: SeverityHigh})
	require.NoError(t, err)

	assert.Less(t, len(standard.Issues), len(comprehensive.Issues))
	assert.Equal(t, comprehensive.Summary.TotalIssues, len(comprehensive.Issues))
	assert.Less(t, len(standard.Issues), standard.Summary.TotalIssues)
}

func TestAuditSeverityFloorFiltersBothListAndScoreAtStandardDepth(t *testing.T) {
	a := New(nil, nil)
	source := `function f(uint256 days) external { msg.sender.transfer(1); }`

	unfiltered, _, err := a.Audit(context.Background(), source, Options{Depth: DepthStandard, SeverityFloor: SeverityInfo})
	require.NoError(t, err)
	filtered, _, err := a.Audit(context.Background(), source, Options{Depth: DepthStandard, SeverityFloor: SeverityCritical})
	require.NoError(t, err)

	assert.Greater(t, unfiltered.Score.QualityScore, 0.0)
	assert.Less(t, unfiltered.Score.QualityScore, filtered.Score.QualityScore, "dropping the High/Medium findings from the scoring set should raise quality")
	for _, iss := range filtered.Issues {
		assert.Equal(t, SeverityCritical, iss.Severity)
	}
}

func TestAuditIssuesSortedByLineThenSeverityDescending(t *testing.T) {
	source := "function a() external {}\n" +
		"function b() external { msg.sender.transfer(1); }\n"
	a := New(nil, nil)
	report, _, err := a.Audit(context.Background(), source, Options{Depth: DepthStandard, SeverityFloor: SeverityInfo})
	require.NoError(t, err)

	for i := 1; i < len(report.Issues); i++ {
		prev, cur := report.Issues[i-1], report.Issues[i]
		if prev.Line == nil || cur.Line == nil {
			continue
		}
		if *prev.Line == *cur.Line {
			assert.GreaterOrEqual(t, prev.Severity, cur.Severity)
		} else {
			assert.Less(t, *prev.Line, *cur.Line)
		}
	}
}
