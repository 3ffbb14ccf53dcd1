package security

import "regexp"

type syntaxRule struct {
	name        string
	pattern     *regexp.Regexp
	severity    Severity
	description string
	suggestion  string
}

type securityRule struct {
	name        string
	pattern     *regexp.Regexp
	severity    Severity
	description string
	suggestion  string
	category    Category
	references  []string
}

type bestPracticeRule struct {
	name        string
	pattern     *regexp.Regexp
	severity    Severity
	description string
	suggestion  string
}

// syntaxRules reproduces the original's syntax_rules table verbatim.
var syntaxRules = []syntaxRule{
	{
		name:        "Chinese Characters in String",
		pattern:     regexp.MustCompile(`[\x{4e00}-\x{9fff}]`),
		severity:    SeverityCritical,
		description: "String contains Chinese characters, Solidity doesn't support Unicode string literals",
		suggestion:  `Replace Chinese characters with English or use unicode"..." format`,
	},
	{
		name:        "Reserved Keyword as Parameter",
		pattern:     regexp.MustCompile(`\b(days|hours|minutes|seconds|weeks|years|wei|gwei|ether)\s*[,)]`),
		severity:    SeverityCritical,
		description: "Using Solidity reserved keyword as parameter name",
		suggestion:  "Add underscore prefix to parameter name, e.g., _days, _hours",
	},
}

// securityRules reproduces the original's security_rules table verbatim.
var securityRules = []securityRule{
	{
		name:        "Dangerous transfer() Usage",
		pattern:     regexp.MustCompile(`\.transfer\s*\(`),
		severity:    SeverityHigh,
		description: "Using .transfer() may cause gas limit issues",
		suggestion:  `Use .call{value: amount}("") instead`,
		category:    CategoryExternalCalls,
		references:  []string{"https://consensys.github.io/smart-contract-best-practices/attacks/reentrancy/"},
	},
	{
		name:        "tx.origin Usage",
		pattern:     regexp.MustCompile(`\btx\.origin\b`),
		severity:    SeverityHigh,
		description: "Using tx.origin is vulnerable to phishing attacks",
		suggestion:  "Use msg.sender instead",
		category:    CategoryAccessControl,
		references:  []string{"https://docs.openzeppelin.com/contracts/4.x/access-control"},
	},
	{
		name:        "Block Timestamp Dependency",
		pattern:     regexp.MustCompile(`\bblock\.timestamp\b`),
		severity:    SeverityMedium,
		description: "Direct use of block.timestamp can be manipulated by miners",
		suggestion:  "Be aware of timestamp manipulation attacks",
		category:    CategoryTimeDependency,
	},
}

// bestPracticeRules reproduces the original's best_practice_rules table.
var bestPracticeRules = []bestPracticeRule{
	{
		name:        "Missing Input Validation",
		pattern:     regexp.MustCompile(`function\s+\w+.*external.*payable`),
		severity:    SeverityMedium,
		description: "Payable function may lack proper input validation",
		suggestion:  "Add require statements to validate inputs",
	},
}

func deduction(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 20
	case SeverityHigh:
		return 10
	case SeverityMedium:
		return 5
	case SeverityLow:
		return 2
	default:
		return 0.5
	}
}

func scoreBucket(cat Category) string {
	switch cat {
	case CategoryReentrancyAttack, CategoryAccessControl, CategoryExternalCalls:
		return "security"
	case CategoryBestPractice, CategorySyntax:
		return "quality"
	case CategoryGasOptimization:
		return "gas"
	default:
		return "maintainability"
	}
}
