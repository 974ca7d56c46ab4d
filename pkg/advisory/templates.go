package advisory

// Confusion categories used to pick template suggestions.
const (
	categoryLow    = "low_confusion"
	categoryMedium = "medium_confusion"
	categoryHigh   = "high_confusion"
)

// FallbackSuggestion is the single suggestion substituted when the whole
// advisory pipeline fails.
const FallbackSuggestion = "Take a moment to breathe and approach this step by step."

// helpTemplates are the canned suggestions per subject and confusion
// category, used by the mock provider and merged in as a safety net
// behind AI-generated suggestions.
var helpTemplates = map[string]map[string][]string{
	"mathematics": {
		categoryLow: {
			"You're doing well! Take your time with each step.",
			"Consider double-checking your work so far.",
			"Try writing out intermediate steps clearly.",
		},
		categoryMedium: {
			"Break this problem into smaller steps.",
			"Review the relevant formulas or concepts.",
			"Try working through a similar, simpler example first.",
		},
		categoryHigh: {
			"Take a step back and identify what the problem is asking.",
			"Look for patterns or keywords that indicate the approach needed.",
			"Consider reviewing the underlying concepts before continuing.",
		},
	},
	"programming": {
		categoryLow: {
			"Good progress! Consider adding comments to clarify your logic.",
			"Test your code incrementally as you build.",
			"Think about edge cases for your solution.",
		},
		categoryMedium: {
			"Break down the problem into smaller functions.",
			"Use print statements or debugger to trace execution.",
			"Review the documentation for methods you're using.",
		},
		categoryHigh: {
			"Start with pseudocode to plan your approach.",
			"Look for similar examples or patterns online.",
			"Consider asking for help with the specific concept you're stuck on.",
		},
	},
	"general": {
		categoryLow: {
			"You're on the right track! Keep going.",
			"Take a moment to organize your thoughts.",
			"Consider reviewing what you've learned so far.",
		},
		categoryMedium: {
			"Try explaining the problem to yourself out loud.",
			"Look for connections to concepts you already know.",
			"Take a short break and come back with fresh eyes.",
		},
		categoryHigh: {
			"Don't worry - confusion is part of learning!",
			"Try to identify exactly what's confusing you.",
			"Consider seeking help from a teacher or peer.",
		},
	},
}

// categorize maps a confusion level to a template category.
func categorize(level float64) string {
	switch {
	case level < 0.3:
		return categoryLow
	case level < 0.7:
		return categoryMedium
	default:
		return categoryHigh
	}
}

// templateSuggestions returns the canned suggestions for a subject and
// confusion level, falling back to the general set for unknown subjects.
func templateSuggestions(subject string, level float64) []string {
	templates, ok := helpTemplates[subject]
	if !ok {
		templates = helpTemplates["general"]
	}
	category := categorize(level)
	suggestions, ok := templates[category]
	if !ok {
		suggestions = templates[categoryMedium]
	}
	return append([]string(nil), suggestions...)
}
