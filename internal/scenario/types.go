// Package scenario runs labeled request suites through the live pipeline
// and reports detection quality. Suites are YAML files; each case carries
// the expected action and, for threats, the expected threat type.
package scenario

// CaseRequest is the request material under test.
type CaseRequest struct {
	Prompt   string `yaml:"prompt,omitempty"`
	ToolCall string `yaml:"tool_call,omitempty"`
	Context  string `yaml:"context,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`
	Tool     string `yaml:"tool,omitempty"`
}

// Case is one labeled request within a suite.
type Case struct {
	Name    string      `yaml:"name,omitempty"`
	Request CaseRequest `yaml:"request"`
	// Expect is the expected action: allow, block, or confirm.
	Expect string `yaml:"expect"`
	// Threat is the expected threat type; empty or benign marks the case
	// as a negative for detection metrics.
	Threat string `yaml:"threat,omitempty"`
}

// Suite is a named collection of labeled cases.
type Suite struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one case.
type CaseResult struct {
	Index    int     `json:"index"`
	Name     string  `json:"name,omitempty"`
	Passed   bool    `json:"passed"`
	Expected string  `json:"expected"`
	Actual   string  `json:"actual"`
	Threat   string  `json:"threat"`
	Risk     float64 `json:"risk"`
	Reason   string  `json:"reason"`
}

// Detection summarizes threat-detection quality over a run. A case counts
// as positive when its label names a threat; a prediction counts as
// positive when the decision is not ALLOW.
type Detection struct {
	TruePositives     int     `json:"true_positives"`
	FalsePositives    int     `json:"false_positives"`
	TrueNegatives     int     `json:"true_negatives"`
	FalseNegatives    int     `json:"false_negatives"`
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
}

// RunResult is the outcome of running one suite.
type RunResult struct {
	File      string       `json:"file,omitempty"`
	Name      string       `json:"name"`
	Total     int          `json:"total"`
	Passed    int          `json:"passed"`
	Failed    int          `json:"failed"`
	Accuracy  float64      `json:"accuracy"`
	Detection Detection    `json:"detection"`
	Cases     []CaseResult `json:"cases"`
}
