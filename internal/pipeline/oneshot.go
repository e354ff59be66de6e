package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"vyapaar/internal"
)

// Analysis is the result of cleaning and analyzing one table.
type Analysis struct {
	Insights Insights `json:"insights"`
	Advice   string   `json:"smart_suggestion"`
	Rows     int      `json:"rows"`
}

type Analyzer struct {
	Options InsightOptions
	Advisor Advisor
}

func NewAnalyzer(opts InsightOptions, advisor Advisor) *Analyzer {
	if advisor == nil {
		advisor = RuleAdvisor{}
	}
	return &Analyzer{Options: opts, Advisor: advisor}
}

func (a *Analyzer) Analyze(ctx context.Context, raw internal.RawTable) (Analysis, error) {
	table, err := Clean(raw)
	if err != nil {
		return Analysis{}, err
	}
	return a.AnalyzeClean(ctx, table), nil
}

// AnalyzeClean never fails: an advisor error falls back to rule-based advice.
func (a *Analyzer) AnalyzeClean(ctx context.Context, table internal.SalesTable) Analysis {
	ins := ComputeInsightsWith(table, a.Options)
	advice := ""
	if a.Advisor != nil {
		if text, err := a.Advisor.Advise(ctx, ins); err == nil {
			advice = text
		}
	}
	if advice == "" {
		advice = GenerateAdvice(ins)
	}
	return Analysis{Insights: ins, Advice: advice, Rows: len(table.Rows)}
}

func ParseInputType(inputType string) (internal.TableSource, error) {
	switch strings.ToLower(strings.TrimSpace(inputType)) {
	case "csv":
		return internal.SourceCSV, nil
	case "xlsx", "excel":
		return internal.SourceXLSX, nil
	case "html", "html_table":
		return internal.SourceHTMLTable, nil
	case "email", "eml":
		return internal.SourceEmail, nil
	default:
		return "", fmt.Errorf("unsupported input type: %s", inputType)
	}
}

// ReadInputFile reads a table from disk. An empty inputType is guessed from
// the file extension.
func ReadInputFile(inputType, path string) (internal.RawTable, internal.TableSource, error) {
	var (
		source internal.TableSource
		err    error
	)
	if strings.TrimSpace(inputType) == "" {
		var ok bool
		if source, ok = SourceFromFilename(path); !ok {
			return internal.RawTable{}, "", fmt.Errorf("cannot guess input type of %s", path)
		}
	} else if source, err = ParseInputType(inputType); err != nil {
		return internal.RawTable{}, "", err
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return internal.RawTable{}, "", err
	}
	raw, err := ReadTable(source, blob)
	return raw, source, err
}
