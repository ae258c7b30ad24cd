// Package eval measures how often retrieval surfaces an expected keyword for
// a set of reference questions.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"scuolakb/internal/retrieval"
)

const DefaultTopK = 3

type Case struct {
	Question string   `yaml:"question" json:"question"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// DefaultCases are used when no cases file is given.
var DefaultCases = []Case{
	{Question: "Qual è l'ultima circolare USR Lazio sulle supplenze?", Keywords: []string{"supplenze", "USR Lazio"}},
	{Question: "Quando è stato pubblicato l'ultimo bando MIM per i concorsi docenti?", Keywords: []string{"bando", "concorso", "MIM"}},
	{Question: "Cosa prevede la legge sullo smart working per i docenti?", Keywords: []string{"smart working", "docenti"}},
}

type casesFile struct {
	Cases []Case `yaml:"cases"`
}

// LoadCases reads a YAML document of the form {cases: [{question, keywords}]}.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	var f casesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cases: %w", err)
	}
	for i, c := range f.Cases {
		if strings.TrimSpace(c.Question) == "" || len(c.Keywords) == 0 {
			return nil, fmt.Errorf("case %d: question and keywords are required", i+1)
		}
	}
	return f.Cases, nil
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
}

type CaseResult struct {
	Question string `json:"question"`
	Hit      bool   `json:"hit"`
	Matched  string `json:"matched,omitempty"`
	Results  int    `json:"results"`
	Error    string `json:"error,omitempty"`
}

type Report struct {
	Total    int          `json:"total"`
	Hits     int          `json:"hits"`
	HitRate  float64      `json:"hit_rate"`
	MissRate float64      `json:"miss_rate"`
	Cases    []CaseResult `json:"cases"`
}

// Run retrieves topK chunks per case and counts a hit when any keyword occurs,
// ignoring case, in their concatenated text. A question rejected as too short
// is a miss; any other retrieval error aborts the evaluation.
func Run(ctx context.Context, r Retriever, cases []Case, topK int) (*Report, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	rep := &Report{Total: len(cases), Cases: make([]CaseResult, 0, len(cases))}

	for _, c := range cases {
		res := CaseResult{Question: c.Question}
		results, err := r.Retrieve(ctx, c.Question, topK)
		switch {
		case errors.Is(err, retrieval.ErrQueryTooShort):
			res.Error = err.Error()
		case err != nil:
			return nil, fmt.Errorf("evaluate %q: %w", c.Question, err)
		default:
			res.Results = len(results)
			res.Matched = matchKeyword(results, c.Keywords)
			res.Hit = res.Matched != ""
		}
		if res.Hit {
			rep.Hits++
		}
		rep.Cases = append(rep.Cases, res)
	}

	if rep.Total > 0 {
		rep.HitRate = float64(rep.Hits) / float64(rep.Total)
		rep.MissRate = 1 - rep.HitRate
	}
	slog.InfoContext(ctx, "evaluation finished", "total", rep.Total, "hits", rep.Hits, "hit_rate", rep.HitRate)
	return rep, nil
}

func matchKeyword(results []retrieval.Result, keywords []string) string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	joined := strings.ToLower(strings.Join(texts, " "))
	for _, k := range keywords {
		if k != "" && strings.Contains(joined, strings.ToLower(k)) {
			return k
		}
	}
	return ""
}
