package report

import (
	"fmt"
	"sort"
	"strings"
)

// Run pairs a run identifier (usually the run directory name) with its
// extracted metrics.
type Run struct {
	ID      string
	Metrics []Metric
}

// FormatSummary renders the metrics as markdown: a main summary table plus a
// per-language breakdown for MGSM multilingual-math tasks.
func FormatSummary(metrics []Metric) string {
	var mgsm, others []Metric
	for _, m := range metrics {
		if strings.HasPrefix(m.Task, "mgsm_") {
			mgsm = append(mgsm, m)
		} else {
			others = append(others, m)
		}
	}

	var out []string
	if len(others) > 0 {
		out = append(out,
			"## Model Evaluation Summary",
			"",
			"| Task Name | Metric Name | Score (Value) | Standard Error (Stderr) |",
			"| :--- | :--- | :--- | :--- |",
		)
		sort.Slice(others, func(i, j int) bool {
			ti, tj := strings.ToLower(others[i].Task), strings.ToLower(others[j].Task)
			if ti != tj {
				return ti < tj
			}
			return others[i].Metric < others[j].Metric
		})
		for _, m := range others {
			out = append(out, fmt.Sprintf("| %s | %s | %s | %s |", m.Task, m.Metric, m.Value, m.Stderr))
		}
		out = append(out, "")
	}

	if len(mgsm) > 0 {
		out = append(out,
			"## Multilingual Math (MGSM) Results",
			"",
			"This table breaks down results for the MGSM task by language and prompt type.",
			"",
			"| Language | Prompt Type | Flexible Extract (Score) | Strict Match (Score) |",
			"| :--- | :--- | :--- | :--- |",
		)
		out = append(out, mgsmRows(mgsm)...)
	}

	return strings.Join(out, "\n")
}

// mgsmRows groups MGSM metrics by (language, prompt type), one row each.
// Task names look like mgsm_en_cot_bn or mgsm_native_cot_es: the language is
// the last underscore token, the prompt type is native vs English.
func mgsmRows(metrics []Metric) []string {
	type key struct{ lang, prompt string }
	type scores struct{ flexible, strict string }

	grouped := make(map[key]*scores)
	for _, m := range metrics {
		parts := strings.Split(m.Task, "_")
		k := key{lang: strings.ToUpper(parts[len(parts)-1]), prompt: "English"}
		if strings.Contains(m.Task, "native") {
			k.prompt = "Native"
		}
		s, ok := grouped[k]
		if !ok {
			s = &scores{flexible: "N/A", strict: "N/A"}
			grouped[k] = s
		}
		switch {
		case strings.Contains(m.Metric, "flexible-extract"):
			s.flexible = m.Value
		case strings.Contains(m.Metric, "strict-match"):
			s.strict = m.Value
		}
	}

	keys := make([]key, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].lang != keys[j].lang {
			return keys[i].lang < keys[j].lang
		}
		return keys[i].prompt < keys[j].prompt
	})

	rows := make([]string, 0, len(keys))
	for _, k := range keys {
		s := grouped[k]
		rows = append(rows, fmt.Sprintf("| %s | %s | %s | %s |", k.lang, k.prompt, s.flexible, s.strict))
	}
	return rows
}

// FormatComparison renders a side-by-side markdown table of the same metrics
// across multiple runs, with N/A where a run lacks a metric.
func FormatComparison(runs []Run) string {
	ids := make([]string, len(runs))
	values := make(map[[2]string]map[string]string)
	for i, run := range runs {
		ids[i] = run.ID
		for _, m := range run.Metrics {
			key := [2]string{m.Task, m.Metric}
			if values[key] == nil {
				values[key] = make(map[string]string)
			}
			values[key][run.ID] = m.Value
		}
	}
	sort.Strings(ids)

	keys := make([][2]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := strings.ToLower(keys[i][0]), strings.ToLower(keys[j][0])
		if ti != tj {
			return ti < tj
		}
		return keys[i][1] < keys[j][1]
	})

	header := "| Task Name | Metric Name |"
	sep := "| :--- | :--- |"
	for _, id := range ids {
		header += fmt.Sprintf(" %s |", id)
		sep += " :--- |"
	}

	out := []string{"## Run Comparison", "", header, sep}
	for _, k := range keys {
		row := fmt.Sprintf("| %s | %s |", k[0], k[1])
		for _, id := range ids {
			v, ok := values[k][id]
			if !ok {
				v = "N/A"
			}
			row += fmt.Sprintf(" %s |", v)
		}
		out = append(out, row)
	}
	return strings.Join(out, "\n")
}
