package bench

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"
	"strings"

	"github.com/radutopala/toolsee/internal/toolmemory"
)

// Case is one benchmark query and the tools a correct selection must contain.
type Case struct {
	Query string   `json:"query"`
	Tools []string `json:"tool"`
}

// LoadCatalog reads a tool catalog mapping tool name to description
// (MetaTool plugin_des.json) and returns records sorted by name.
func LoadCatalog(path string) ([]toolmemory.ToolRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var catalog map[string]string
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	records := make([]toolmemory.ToolRecord, 0, len(catalog))
	for name, description := range catalog {
		records = append(records, toolmemory.ToolRecord{
			ID:       name,
			Metadata: map[string]any{"name": name, "description": description},
		})
	}
	slices.SortFunc(records, func(a, b toolmemory.ToolRecord) int { return strings.Compare(a.ID, b.ID) })
	return records, nil
}

// LoadMultiToolCases reads a JSON array of {"query": ..., "tool": [...]} objects
// (MetaTool multi_tool_query_golden.json). Cases without a query or tools are dropped.
func LoadMultiToolCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cases: %w", err)
	}

	var raw []Case
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse cases %s: %w", path, err)
	}

	cases := raw[:0]
	for _, c := range raw {
		if c.Query != "" && len(c.Tools) > 0 {
			cases = append(cases, c)
		}
	}
	return cases, nil
}

// LoadSingleToolCases reads a CSV with "query" and "tool" columns
// (MetaTool all_clean_data.csv). Without such header names the first two
// columns are used. Rows missing either value are skipped.
func LoadSingleToolCases(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cases: %w", err)
	}
	defer f.Close()

	return readSingleToolCases(f)
}

func readSingleToolCases(r io.Reader) ([]Case, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []Case{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	queryIdx, toolIdx := 0, 1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "query":
			queryIdx = i
		case "tool":
			toolIdx = i
		}
	}

	cases := []Case{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		if max(queryIdx, toolIdx) >= len(row) {
			continue
		}
		query, tool := row[queryIdx], row[toolIdx]
		if query == "" || tool == "" {
			continue
		}
		cases = append(cases, Case{Query: query, Tools: []string{tool}})
	}
	return cases, nil
}

// Sample returns n cases chosen without replacement by a generator seeded with seed.
// The same seed always yields the same sample. n <= 0 or n >= len(cases) returns all cases.
func Sample(cases []Case, n int, seed uint64) []Case {
	if n <= 0 || n >= len(cases) {
		return cases
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(len(cases))
	sampled := make([]Case, n)
	for i := range n {
		sampled[i] = cases[perm[i]]
	}
	return sampled
}
