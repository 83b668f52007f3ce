package scanning

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Output formats accepted by PrintResults.
const (
	FormatText  = "text"
	FormatTable = "table"
	FormatJSON  = "json"
)

// PrintResults renders result to w in the requested format.
// The text format is one "<port> is open" line per open port.
func PrintResults(w io.Writer, result *Result, format string) error {
	if result == nil {
		return fmt.Errorf("no results available")
	}

	switch format {
	case "", FormatText:
		for _, line := range result.Lines() {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	case FormatTable:
		return printTable(w, result)
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func printTable(w io.Writer, result *Result) error {
	if _, err := fmt.Fprintf(w, "Target: %s  Workers: %d  Duration: %v\n",
		result.Target, result.Workers, result.Duration); err != nil {
		return err
	}

	if len(result.OpenPorts) == 0 {
		_, err := fmt.Fprintln(w, "No open ports found")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Port", "Protocol", "State")
	for _, p := range result.OpenPorts {
		if err := table.Append([]string{strconv.Itoa(int(p)), "tcp", StateOpen}); err != nil {
			return err
		}
	}
	return table.Render()
}
