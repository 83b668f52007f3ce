package scanning

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
)

// ScanXML is the root element for XML serialization of scan results.
type ScanXML struct {
	XMLName   xml.Name  `xml:"scanresult"`
	ID        string    `xml:"id,attr"`
	Target    string    `xml:"target,attr"`
	Workers   int       `xml:"workers,attr"`
	StartTime string    `xml:"start_time,attr"`
	EndTime   string    `xml:"end_time,attr"`
	Duration  string    `xml:"duration,attr"`
	Ports     []PortXML `xml:"port"`
}

// PortXML represents one open port for XML serialization.
type PortXML struct {
	Number   uint16 `xml:"number,attr"`
	Protocol string `xml:"protocol,attr"`
	State    string `xml:"state,attr"`
}

// SaveResults writes scan results to filePath. Files ending in .json are
// written as JSON, anything else as indented XML.
func SaveResults(result *Result, filePath string) error {
	if result == nil {
		return fmt.Errorf("cannot save nil result")
	}
	if err := validateFilePath(filePath); err != nil {
		return errors.WrapScanError(errors.CodeFilePermission, "invalid output path", err)
	}

	var data []byte
	var err error
	if isJSONPath(filePath) {
		data, err = json.MarshalIndent(result, "", "  ")
	} else {
		data, err = xml.MarshalIndent(toXML(result), "", "  ")
		data = append([]byte(xml.Header), data...)
	}
	if err != nil {
		return errors.WrapScanError(errors.CodeScanFailed, "failed to encode results", err)
	}

	if err := os.WriteFile(filePath, append(data, '\n'), 0o644); err != nil { //nolint:gosec // path is validated
		return errors.WrapScanError(errors.CodeFilePermission, "failed to write results", err)
	}

	logging.Debug("Saved scan results", "path", filePath, "open_ports", len(result.OpenPorts))
	return nil
}

// LoadResults reads results previously written by SaveResults.
func LoadResults(filePath string) (*Result, error) {
	if err := validateFilePath(filePath); err != nil {
		return nil, errors.WrapScanError(errors.CodeFilePermission, "invalid input path", err)
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // path is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapScanError(errors.CodeFileNotFound, "results file not found", err)
		}
		return nil, errors.WrapScanError(errors.CodeFilePermission, "failed to read results", err)
	}

	if isJSONPath(filePath) {
		var result Result
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, errors.WrapScanError(errors.CodeScanFailed, "failed to decode JSON results", err)
		}
		return &result, nil
	}

	var doc ScanXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapScanError(errors.CodeScanFailed, "failed to decode XML results", err)
	}
	return fromXML(&doc)
}

func toXML(result *Result) *ScanXML {
	doc := &ScanXML{
		ID:        result.ID,
		Target:    result.Target.String(),
		Workers:   result.Workers,
		StartTime: result.StartTime.Format(time.RFC3339Nano),
		EndTime:   result.EndTime.Format(time.RFC3339Nano),
		Duration:  result.Duration.String(),
		Ports:     make([]PortXML, len(result.OpenPorts)),
	}
	for i, p := range result.OpenPorts {
		doc.Ports[i] = PortXML{Number: p, Protocol: "tcp", State: StateOpen}
	}
	return doc
}

func fromXML(doc *ScanXML) (*Result, error) {
	target, err := netip.ParseAddr(doc.Target)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeTargetInvalid, "invalid target in results", err)
	}

	result := &Result{
		ID:        doc.ID,
		Target:    target,
		Workers:   doc.Workers,
		OpenPorts: make([]uint16, len(doc.Ports)),
	}
	for i, p := range doc.Ports {
		result.OpenPorts[i] = p.Number
	}

	// Timing attributes are informational; a malformed value leaves the zero time.
	result.StartTime, _ = time.Parse(time.RFC3339Nano, doc.StartTime)
	result.EndTime, _ = time.Parse(time.RFC3339Nano, doc.EndTime)
	result.Duration, _ = time.ParseDuration(doc.Duration)
	return result, nil
}

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// validateFilePath validates that the file path is safe to use.
func validateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if strings.Contains(filepath.Clean(path), "..") {
		return fmt.Errorf("path contains directory traversal")
	}
	return nil
}
