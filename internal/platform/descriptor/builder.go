package descriptor

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Schemas referenced by submission ADD actions.
const (
	SchemaProject  = "project"
	SchemaAnalysis = "analysis"
)

// ProjectInfo holds the inputs of a project descriptor.
type ProjectInfo struct {
	Alias       string
	CenterName  string
	Title       string
	Description string
}

// AnalysisInfo holds the inputs of an analysis descriptor.
type AnalysisInfo struct {
	Alias          string
	CenterName     string
	Title          string
	Description    string
	StudyAccession string
	Checksum       string
	Artifact       string // path or name of the artifact; only the base name is used
}

// NewProject builds a project descriptor.
func NewProject(p ProjectInfo) *ProjectSet {
	return &ProjectSet{
		Project: Project{
			Alias:       p.Alias,
			CenterName:  p.CenterName,
			Title:       p.Title,
			Description: p.Description,
		},
	}
}

// NewProjectSubmission builds the submission adding the project descriptor
// stored as projectFile and releasing it immediately.
func NewProjectSubmission(alias, centerName, projectFile string) *Submission {
	return &Submission{
		Alias:      alias,
		CenterName: centerName,
		Actions: []Action{
			{Add: &Add{Source: filepath.Base(projectFile), Schema: SchemaProject}},
			{Release: &Empty{}},
		},
	}
}

// NewAnalysis builds an analysis descriptor for a flat-file artifact.
func NewAnalysis(a AnalysisInfo) *AnalysisSet {
	return &AnalysisSet{
		Analysis: Analysis{
			Alias:       a.Alias,
			CenterName:  a.CenterName,
			Title:       a.Title,
			Description: a.Description,
			StudyRef:    StudyRef{Accession: a.StudyAccession, Text: " "},
			Files: []File{{
				Checksum:       a.Checksum,
				ChecksumMethod: "MD5",
				Filename:       filepath.Base(a.Artifact),
				Filetype:       "flatfile",
			}},
		},
	}
}

// NewAnalysisSubmission builds the submission adding the analysis descriptor
// stored as analysisFile.
func NewAnalysisSubmission(alias, centerName, analysisFile string) *Submission {
	return &Submission{
		Alias:      alias,
		CenterName: centerName,
		Actions: []Action{
			{Add: &Add{Source: filepath.Base(analysisFile), Schema: SchemaAnalysis}},
		},
	}
}

// Marshal pretty-prints a descriptor with tab indentation and an XML
// declaration.
func Marshal(v any) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("descriptor: failed to marshal XML: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// WriteFile marshals v to path.
func WriteFile(path string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("descriptor: write %s: %w", path, err)
	}
	return nil
}

// ParseStudy returns the first TITLE and DESCRIPTION texts of a study or
// project document.
func ParseStudy(r io.Reader) (title, description string, err error) {
	dec := xml.NewDecoder(r)
	var seenTitle, seenDesc bool
	for !(seenTitle && seenDesc) {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", fmt.Errorf("descriptor: parse study: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case start.Name.Local == "TITLE" && !seenTitle:
			if err := dec.DecodeElement(&title, &start); err != nil {
				return "", "", fmt.Errorf("descriptor: parse study title: %w", err)
			}
			seenTitle = true
		case start.Name.Local == "DESCRIPTION" && !seenDesc:
			if err := dec.DecodeElement(&description, &start); err != nil {
				return "", "", fmt.Errorf("descriptor: parse study description: %w", err)
			}
			seenDesc = true
		}
	}
	if !seenTitle {
		return "", "", fmt.Errorf("descriptor: parse study: no TITLE element")
	}
	return strings.TrimSpace(title), strings.TrimSpace(description), nil
}
