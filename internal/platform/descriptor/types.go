// Package descriptor builds the XML documents that accompany a submission:
// the project and analysis descriptors and the submission documents that
// wrap them.
package descriptor

import "encoding/xml"

// Empty renders as an element without content.
type Empty struct{}

// ProjectSet is the root of a project descriptor.
type ProjectSet struct {
	XMLName xml.Name `xml:"PROJECT_SET"`
	Project Project  `xml:"PROJECT"`
}

// Project describes a study registered with the archive.
type Project struct {
	Alias             string            `xml:"alias,attr"`
	CenterName        string            `xml:"center_name,attr"`
	Title             string            `xml:"TITLE"`
	Description       string            `xml:"DESCRIPTION"`
	SubmissionProject SubmissionProject `xml:"SUBMISSION_PROJECT"`
}

type SubmissionProject struct {
	SequencingProject Empty `xml:"SEQUENCING_PROJECT"`
}

// Submission wraps a project or analysis descriptor.
type Submission struct {
	XMLName    xml.Name `xml:"SUBMISSION"`
	Alias      string   `xml:"alias,attr"`
	CenterName string   `xml:"center_name,attr"`
	Actions    []Action `xml:"ACTIONS>ACTION"`
}

// Action holds exactly one of Add or Release.
type Action struct {
	Add     *Add   `xml:"ADD,omitempty"`
	Release *Empty `xml:"RELEASE,omitempty"`
}

type Add struct {
	Source string `xml:"source,attr"`
	Schema string `xml:"schema,attr"`
}

// AnalysisSet is the root of an analysis descriptor.
type AnalysisSet struct {
	XMLName  xml.Name `xml:"ANALYSIS_SET"`
	Analysis Analysis `xml:"ANALYSIS"`
}

// Analysis describes one submitted artifact.
type Analysis struct {
	Alias        string       `xml:"alias,attr"`
	CenterName   string       `xml:"center_name,attr"`
	Title        string       `xml:"TITLE"`
	Description  string       `xml:"DESCRIPTION"`
	StudyRef     StudyRef     `xml:"STUDY_REF"`
	AnalysisType AnalysisType `xml:"ANALYSIS_TYPE"`
	Files        []File       `xml:"FILES>FILE"`
}

type StudyRef struct {
	Accession string `xml:"accession,attr"`
	Text      string `xml:",chardata"`
}

type AnalysisType struct {
	SequenceFlatfile Empty `xml:"SEQUENCE_FLATFILE"`
}

type File struct {
	Checksum       string `xml:"checksum,attr"`
	ChecksumMethod string `xml:"checksum_method,attr"`
	Filename       string `xml:"filename,attr"`
	Filetype       string `xml:"filetype,attr"`
}
