package descriptor

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewProject(t *testing.T) {
	doc := NewProject(ProjectInfo{
		Alias:       "ABC_2024_01",
		CenterName:  "DKMS LIFE SCIENCE LAB",
		Title:       "Novel HLA alleles",
		Description: "Alleles found in routine typing",
	})
	out, err := Marshal(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(out)

	if !strings.HasPrefix(s, xml.Header) {
		t.Error("expected XML declaration")
	}
	for _, want := range []string{
		`<PROJECT_SET>`,
		`<PROJECT alias="ABC_2024_01" center_name="DKMS LIFE SCIENCE LAB">`,
		"\t\t<TITLE>Novel HLA alleles</TITLE>",
		`<DESCRIPTION>Alleles found in routine typing</DESCRIPTION>`,
		`<SEQUENCING_PROJECT></SEQUENCING_PROJECT>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in\n%s", want, s)
		}
	}
}

func TestNewProjectSubmission(t *testing.T) {
	out, err := Marshal(NewProjectSubmission("ABC_2024_01", "LAB", "/p/ABC_2024_01_project.xml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(out)
	for _, want := range []string{
		`<SUBMISSION alias="ABC_2024_01" center_name="LAB">`,
		`<ADD source="ABC_2024_01_project.xml" schema="project"></ADD>`,
		`<RELEASE></RELEASE>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in\n%s", want, s)
		}
	}
	if strings.Count(s, "<ACTION>") != 2 {
		t.Errorf("expected two actions, got\n%s", s)
	}
}

func TestNewAnalysis(t *testing.T) {
	doc := NewAnalysis(AnalysisInfo{
		Alias:          "ABC_2024_01",
		CenterName:     "LAB",
		Title:          "t",
		Description:    "d",
		StudyAccession: "PRJEB12345",
		Checksum:       "0123456789abcdef0123456789abcdef",
		Artifact:       "/p/ABC_2024_flatfile.txt.gz",
	})
	out, err := Marshal(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(out)
	for _, want := range []string{
		`<ANALYSIS alias="ABC_2024_01" center_name="LAB">`,
		`<STUDY_REF accession="PRJEB12345"> </STUDY_REF>`,
		`<SEQUENCE_FLATFILE></SEQUENCE_FLATFILE>`,
		`<FILE checksum="0123456789abcdef0123456789abcdef" checksum_method="MD5" filename="ABC_2024_flatfile.txt.gz" filetype="flatfile"></FILE>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in\n%s", want, s)
		}
	}

	sub, err := Marshal(NewAnalysisSubmission("ABC_2024_01", "LAB", "ABC_2024_01_analysis.xml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(sub), `<ADD source="ABC_2024_01_analysis.xml" schema="analysis"></ADD>`) {
		t.Errorf("unexpected submission\n%s", sub)
	}
	if strings.Contains(string(sub), "RELEASE") {
		t.Error("analysis submission must not release")
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	info := ProjectInfo{Alias: "a", CenterName: "c", Title: "t", Description: "d"}
	first, _ := Marshal(NewProject(info))
	second, _ := Marshal(NewProject(info))
	if !bytes.Equal(first, second) {
		t.Error("identical input produced different output")
	}
}

func TestParseStudy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.xml")
	if err := WriteFile(path, NewProject(ProjectInfo{Alias: "a", CenterName: "c", Title: "My study", Description: "About & more"})); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	title, desc, err := ParseStudy(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "My study" || desc != "About & more" {
		t.Errorf("got (%q, %q)", title, desc)
	}

	if _, _, err := ParseStudy(strings.NewReader("<PROJECT_SET></PROJECT_SET>")); err == nil {
		t.Error("expected an error for a document without TITLE")
	}
}
