package packaging

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Manifest is the key-value control file describing a batch to the
// submission tool.
type Manifest struct {
	Study       string
	Name        string
	Flatfile    string
	Tool        string
	ToolVersion string
}

// Render returns the manifest as tab-separated key/value lines. FLATFILE is
// always the base name of the artifact.
func (m Manifest) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "STUDY\t%s\n", m.Study)
	fmt.Fprintf(&b, "NAME\t%s\n", m.Name)
	fmt.Fprintf(&b, "FLATFILE\t%s\n", filepath.Base(m.Flatfile))
	fmt.Fprintf(&b, "SUBMISSION_TOOL\t%s\n", m.Tool)
	fmt.Fprintf(&b, "SUBMISSION_TOOL_VERSION\t%s\n", m.ToolVersion)
	return b.String()
}

// WriteManifest writes m to path.
func WriteManifest(path string, m Manifest) error {
	if err := os.WriteFile(path, []byte(m.Render()), 0o644); err != nil {
		return fmt.Errorf("packaging: write manifest: %w", err)
	}
	return nil
}

// MD5File returns the hex MD5 of the file at path.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("packaging: open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("packaging: hash %s: %w", path, err)
	}
	return hexSum(h), nil
}
