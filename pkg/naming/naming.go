// Package naming maps between subject filenames and the numbered output
// files the pipelines write.
package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultSubjectPattern matches names such as KKI2009-05-MPRAGE.nii.gz,
// capturing the subject number between the first two dashes.
const DefaultSubjectPattern = `^[^-]+-(\d+)-`

// DefaultExtension is the extension of every volume the pipelines write.
const DefaultExtension = ".nii.gz"

// ParseError reports a filename that does not carry a subject number.
type ParseError struct {
	Name    string
	Pattern string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse subject number from %q (pattern %s)", e.Name, e.Pattern)
}

// Parser extracts the 1-based subject number embedded in a filename.
type Parser struct {
	re *regexp.Regexp
}

// NewParser compiles pattern, which must contain exactly one capture group.
func NewParser(pattern string) (*Parser, error) {
	if pattern == "" {
		pattern = DefaultSubjectPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid subject pattern: %w", err)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("subject pattern %q must have exactly one capture group, has %d", pattern, re.NumSubexp())
	}
	return &Parser{re: re}, nil
}

// MustParser is NewParser for patterns known to be valid
func MustParser(pattern string) *Parser {
	p, err := NewParser(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// SubjectNumber returns the subject number in the base name of path.
func (p *Parser) SubjectNumber(path string) (int, error) {
	name := filepath.Base(path)
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return 0, &ParseError{Name: name, Pattern: p.re.String()}
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, &ParseError{Name: name, Pattern: p.re.String()}
	}
	return n, nil
}

// Namer derives output filenames.
type Namer struct {
	// Ext is appended to every derived name
	Ext string
}

// NewNamer returns a Namer for ext, defaulting to DefaultExtension.
func NewNamer(ext string) Namer {
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return Namer{Ext: ext}
}

// InitialTemplate is the average of every loaded image
func (n Namer) InitialTemplate() string { return "initialTemplate" + n.Ext }

// RandomFixed names the copy of a randomly chosen subject, e.g.
// randomFixedImage7.nii.gz.
func (n Namer) RandomFixed(subject int) string {
	return "randomFixedImage" + strconv.Itoa(subject) + n.Ext
}

// AffineTemplate is the ImageAccumulator output for affine templates
func (n Namer) AffineTemplate() string { return "affineTemplate" + n.Ext }

// DeformableAtlas is the ImageAccumulator output for deformable atlases
func (n Namer) DeformableAtlas() string { return "deformableAtlas" + n.Ext }

// Affine prefixes a subject filename with "af".
func (n Namer) Affine(filename string) string { return "af" + filepath.Base(filename) }

// Checkpoint names an intermediate deformable result, e.g. twenty3.nii.gz.
func (n Namer) Checkpoint(name string, subject int) string {
	return name + strconv.Itoa(subject) + n.Ext
}

// Ranged names an aggregate over subjects lower..upper, e.g.
// 1_10affineTemplate.nii.gz.
func (n Namer) Ranged(lower, upper int, kind string) string {
	return fmt.Sprintf("%d_%d%s%s", lower, upper, kind, n.Ext)
}

// Kinds of ranged aggregate files.
const (
	AffineTemplateKind     = "affineTemplate"
	AffineIntermediateKind = "affIntermediate"
	DeformableAtlasKind    = "deformableAtlas"
	DeformableInterKind    = "defIntermediate"
)
