package naming

import (
	"errors"
	"testing"
)

func TestSubjectNumber(t *testing.T) {
	p := MustParser(DefaultSubjectPattern)

	tests := []struct {
		name    string
		path    string
		want    int
		wantErr bool
	}{
		{"plain", "KKI2009-05-MPRAGE.nii.gz", 5, false},
		{"with directory", "/data/KKI2009-ALL-MPRAGE/KKI2009-21-MPRAGE.nii.gz", 21, false},
		{"three digits", "OAS1-113-T1.nii.gz", 113, false},
		{"template name", "affineTemplate.nii.gz", 0, true},
		{"non numeric", "KKI2009-ab-MPRAGE.nii.gz", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.SubjectNumber(tt.path)
			if tt.wantErr {
				var perr *ParseError
				if !errors.As(err, &perr) {
					t.Fatalf("Expected ParseError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SubjectNumber failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestNewParserValidation(t *testing.T) {
	if _, err := NewParser(`^(\d+)-(\d+)`); err == nil {
		t.Error("Expected error for two capture groups")
	}
	if _, err := NewParser(`([`); err == nil {
		t.Error("Expected error for invalid regexp")
	}
	p, err := NewParser("")
	if err != nil {
		t.Fatalf("Expected default pattern, got %v", err)
	}
	if n, _ := p.SubjectNumber("KKI2009-10-MPRAGE.nii.gz"); n != 10 {
		t.Errorf("Expected 10, got %d", n)
	}
}

func TestNamer(t *testing.T) {
	n := NewNamer("")
	tests := []struct {
		got, want string
	}{
		{n.InitialTemplate(), "initialTemplate.nii.gz"},
		{n.RandomFixed(7), "randomFixedImage7.nii.gz"},
		{n.AffineTemplate(), "affineTemplate.nii.gz"},
		{n.DeformableAtlas(), "deformableAtlas.nii.gz"},
		{n.Affine("/data/KKI2009-01-MPRAGE.nii.gz"), "afKKI2009-01-MPRAGE.nii.gz"},
		{n.Checkpoint("twenty", 3), "twenty3.nii.gz"},
		{n.Ranged(1, 10, AffineTemplateKind), "1_10affineTemplate.nii.gz"},
		{n.Ranged(11, 21, DeformableInterKind), "11_21defIntermediate.nii.gz"},
		{NewNamer("nrrd").Ranged(1, 2, AffineIntermediateKind), "1_2affIntermediate.nrrd"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, tt.got)
		}
	}
}
