package ants

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"mriatlas/pkg/engine"
)

// defaultSyNIterations is the SyN schedule used when the caller does not
// supply one.
var defaultSyNIterations = []int{40, 20, 0}

// schedule joins iteration counts the way antsRegistration expects them.
func schedule(iterations []int) string {
	parts := make([]string, len(iterations))
	for i, n := range iterations {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "x")
}

// pyramid returns the shrink factors and smoothing sigmas that match a
// schedule of the given number of levels, coarsest level first.
func pyramid(levels int) (shrink, smooth string) {
	f := make([]string, levels)
	s := make([]string, levels)
	for k := 0; k < levels; k++ {
		f[k] = strconv.Itoa(int(math.Pow(2, float64(levels-1-k))))
		s[k] = strconv.Itoa(levels - 1 - k)
	}
	return strings.Join(f, "x"), strings.Join(s, "x")
}

// registrationArgs builds the antsRegistration argument vector.
func registrationArgs(dim int, fixed, moving, prefix string, kind engine.TransformKind, iterations []int) ([]string, error) {
	pair := fixed + "," + moving
	args := []string{
		"-d", strconv.Itoa(dim),
		"-r", "[" + pair + ",1]",
		"-u", "1",
		"-z", "1",
		"-v", "0",
		"-o", prefix,
	}

	switch kind {
	case engine.AffineFast:
		args = append(args,
			"-m", "MI["+pair+",1,32,Regular,0.2]",
			"-t", "Affine[0.25]",
			"-c", "[2100x1200x0x0,1e-6,10]",
			"-s", "3x2x1x0",
			"-f", "4x2x2x1",
		)
	case engine.ElasticSyN:
		if len(iterations) == 0 {
			iterations = defaultSyNIterations
		}
		shrink, smooth := pyramid(len(iterations))
		args = append(args,
			"-m", "MI["+pair+",1,32,Regular,0.2]",
			"-t", "Affine[0.25]",
			"-c", "[2100x1200x200x0,1e-6,10]",
			"-s", "3x2x1x0",
			"-f", "4x2x2x1",
			"-m", "mattes["+pair+",1,32]",
			"-t", "SyN[0.2,3,0]",
			"-c", "["+schedule(iterations)+",1e-7,8]",
			"-s", smooth,
			"-f", shrink,
		)
	default:
		return nil, fmt.Errorf("unsupported transform kind %v", kind)
	}
	return args, nil
}

// forwardTransforms lists the files antsRegistration writes for prefix.
func forwardTransforms(prefix string, kind engine.TransformKind) []string {
	if kind == engine.ElasticSyN {
		return []string{prefix + "1Warp.nii.gz", prefix + "0GenericAffine.mat"}
	}
	return []string{prefix + "0GenericAffine.mat"}
}

// applyArgs builds the antsApplyTransforms argument vector.
func applyArgs(dim int, fixed, moving, out, interpolation string, transforms []string) []string {
	args := []string{
		"-d", strconv.Itoa(dim),
		"-i", moving,
		"-r", fixed,
		"-o", out,
		"-n", interpolation,
	}
	for _, t := range transforms {
		args = append(args, "-t", t)
	}
	return append(args, "-v", "0")
}

// parseSize reads the "XxYxZ" size line printed by PrintHeader.
func parseSize(out []byte) ([]int, error) {
	line := strings.TrimSpace(string(out))
	if line == "" {
		return nil, fmt.Errorf("empty header output")
	}
	parts := strings.Split(line, "x")
	dims := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("unexpected size %q: %w", line, err)
		}
		dims[i] = n
	}
	return dims, nil
}
