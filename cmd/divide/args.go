package main

import (
	"fmt"
	"strconv"

	"mriatlas/internal/cli"
	"mriatlas/pkg/accumulate"
)

const usageText = `check parameters! usage: divide <templateType:{a,d}> <numImages> <constant> <file_1> ... <file_numImages>
example: divide a 3 21 file1.nii.gz file2.nii.gz file3.nii.gz --> get affine template made of (file1 + file2 + file3) / 21
try again`

// divideArgs are the positional arguments of the divide tool.
type divideArgs struct {
	Kind     accumulate.Kind
	Constant int
	Files    []string
}

// parseArgs checks the argument count and parses the integers. Extra file
// arguments beyond numImages are ignored.
func parseArgs(args []string) (divideArgs, error) {
	if len(args) < 3 {
		return divideArgs{}, &cli.UsageError{Text: usageText}
	}
	numImages, err := strconv.Atoi(args[1])
	if err != nil {
		return divideArgs{}, fmt.Errorf("failed to parse numImages %q: %w", args[1], err)
	}
	constant, err := strconv.Atoi(args[2])
	if err != nil {
		return divideArgs{}, fmt.Errorf("failed to parse constant %q: %w", args[2], err)
	}
	if numImages < 1 || len(args)-3 < numImages {
		return divideArgs{}, &cli.UsageError{Text: usageText}
	}
	return divideArgs{
		Kind:     accumulate.Kind(args[0]),
		Constant: constant,
		Files:    args[3 : 3+numImages],
	}, nil
}
