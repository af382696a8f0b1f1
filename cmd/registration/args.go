package main

import (
	"fmt"
	"strconv"

	"mriatlas/internal/cli"
	"mriatlas/pkg/registration"
)

const usageText = `check parameters! usage: registration <fixedImage> <lower> <upper> <a=affine | d=deformable> <observe:{0,1}> <initialize:{0,1}> <doDivide:{0,1}>
1 <= lower <= upper <= numberOfImages (includes endpoints)
observe = 0/1 -> don't/do output intermediate transformed images
initialize = 0/1 -> don't get/get initial template
doDivide = 0/1 -> don't/do divide final image
example: registration affineTemplate.nii.gz 1 10 d 0 0 1 --> deformably register images 1 to 10 to affineTemplate.nii.gz without intermediate images without initial template and divide final image
try again`

// runArgs are the positional arguments of the registration tool.
type runArgs struct {
	FixedImage string
	Lower      int
	Upper      int
	Mode       registration.Mode
	Observe    bool
	Initialize bool
	Divide     bool
}

// parseArgs requires exactly seven arguments. Flag values are true when
// they parse to a non-zero integer.
func parseArgs(args []string) (runArgs, error) {
	if len(args) != 7 {
		return runArgs{}, &cli.UsageError{Text: usageText}
	}

	names := []string{"lower", "upper", "", "observe", "initialize", "doDivide"}
	ints := make([]int, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		n, err := strconv.Atoi(args[i+1])
		if err != nil {
			return runArgs{}, fmt.Errorf("failed to parse %s %q: %w", name, args[i+1], err)
		}
		ints[i] = n
	}

	return runArgs{
		FixedImage: args[0],
		Lower:      ints[0],
		Upper:      ints[1],
		Mode:       registration.Mode(args[3]),
		Observe:    ints[3] != 0,
		Initialize: ints[4] != 0,
		Divide:     ints[5] != 0,
	}, nil
}
