package engine

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransformKindString(t *testing.T) {
	assert.Equal(t, "AffineFast", AffineFast.String())
	assert.Equal(t, "ElasticSyN", ElasticSyN.String())
	assert.Equal(t, "TransformKind(7)", TransformKind(7).String())
}

func TestTransformSetString(t *testing.T) {
	ts := TransformSet{Kind: ElasticSyN, Forward: []string{"1Warp.nii.gz", "0GenericAffine.mat"}}
	assert.Equal(t, "ElasticSyN[1Warp.nii.gz,0GenericAffine.mat]", ts.String())
}

func TestErrorsUnwrap(t *testing.T) {
	var err error = &LoadError{Path: "a.nii.gz", Err: fs.ErrNotExist}
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Contains(t, err.Error(), "a.nii.gz")

	err = &RegistrationError{Kind: AffineFast, Fixed: "f", Moving: "m", Err: errors.New("boom")}
	var regErr *RegistrationError
	assert.True(t, errors.As(err, &regErr))
	assert.Equal(t, "AffineFast registration of m onto f failed: boom", err.Error())

	err = &ArithmeticError{Op: "add", Err: errors.New("shape")}
	assert.Equal(t, "image add failed: shape", err.Error())

	err = &WriteError{Path: "out.nii.gz", Err: fs.ErrPermission}
	assert.True(t, errors.Is(err, fs.ErrPermission))
}
