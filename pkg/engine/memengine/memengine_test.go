package memengine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mriatlas/internal/models"
	"mriatlas/pkg/engine"
)

func constVolume(val float64) *models.Volume {
	v := models.NewVolume(2, 2, 2)
	for i := range v.Data {
		v.Data[i] = val
	}
	return v
}

func TestReadMissingImage(t *testing.T) {
	e := New()
	_, err := e.ReadImage(context.Background(), "missing.nii.gz")

	var loadErr *engine.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestWriteAndReopen(t *testing.T) {
	ctx := context.Background()
	e := New()
	e.Put("in/a.nii.gz", constVolume(3))

	img, err := e.ReadImage(ctx, "in/a.nii.gz")
	require.NoError(t, err)

	back, err := engine.WriteAndReopen(ctx, e, img, "out/a.nii.gz")
	require.NoError(t, err)
	assert.Equal(t, "out/a.nii.gz", back.Source())

	v, ok := e.Written("out/a.nii.gz")
	require.True(t, ok)
	assert.Equal(t, 3.0, v.Data[0])
	assert.Equal(t, []string{"out/a.nii.gz"}, e.WrittenPaths())
}

func TestArithmetic(t *testing.T) {
	ctx := context.Background()
	e := New()
	e.Put("a", constVolume(2))
	e.Put("b", constVolume(4))
	bad := models.NewVolume(3, 3, 3)
	e.Put("bad", bad)

	a, _ := e.ReadImage(ctx, "a")
	b, _ := e.ReadImage(ctx, "b")
	c, _ := e.ReadImage(ctx, "bad")

	sum, err := e.Add(ctx, a, b)
	require.NoError(t, err)
	q, err := e.Divide(ctx, sum, 3)
	require.NoError(t, err)
	v, err := e.Volume(q)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v.Data[5], 1e-12)

	_, err = e.Add(ctx, a, c)
	var arithErr *engine.ArithmeticError
	require.ErrorAs(t, err, &arithErr)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)

	_, err = e.Divide(ctx, a, 0)
	assert.ErrorIs(t, err, models.ErrDivideByZero)
}

func TestRegisterAndApply(t *testing.T) {
	ctx := context.Background()
	e := New()
	fixedVol := constVolume(1)
	fixedVol.Origin = [3]float64{5, 5, 5}
	e.Put("fixed", fixedVol)
	e.Put("moving", constVolume(9))

	fixed, _ := e.ReadImage(ctx, "fixed")
	moving, _ := e.ReadImage(ctx, "moving")

	ts, err := e.Register(ctx, fixed, moving, engine.ElasticSyN, []int{20})
	require.NoError(t, err)
	assert.Len(t, ts.Forward, 2)
	assert.Equal(t, []int{20}, ts.Iterations)

	out, err := e.ApplyTransforms(ctx, fixed, moving, ts)
	require.NoError(t, err)
	v, _ := e.Volume(out)
	assert.Equal(t, fixedVol.Origin, v.Origin)
	assert.Equal(t, 9.0, v.Data[0])

	calls := e.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, Call{Kind: engine.ElasticSyN, Fixed: "fixed", Moving: "moving", Iterations: []int{20}}, calls[0])
}

func TestFailRegistration(t *testing.T) {
	ctx := context.Background()
	e := New()
	e.Put("fixed", constVolume(1))
	e.Put("moving", constVolume(2))
	e.FailRegistration("moving", errors.New("did not converge"))

	fixed, _ := e.ReadImage(ctx, "fixed")
	moving, _ := e.ReadImage(ctx, "moving")
	_, err := e.Register(ctx, fixed, moving, engine.AffineFast, nil)

	var regErr *engine.RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "moving", regErr.Moving)
}

func TestCustomResampler(t *testing.T) {
	ctx := context.Background()
	e := New()
	e.Put("fixed", constVolume(1))
	e.Put("moving", constVolume(2))
	e.SetResampler(func(fixed, moving *models.Volume, ts engine.TransformSet) (*models.Volume, error) {
		return moving.Add(moving)
	})

	fixed, _ := e.ReadImage(ctx, "fixed")
	moving, _ := e.ReadImage(ctx, "moving")
	ts, err := e.Register(ctx, fixed, moving, engine.AffineFast, nil)
	require.NoError(t, err)
	out, err := e.ApplyTransforms(ctx, fixed, moving, ts)
	require.NoError(t, err)
	v, _ := e.Volume(out)
	assert.Equal(t, 4.0, v.Data[0])
}

func TestStatLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "KKI2009-01-MPRAGE.nii.gz")
	require.NoError(t, os.WriteFile(path, []byte("placeholder"), 0644))

	e := New()
	e.SetLoader(StatLoader(2, 1, 1))

	img, err := e.ReadImage(context.Background(), path)
	require.NoError(t, err)
	v, err := e.Volume(img)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, v.Data)

	_, err = e.ReadImage(context.Background(), filepath.Join(dir, "absent.nii.gz"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	_, err = e.ReadImage(context.Background(), dir)
	var loadErr *engine.LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	e := New()
	v := models.NewVolume(4, 1, 1)
	v.Data = []float64{0, 1, 2, 3}
	e.Put("img", v)
	img, err := e.ReadImage(ctx, "img")
	require.NoError(t, err)

	stats, err := engine.Summarize(ctx, e, img)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, stats.Mean, 1e-12)
	assert.InDelta(t, 1.2909944487358056, stats.StdDev, 1e-12)
}
