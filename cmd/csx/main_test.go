package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	csx "github.com/ehrlich-b/go-csx"
	"github.com/ehrlich-b/go-csx/internal/logging"
	"github.com/ehrlich-b/go-csx/sim"
)

type failingUnmapper struct {
	csx.MockMapper
}

func (*failingUnmapper) Unmap([]byte) error {
	return errors.New("unmap failed")
}

func openSimDevice(t *testing.T, mapper csx.Mapper) *csx.Device {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.Logger = logging.Nop()
	s := sim.New(cfg)
	t.Cleanup(func() { s.Close() })

	opts := csx.DefaultOptions()
	opts.Logger = logging.Nop()
	opts.Open = s.Opener()
	opts.Mapper = mapper
	dev, err := csx.Open(context.Background(), "nvme0", opts)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestFreeMemFoldsUnmapFailure(t *testing.T) {
	ctx := context.Background()
	dev := openSimDevice(t, &failingUnmapper{})

	a, err := dev.AllocMem(ctx, 4096, 0, true)
	require.NoError(t, err)

	earlier := errors.New("checksum failed")
	err = earlier
	freeMem(ctx, dev, a, &err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.Equal(t, earlier, errs[0])
	assert.True(t, csx.IsStatus(errs[1], csx.StatusUnknownMemory))
}

func TestFreeMemKeepsNilOnSuccess(t *testing.T) {
	ctx := context.Background()
	dev := openSimDevice(t, &csx.MockMapper{})

	a, err := dev.AllocMem(ctx, 4096, 0, true)
	require.NoError(t, err)

	err = nil
	freeMem(ctx, dev, a, &err)
	assert.NoError(t, err)
}
