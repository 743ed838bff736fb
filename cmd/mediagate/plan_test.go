package main

import (
	"testing"

	"mediagate/pkg/storage"
	"mediagate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlan(t *testing.T) {
	plan, err := storage.Plan(1000000, 2000000, 3145728, 1048576)
	require.NoError(t, err)

	out := renderPlan(plan, 3145728, true)
	assert.Contains(t, out, "206 Partial Content (bytes 1000000-2000000/3145728)")
	assert.Contains(t, out, "1048576")
	assert.Contains(t, out, "951425")
	assert.Contains(t, out, "1000001")
}

func TestRenderEmptyPlan(t *testing.T) {
	out := renderPlan(storage.RangePlan{ChunkSize: 4096, End: -1}, 0, false)
	assert.Contains(t, out, "200 OK")
	assert.NotContains(t, out, "OFFSET")
}

func TestKindForMime(t *testing.T) {
	assert.Equal(t, types.KindVideo, kindForMime("video/mp4"))
	assert.Equal(t, types.KindAudio, kindForMime("audio/mpeg"))
	assert.Equal(t, types.KindImage, kindForMime("image/png"))
	assert.Equal(t, types.KindDocument, kindForMime("application/pdf"))
	assert.Equal(t, types.KindDocument, kindForMime(""))
}
