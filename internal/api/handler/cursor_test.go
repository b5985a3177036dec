package handler

import (
	"testing"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor(t *testing.T) {
	in := &storage.JobCursor{
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
		JobID:     "0b6f2c1e-6f0e-4d8e-9d7b-3f7c9a1e2b4d",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)

	empty, err := DecodeJobCursor("")
	assert.NoError(t, err)
	assert.Nil(t, empty)

	invalid := []string{"%%%", "bm9waXBl", "YWJjfGpvYg=="}
	for _, c := range invalid {
		_, err := DecodeJobCursor(c)
		assert.Error(t, err, c)
	}
}
