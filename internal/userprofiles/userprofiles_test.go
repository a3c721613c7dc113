package userprofiles

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[*]
max-jobs = 4
greeting = hello

[@admins]
max-jobs = 100

[alice]
max-jobs = 10
tags = gpu, fast
limits = cpu=2;mem=4096
`

func TestOverlay_MostSpecificSectionWins(t *testing.T) {
	ov, err := Load(strings.NewReader(sample), []string{"max-jobs", "greeting", "tags", "limits"})
	require.NoError(t, err)

	v, err := ov.Int("max-jobs", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	v, err = ov.Int("max-jobs", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
}

func TestOverlay_ListAndMap(t *testing.T) {
	ov, err := Load(strings.NewReader(sample), []string{"max-jobs", "greeting", "tags", "limits"})
	require.NoError(t, err)

	tags, err := ov.List("tags", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpu", "fast"}, tags)

	limits, err := ov.Map("limits", "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cpu": "2", "mem": "4096"}, limits)
}

func TestOverlay_MissingValueErrors(t *testing.T) {
	ov, err := Load(strings.NewReader(sample), []string{"max-jobs", "greeting", "tags", "limits"})
	require.NoError(t, err)

	_, err = ov.String("tags", "carol")
	assert.Error(t, err)
}

func TestLoad_UnknownFieldIsFatal(t *testing.T) {
	_, err := Load(strings.NewReader("[*]\nbogus = 1\n"), []string{"max-jobs"})
	assert.Error(t, err)
}

func TestLoad_KeyOutsideSectionIsFatal(t *testing.T) {
	_, err := Load(strings.NewReader("max-jobs = 1\n"), []string{"max-jobs"})
	assert.Error(t, err)
}
