package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsentLevelOrdering(t *testing.T) {
	require.True(t, ConsentNone < ConsentMetadataOnly)
	require.True(t, ConsentMetadataOnly < ConsentContent)
	require.True(t, ConsentContent < ConsentFull)
}

func TestConsentLevelString(t *testing.T) {
	require.Equal(t, "none", ConsentNone.String())
	require.Equal(t, "metadata_only", ConsentMetadataOnly.String())
	require.Equal(t, "content", ConsentContent.String())
	require.Equal(t, "full", ConsentFull.String())
	require.Equal(t, "unknown", ConsentLevel(9).String())
}

func TestConsentLevelDescription(t *testing.T) {
	for _, level := range []ConsentLevel{ConsentNone, ConsentMetadataOnly, ConsentContent, ConsentFull} {
		require.NotEqual(t, "Unknown", level.Description())
		require.NotEmpty(t, level.Description())
	}
}
