package hlsengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanAudio_ExposesAcceptedCodecsAsIs(t *testing.T) {
	streams := []AudioStreamInfo{
		{StreamIndex: 0, CodecID: "aac", Language: "eng"},
		{StreamIndex: 1, CodecID: "ac3", Language: "eng"},
	}

	variants := PlanAudio(streams, []string{"aac", "ac3"})

	require.Len(t, variants, 2)
	assert.Equal(t, "audio-aac", variants[0].GroupID)
	assert.False(t, variants[0].Transcoded)
	assert.Equal(t, "audio-ac3", variants[1].GroupID)
	assert.False(t, variants[1].Transcoded)
}

func TestPlanAudio_TranscodesExactlyOneSourceWhenNoAACPresent(t *testing.T) {
	streams := []AudioStreamInfo{
		{StreamIndex: 0, CodecID: "opus", Language: "eng"},
		{StreamIndex: 1, CodecID: "opus", Language: "eng"},
	}

	variants := PlanAudio(streams, []string{"aac"})

	require.Len(t, variants, 1)
	assert.True(t, variants[0].Transcoded)
	assert.Equal(t, 0, variants[0].SourceIndex, "transcodes the first source in the group, not the last")
}

func TestPlanAudio_NeverTranscodesAnExistingAACSource(t *testing.T) {
	streams := []AudioStreamInfo{
		{StreamIndex: 0, CodecID: "opus", Language: "eng"},
		{StreamIndex: 1, CodecID: "aac", Language: "eng"},
	}

	variants := PlanAudio(streams, []string{"aac"})

	require.Len(t, variants, 1)
	assert.False(t, variants[0].Transcoded)
	assert.Equal(t, 1, variants[0].SourceIndex)
}

func TestPlanAudio_DoesNotTranscodeWhenANonAACCodecIsAlreadyExposed(t *testing.T) {
	streams := []AudioStreamInfo{
		{StreamIndex: 0, CodecID: "ac3", Language: "eng"},
	}

	variants := PlanAudio(streams, []string{"ac3", "aac"})

	require.Len(t, variants, 1, "the group already has an exposed stream, so no spurious AAC transcode variant is added")
	assert.Equal(t, "ac3", variants[0].CodecID)
	assert.False(t, variants[0].Transcoded)
}

func TestPlanAudio_NilAcceptCodecsExposesEveryStreamUnfiltered(t *testing.T) {
	streams := []AudioStreamInfo{
		{StreamIndex: 0, CodecID: "mp3", Language: "eng"},
		{StreamIndex: 1, CodecID: "flac", Language: "spa"},
	}

	variants := PlanAudio(streams, nil)

	require.Len(t, variants, 2)
	byLang := map[string]AudioVariant{}
	for _, v := range variants {
		byLang[v.Language] = v
	}
	assert.Equal(t, "mp3", byLang["eng"].CodecID)
	assert.False(t, byLang["eng"].Transcoded)
	assert.Equal(t, "flac", byLang["spa"].CodecID)
	assert.False(t, byLang["spa"].Transcoded)
}

func TestPlanAudio_DropsGroupWithNoAcceptedCodecAndNoTranscodePath(t *testing.T) {
	streams := []AudioStreamInfo{
		{StreamIndex: 0, CodecID: "vorbis", Language: "eng"},
	}

	variants := PlanAudio(streams, []string{"ac3"})

	assert.Empty(t, variants)
}

func TestPlanAudio_DefaultIsFirstVariantInDeclarationOrder(t *testing.T) {
	streams := []AudioStreamInfo{
		{StreamIndex: 0, CodecID: "ac3", Language: "spa"},
		{StreamIndex: 1, CodecID: "aac", Language: "eng"},
		{StreamIndex: 2, CodecID: "ac3", Language: "fra"},
	}

	variants := PlanAudio(streams, []string{"aac", "ac3"})

	require.Len(t, variants, 3)
	assert.True(t, variants[0].Default, "spa is the first audio-ac3 entry because it's declared first")
	assert.True(t, variants[1].Default, "eng is the first (and only) audio-aac entry")
	assert.False(t, variants[2].Default, "fra follows spa in the audio-ac3 group")
}

func TestPlanAudio_SeparateLanguageGroupsPlannedIndependently(t *testing.T) {
	streams := []AudioStreamInfo{
		{StreamIndex: 0, CodecID: "opus", Language: "eng"},
		{StreamIndex: 1, CodecID: "aac", Language: "fra"},
	}

	variants := PlanAudio(streams, []string{"aac"})

	require.Len(t, variants, 2)
	byLang := map[string]AudioVariant{}
	for _, v := range variants {
		byLang[v.Language] = v
	}
	assert.True(t, byLang["eng"].Transcoded)
	assert.False(t, byLang["fra"].Transcoded)
}
