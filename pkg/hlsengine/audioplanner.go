package hlsengine

// AudioVariant is one entry of a playlist's EXT-X-MEDIA audio rendition,
// the audio planner's output.
type AudioVariant struct {
	GroupID     string // "audio-aac", "audio-ac3", ...
	Language    string
	CodecID     string // exposed codec: matches the source unless Transcoded
	Default     bool
	SourceIndex int  // AudioStreamInfo.StreamIndex this variant reads from
	Transcoded  bool // true when this variant is synthesized via the transcoder
}

// PlanAudio decides, per language group, which source audio streams are
// exposed as-is and which single stream (if any) is transcoded to AAC. A
// nil acceptCodecs means unfiltered: every source stream is exposed as-is,
// matching a client that sent no Accept-derived codec list at all. Grounded
// on original_source's audio_plan/planner.rs: AAC sources are never
// re-encoded, at most one transcode happens per language group, and a
// group left with nothing exposed and no "aac" acceptance is dropped
// entirely rather than partially exposed.
func PlanAudio(streams []AudioStreamInfo, acceptCodecs []string) []AudioVariant {
	unfiltered := acceptCodecs == nil
	accept := map[string]bool{}
	for _, c := range acceptCodecs {
		accept[c] = true
	}

	byLang := map[string][]AudioStreamInfo{}
	var order []string
	for _, s := range streams {
		if _, ok := byLang[s.Language]; !ok {
			order = append(order, s.Language)
		}
		byLang[s.Language] = append(byLang[s.Language], s)
	}

	var out []AudioVariant
	defaultGroups := map[string]bool{} // GROUP-IDs whose first variant is already Default

	for _, lang := range order {
		group := byLang[lang]

		var exposed []AudioStreamInfo
		for _, s := range group {
			if unfiltered || accept[s.CodecID] {
				exposed = append(exposed, s)
			}
		}

		// A group already has an exposed stream whenever any source codec
		// was accepted, so a transcode is only needed to manufacture one
		// where filtering left the group empty.
		needsTranscode := len(exposed) == 0 && (unfiltered || accept["aac"])
		if len(exposed) == 0 && !needsTranscode {
			continue // no accepted codec present and no way to synthesize one: drop the group
		}

		for _, s := range exposed {
			v := AudioVariant{
				GroupID:     "audio-" + s.CodecID,
				Language:    lang,
				CodecID:     s.CodecID,
				SourceIndex: s.StreamIndex,
			}
			if !defaultGroups[v.GroupID] {
				v.Default = true
				defaultGroups[v.GroupID] = true
			}
			out = append(out, v)
		}

		if needsTranscode {
			source := group[0]
			v := AudioVariant{
				GroupID:     "audio-aac",
				Language:    lang,
				CodecID:     "aac",
				SourceIndex: source.StreamIndex,
				Transcoded:  true,
			}
			if !defaultGroups[v.GroupID] {
				v.Default = true
				defaultGroups[v.GroupID] = true
			}
			out = append(out, v)
		}
	}

	return out
}
