package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/avian-media/hlsorigin/internal/metrics"
	"github.com/avian-media/hlsorigin/pkg/hlsengine"
	"github.com/avian-media/hlsorigin/pkg/hlsengine/playlist"
)

// Routes registers the dynamic media surface behind a single trailing
// wildcard, per chi's routing rule that a "*" pattern must be the final
// token of a registered route. The URL grammar itself (.as.m3u8, /v/, /a/,
// /s/ suffixes) is dispatched by hand inside handleDynamic rather than
// expressed as chi patterns, since it mixes an arbitrary-depth path prefix
// with a fixed suffix chi's router can't express as static segments.
func (m *ManagerCtx) Routes(r chi.Router) {
	r.Get("/health", m.handleHealth)
	r.Get("/version", m.handleVersion)
	r.Get("/*", m.handleDynamic)
}

var mediaExtensions = []string{".mp4", ".m4v", ".mkv", ".webm"}

func hasMediaExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range mediaExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// parseRequestPath splits a request path into the underlying media file's
// path and the HLS suffix requested on it, by scanning path segments from
// the right for one ending in a recognized container extension. A segment
// ending in ".init.mp4" is skipped even though it shares the .mp4 suffix,
// since it names an HLS init segment, not the source file. Grounded on
// hls-vod-server/src/http/dynamic.rs's parse_path.
func parseRequestPath(full string) (mediaPath string, suffix string, ok bool) {
	if strings.HasSuffix(full, ".as.m3u8") {
		base := strings.TrimSuffix(full, ".as.m3u8")
		if hasMediaExtension(base) {
			return base, "as.m3u8", true
		}
	}

	parts := strings.Split(strings.Trim(full, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		lower := strings.ToLower(parts[i])
		if strings.HasSuffix(lower, ".init.mp4") {
			continue
		}
		if hasMediaExtension(lower) {
			return "/" + strings.Join(parts[:i+1], "/"), strings.Join(parts[i+1:], "/"), true
		}
	}
	return "", "", false
}

func parseTrack(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseTrackSeq splits a "{track}.{seq}{ext}" fragment name, e.g. "1.0.m4s"
// or "2.14.vtt", into its track and sequence numbers.
func parseTrackSeq(s, ext string) (track int, seq int, ok bool) {
	rest := strings.TrimSuffix(s, ext)
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	t, err1 := strconv.Atoi(parts[0])
	n, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return t, n, true
}

func (m *ManagerCtx) handleDynamic(w http.ResponseWriter, r *http.Request) {
	mediaPath, suffix, ok := parseRequestPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case suffix == "as.m3u8":
		m.handleMaster(w, r, mediaPath)
	case strings.HasPrefix(suffix, "v/"):
		m.dispatchVideo(w, r, mediaPath, strings.TrimPrefix(suffix, "v/"))
	case strings.HasPrefix(suffix, "a/"):
		m.dispatchAudio(w, r, mediaPath, strings.TrimPrefix(suffix, "a/"))
	case strings.HasPrefix(suffix, "s/"):
		m.dispatchSubtitle(w, r, mediaPath, strings.TrimPrefix(suffix, "s/"))
	default:
		http.NotFound(w, r)
	}
}

func (m *ManagerCtx) dispatchVideo(w http.ResponseWriter, r *http.Request, mediaPath, sub string) {
	switch {
	case strings.HasSuffix(sub, ".init.mp4"):
		track, ok := parseTrack(strings.TrimSuffix(sub, ".init.mp4"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		m.handleVideoInit(w, r, mediaPath, track)
	case strings.HasSuffix(sub, ".m3u8"):
		track, ok := parseTrack(strings.TrimSuffix(sub, ".m3u8"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		m.handleVideoPlaylist(w, r, mediaPath, track)
	case strings.HasSuffix(sub, ".m4s"):
		track, seq, ok := parseTrackSeq(sub, ".m4s")
		if !ok {
			http.NotFound(w, r)
			return
		}
		m.handleVideoSegment(w, r, mediaPath, track, seq)
	default:
		http.NotFound(w, r)
	}
}

func (m *ManagerCtx) dispatchAudio(w http.ResponseWriter, r *http.Request, mediaPath, sub string) {
	switch {
	case strings.HasSuffix(sub, ".init.mp4"):
		track, ok := parseTrack(strings.TrimSuffix(sub, ".init.mp4"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		m.handleAudioInit(w, r, mediaPath, track)
	case strings.HasSuffix(sub, ".m3u8"):
		track, ok := parseTrack(strings.TrimSuffix(sub, ".m3u8"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		m.handleAudioPlaylist(w, r, mediaPath, track)
	case strings.HasSuffix(sub, ".m4s"):
		track, seq, ok := parseTrackSeq(sub, ".m4s")
		if !ok {
			http.NotFound(w, r)
			return
		}
		m.handleAudioSegment(w, r, mediaPath, track, seq)
	default:
		http.NotFound(w, r)
	}
}

func (m *ManagerCtx) dispatchSubtitle(w http.ResponseWriter, r *http.Request, mediaPath, sub string) {
	switch {
	case strings.HasSuffix(sub, ".m3u8"):
		track, ok := parseTrack(strings.TrimSuffix(sub, ".m3u8"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		m.handleSubtitlePlaylist(w, r, mediaPath, track)
	case strings.HasSuffix(sub, ".vtt"):
		track, seq, ok := parseTrackSeq(sub, ".vtt")
		if !ok {
			http.NotFound(w, r)
			return
		}
		m.handleSubtitleSegment(w, r, mediaPath, track, seq)
	default:
		http.NotFound(w, r)
	}
}

// resolvePath joins a request's media path against the configured media
// root, the way the teacher's hlsvod.go resolves its sourceId into a
// filesystem path.
func (m *ManagerCtx) resolvePath(mediaPath string) string {
	if m.cfg.MediaRoot == "" {
		return mediaPath
	}
	return filepath.Join(m.cfg.MediaRoot, mediaPath)
}

func (m *ManagerCtx) descriptorFor(ctx context.Context, path string) (*hlsengine.StreamDescriptor, error) {
	desc, err := m.registry.GetOrIndex(ctx, path)
	metrics.ActiveStreams.Set(float64(m.registry.Len()))
	return desc, err
}

func (m *ManagerCtx) writeError(w http.ResponseWriter, route string, err error) {
	kind := hlsengine.KindOf(err)
	metrics.ErrorsTotal.WithLabelValues(string(kind)).Inc()

	status := http.StatusInternalServerError
	switch kind.Class() {
	case hlsengine.ClassClient:
		status = http.StatusNotFound
	case hlsengine.ClassTransient:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "5")
	}
	metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	http.Error(w, string(kind), status)
}

// acceptCodecsFromQuery returns the client's accepted audio codec list from
// the "codecs" query parameter, or nil when it is absent or empty. A nil list means
// "unfiltered": every source codec is exposed as-is, since an absent
// accept set is not the same as an empty one.
func acceptCodecsFromQuery(r *http.Request) []string {
	q := r.URL.Query().Get("codecs")
	if q == "" {
		return nil
	}
	return strings.Split(q, ",")
}

func (m *ManagerCtx) handleMaster(w http.ResponseWriter, r *http.Request, mediaPath string) {
	desc, err := m.descriptorFor(r.Context(), m.resolvePath(mediaPath))
	if err != nil {
		m.writeError(w, "master", err)
		return
	}

	variants := hlsengine.PlanAudio(desc.AudioStreams, acceptCodecsFromQuery(r))
	doc := playlist.BuildMaster(desc, playlist.MasterOptions{AudioVariants: variants, URLPrefix: mediaPath})
	writeM3U8(w, doc)
	metrics.RequestsTotal.WithLabelValues("master", "200").Inc()
}

func videoTrackAt(desc *hlsengine.StreamDescriptor, track int) (hlsengine.VideoStreamInfo, bool) {
	if track != 1 {
		return hlsengine.VideoStreamInfo{}, false
	}
	return desc.VideoStream()
}

func (m *ManagerCtx) handleVideoPlaylist(w http.ResponseWriter, r *http.Request, mediaPath string, track int) {
	desc, err := m.descriptorFor(r.Context(), m.resolvePath(mediaPath))
	if err != nil {
		m.writeError(w, "video_playlist", err)
		return
	}
	if _, ok := videoTrackAt(desc, track); !ok {
		m.writeError(w, "video_playlist", hlsengine.NewError(hlsengine.ErrKindBadTrack, "api.handleVideoPlaylist", nil))
		return
	}
	doc := playlist.BuildMedia(desc, playlist.MediaOptions{
		InitSegmentURL: strconv.Itoa(track) + ".init.mp4",
		SegmentURLFmt:  strconv.Itoa(track) + ".%d.m4s",
	})
	writeM3U8(w, doc)
	metrics.RequestsTotal.WithLabelValues("video_playlist", "200").Inc()
}

func (m *ManagerCtx) handleVideoInit(w http.ResponseWriter, r *http.Request, mediaPath string, track int) {
	desc, err := m.descriptorFor(r.Context(), m.resolvePath(mediaPath))
	if err != nil {
		m.writeError(w, "video_init", err)
		return
	}
	if _, ok := videoTrackAt(desc, track); !ok {
		m.writeError(w, "video_init", hlsengine.NewError(hlsengine.ErrKindBadTrack, "api.handleVideoInit", nil))
		return
	}

	key := hlsengine.CacheKey{DescriptorID: desc.ID, Kind: hlsengine.KindVideoInit, Track: track}
	data, err := m.cachedOrBuild(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		return m.renderVideoInit(ctx, desc)
	})
	if err != nil {
		m.writeError(w, "video_init", err)
		return
	}
	writeMP4(w, "video_init", data)
	metrics.RequestsTotal.WithLabelValues("video_init", "200").Inc()
}

func (m *ManagerCtx) handleVideoSegment(w http.ResponseWriter, r *http.Request, mediaPath string, track, seq int) {
	desc, err := m.descriptorFor(r.Context(), m.resolvePath(mediaPath))
	if err != nil {
		m.writeError(w, "video_segment", err)
		return
	}
	if _, ok := videoTrackAt(desc, track); !ok {
		m.writeError(w, "video_segment", hlsengine.NewError(hlsengine.ErrKindBadTrack, "api.handleVideoSegment", nil))
		return
	}

	key := hlsengine.CacheKey{DescriptorID: desc.ID, Kind: hlsengine.KindVideoSeg, Track: track, Sequence: seq}
	data, err := m.cachedOrBuild(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		return m.renderVideoSegment(ctx, desc, seq)
	})
	if err != nil {
		m.writeError(w, "video_segment", err)
		return
	}
	writeMP4(w, "video_seg", data)
	metrics.RequestsTotal.WithLabelValues("video_segment", "200").Inc()
}

// resolveAudioVariant resolves a URL track number to the audio planner's
// output for the current request's accepted codecs. track is a 1-based
// position within the planned variant list, not a source stream index.
func (m *ManagerCtx) resolveAudioVariant(r *http.Request, desc *hlsengine.StreamDescriptor, track int) (hlsengine.AudioVariant, bool) {
	variants := hlsengine.PlanAudio(desc.AudioStreams, acceptCodecsFromQuery(r))
	if track < 1 || track > len(variants) {
		return hlsengine.AudioVariant{}, false
	}
	return variants[track-1], true
}

func (m *ManagerCtx) handleAudioPlaylist(w http.ResponseWriter, r *http.Request, mediaPath string, track int) {
	desc, err := m.descriptorFor(r.Context(), m.resolvePath(mediaPath))
	if err != nil {
		m.writeError(w, "audio_playlist", err)
		return
	}
	if _, ok := m.resolveAudioVariant(r, desc, track); !ok {
		m.writeError(w, "audio_playlist", hlsengine.NewError(hlsengine.ErrKindBadTrack, "api.handleAudioPlaylist", nil))
		return
	}
	doc := playlist.BuildMedia(desc, playlist.MediaOptions{
		InitSegmentURL: strconv.Itoa(track) + ".init.mp4",
		SegmentURLFmt:  strconv.Itoa(track) + ".%d.m4s",
	})
	writeM3U8(w, doc)
	metrics.RequestsTotal.WithLabelValues("audio_playlist", "200").Inc()
}

func (m *ManagerCtx) handleAudioInit(w http.ResponseWriter, r *http.Request, mediaPath string, track int) {
	desc, err := m.descriptorFor(r.Context(), m.resolvePath(mediaPath))
	if err != nil {
		m.writeError(w, "audio_init", err)
		return
	}
	variant, ok := m.resolveAudioVariant(r, desc, track)
	if !ok {
		m.writeError(w, "audio_init", hlsengine.NewError(hlsengine.ErrKindBadTrack, "api.handleAudioInit", nil))
		return
	}

	key := hlsengine.CacheKey{DescriptorID: desc.ID, Kind: hlsengine.KindAudioInit, Track: track}
	data, err := m.cachedOrBuild(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		return m.renderAudioInit(ctx, desc, variant)
	})
	if err != nil {
		m.writeError(w, "audio_init", err)
		return
	}
	writeMP4(w, "audio_init", data)
	metrics.RequestsTotal.WithLabelValues("audio_init", "200").Inc()
}

func (m *ManagerCtx) handleAudioSegment(w http.ResponseWriter, r *http.Request, mediaPath string, track, seq int) {
	desc, err := m.descriptorFor(r.Context(), m.resolvePath(mediaPath))
	if err != nil {
		m.writeError(w, "audio_segment", err)
		return
	}
	variant, ok := m.resolveAudioVariant(r, desc, track)
	if !ok {
		m.writeError(w, "audio_segment", hlsengine.NewError(hlsengine.ErrKindBadTrack, "api.handleAudioSegment", nil))
		return
	}

	key := hlsengine.CacheKey{DescriptorID: desc.ID, Kind: hlsengine.KindAudioSeg, Track: track, Sequence: seq}
	data, err := m.cachedOrBuild(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		return m.renderAudioSegment(ctx, desc, variant, seq)
	})
	if err != nil {
		if variant.Transcoded {
			metrics.TranscodeOperationsTotal.WithLabelValues("error").Inc()
		}
		m.writeError(w, "audio_segment", err)
		return
	}
	if variant.Transcoded {
		metrics.TranscodeOperationsTotal.WithLabelValues("success").Inc()
	}
	writeMP4(w, "audio_seg", data)
	metrics.RequestsTotal.WithLabelValues("audio_segment", "200").Inc()
}

// subtitleIndexAt converts a URL's 1-based subtitle track number to its
// 0-based position in desc.SubtitleStreams / desc.SubtitleCues.
func subtitleIndexAt(desc *hlsengine.StreamDescriptor, track int) (int, bool) {
	if track < 1 || track > len(desc.SubtitleStreams) {
		return 0, false
	}
	return track - 1, true
}

func (m *ManagerCtx) handleSubtitlePlaylist(w http.ResponseWriter, r *http.Request, mediaPath string, track int) {
	desc, err := m.descriptorFor(r.Context(), m.resolvePath(mediaPath))
	if err != nil {
		m.writeError(w, "subtitle_playlist", err)
		return
	}
	if _, ok := subtitleIndexAt(desc, track); !ok {
		m.writeError(w, "subtitle_playlist", hlsengine.NewError(hlsengine.ErrKindBadTrack, "api.handleSubtitlePlaylist", nil))
		return
	}
	doc := playlist.BuildMedia(desc, playlist.MediaOptions{
		InitSegmentURL: "", // subtitle tracks carry no init segment; BuildMedia's EXT-X-MAP line is harmless for players that ignore it on WebVTT renditions
		SegmentURLFmt:  strconv.Itoa(track) + ".%d.vtt",
	})
	writeM3U8(w, doc)
	metrics.RequestsTotal.WithLabelValues("subtitle_playlist", "200").Inc()
}

func (m *ManagerCtx) handleSubtitleSegment(w http.ResponseWriter, r *http.Request, mediaPath string, track, seq int) {
	desc, err := m.descriptorFor(r.Context(), m.resolvePath(mediaPath))
	if err != nil {
		m.writeError(w, "subtitle_segment", err)
		return
	}
	subIdx, ok := subtitleIndexAt(desc, track)
	if !ok {
		m.writeError(w, "subtitle_segment", hlsengine.NewError(hlsengine.ErrKindBadTrack, "api.handleSubtitleSegment", nil))
		return
	}

	key := hlsengine.CacheKey{DescriptorID: desc.ID, Kind: hlsengine.KindSubtitleSeg, Track: track, Sequence: seq}
	data, err := m.cachedOrBuild(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		return m.renderSubtitleSegment(desc, subIdx, seq)
	})
	if err != nil {
		m.writeError(w, "subtitle_segment", err)
		return
	}
	writeVTT(w, data)
	metrics.RequestsTotal.WithLabelValues("subtitle_segment", "200").Inc()
}

func (m *ManagerCtx) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	entries, bytes := m.cache.Stats()
	//nolint
	w.Write([]byte(`{"status":"ok","active_streams":` + strconv.Itoa(m.registry.Len()) +
		`,"cache_entries":` + strconv.Itoa(entries) +
		`,"cache_bytes":` + strconv.FormatInt(bytes, 10) + `}`))
}

func (m *ManagerCtx) handleVersion(w http.ResponseWriter, r *http.Request) {
	//nolint
	w.Write([]byte("hlsorigin/1.0.0"))
}

func (m *ManagerCtx) cachedOrBuild(ctx context.Context, key hlsengine.CacheKey, build func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if data, ok := m.cache.Get(key); ok {
		metrics.CacheHitsTotal.Inc()
		return data, nil
	}
	metrics.CacheMissesTotal.Inc()
	return m.cache.GetOrBuild(ctx, key, func(ctx context.Context) ([]byte, error) {
		return m.runBlocking(ctx, func() ([]byte, error) {
			return build(ctx)
		})
	})
}

func writeM3U8(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	//nolint
	w.Write([]byte(doc))
}

func writeMP4(w http.ResponseWriter, kind string, data []byte) {
	w.Header().Set("Content-Type", "video/mp4")
	metrics.BytesServedTotal.WithLabelValues(kind).Add(float64(len(data)))
	//nolint
	w.Write(data)
}

func writeVTT(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "text/vtt")
	metrics.BytesServedTotal.WithLabelValues("subtitle_seg").Add(float64(len(data)))
	//nolint
	w.Write(data)
}
