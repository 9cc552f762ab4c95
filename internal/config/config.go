package config

import (
	"os"
	"path"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is implemented by every config section a command wires up: Init
// binds its flags on the command, Set reads the bound values back from
// viper once cobra has parsed argv.
type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

// Engine mirrors hlsengine.Config field for field, kept separate so the
// engine package has no dependency on viper/cobra.
type Engine struct {
	MediaRoot string `mapstructure:"media-root"`

	SegmentDurationSecs float64 `mapstructure:"segment-duration-secs"`
	SegmentMinSecs      float64 `mapstructure:"segment-min-secs"`
	SegmentMaxSecs      float64 `mapstructure:"segment-max-secs"`

	AudioSampleRate int `mapstructure:"audio-sample-rate"`
	AACBitrate      int `mapstructure:"aac-bitrate"`

	CacheMemoryBytes int64 `mapstructure:"cache-memory-bytes"`
	CacheMaxSegments int   `mapstructure:"cache-max-segments"`
	CacheTTLSecs     int   `mapstructure:"cache-ttl-secs"`

	IndexTimeoutSecs int `mapstructure:"index-timeout-secs"`

	IdleWindowSecs   int `mapstructure:"idle-window-secs"`
	ReaperPeriodSecs int `mapstructure:"reaper-period-secs"`

	MaxConcurrentStreams int `mapstructure:"max-concurrent-streams"`
	BlockingPoolSize     int `mapstructure:"blocking-pool-size"`
}

type Server struct {
	PProf bool

	Cert   string
	Key    string
	Bind   string
	Static string
	Proxy  bool

	BaseDir string `yaml:"basedir,omitempty"`

	Engine Engine
}

func (Server) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().Bool("pprof", false, "enable pprof endpoint available at /debug/pprof")
	if err := viper.BindPFlag("pprof", cmd.PersistentFlags().Lookup("pprof")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("bind", "127.0.0.1:8080", "address/port/socket to serve the origin on")
	if err := viper.BindPFlag("bind", cmd.PersistentFlags().Lookup("bind")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("cert", "", "path to the SSL cert used to secure the server")
	if err := viper.BindPFlag("cert", cmd.PersistentFlags().Lookup("cert")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("key", "", "path to the SSL key used to secure the server")
	if err := viper.BindPFlag("key", cmd.PersistentFlags().Lookup("key")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("static", "", "path to static files to serve")
	if err := viper.BindPFlag("static", cmd.PersistentFlags().Lookup("static")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("proxy", false, "allow reverse proxies")
	if err := viper.BindPFlag("proxy", cmd.PersistentFlags().Lookup("proxy")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("basedir", "", "base directory for assets")
	if err := viper.BindPFlag("basedir", cmd.PersistentFlags().Lookup("basedir")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("engine.media-root", "", "root directory media paths are resolved against")
	if err := viper.BindPFlag("engine.media-root", cmd.PersistentFlags().Lookup("engine.media-root")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("engine.max-concurrent-streams", 0, "maximum number of distinct source files indexed at once")
	if err := viper.BindPFlag("engine.max-concurrent-streams", cmd.PersistentFlags().Lookup("engine.max-concurrent-streams")); err != nil {
		return err
	}

	return nil
}

func (s *Server) Set() {
	s.PProf = viper.GetBool("pprof")

	s.Cert = viper.GetString("cert")
	s.Key = viper.GetString("key")
	s.Bind = viper.GetString("bind")
	s.Static = viper.GetString("static")
	s.Proxy = viper.GetBool("proxy")

	s.BaseDir = viper.GetString("basedir")
	if s.BaseDir == "" {
		if _, err := os.Stat("/etc/hlsorigin"); os.IsNotExist(err) {
			cwd, _ := os.Getwd()
			s.BaseDir = cwd
		} else {
			s.BaseDir = "/etc/hlsorigin"
		}
	}

	//
	// Engine
	//
	if err := viper.UnmarshalKey("engine", &s.Engine); err != nil {
		panic(err)
	}
	if s.Engine.MediaRoot == "" {
		s.Engine.MediaRoot = s.BaseDir
	}
}

func (s *Server) AbsPath(elem ...string) string {
	// prepend base path
	elem = append([]string{s.BaseDir}, elem...)
	return path.Join(elem...)
}
