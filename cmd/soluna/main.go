package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/soluna-audio/soluna"
	"github.com/soluna-audio/soluna/internal/server"
	"github.com/soluna-audio/soluna/internal/vismap"
)

var (
	version = "0.1.0"

	configPath string
	tempo      float64
	addr       string
	frameFPS   int
	outPath    string
	seconds    float64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "soluna",
	Short: "Turn text patterns into synchronized audio and visual frames",
	Long: `Soluna plays cycle-based text patterns through a built-in synth and
derives visual parameters from the audio in real time.

Examples:
  soluna play "bd sn hh sn"
  soluna render "c4 e4 g4 b4" --out arp.wav --seconds 4
  soluna serve --addr :8080`,
	Version: version,
}

var playCmd = &cobra.Command{
	Use:   "play [pattern]",
	Short: "Play a pattern until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

var renderCmd = &cobra.Command{
	Use:   "render [pattern]",
	Short: "Render a pattern offline to a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control server and websocket frame feed",
	RunE:  runServe,
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	rootCmd.PersistentFlags().Float64VarP(&tempo, "tempo", "t", 0, "cycles per minute (overrides config)")

	renderCmd.Flags().StringVarP(&outPath, "out", "o", "out.wav", "output WAV path")
	renderCmd.Flags().Float64Var(&seconds, "seconds", 4, "duration to render")

	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().IntVar(&frameFPS, "fps", 60, "websocket frame rate")

	rootCmd.AddCommand(playCmd, renderCmd, serveCmd)
}

func loadConfig() (soluna.Config, error) {
	cfg := soluna.DefaultConfig()
	if configPath != "" {
		loaded, err := soluna.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if tempo > 0 {
		cfg.Tempo = tempo
	}
	return cfg, nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	session, err := soluna.NewSession(cfg, soluna.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	if _, err := session.SetPatternSource(args[0]); err != nil {
		return err
	}
	if err := session.Start(); err != nil {
		return err
	}
	defer session.Close()
	log.Info().Str("pattern", args[0]).Float64("tempo", cfg.Tempo).Msg("playing")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if session.TickSource() == soluna.TickSourceTimer {
		go session.RunFrames(ctx, session.TimerFPS(), func(vismap.ParameterSet) {})
	}
	<-ctx.Done()
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	samples, err := soluna.RenderSamples(args[0], cfg, seconds)
	if err != nil {
		return err
	}
	wav := soluna.EncodeWAVFloat32LE(samples, cfg.SampleRate, 2)
	if err := os.WriteFile(outPath, wav, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	log.Info().Str("out", outPath).Float64("seconds", seconds).Msg("rendered")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	session, err := soluna.NewSession(cfg, soluna.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	if err := session.Start(); err != nil {
		return err
	}
	defer session.Close()

	srv := server.New(server.Config{Addr: addr, FrameFPS: frameFPS}, session, log.Logger)
	return srv.Run()
}
