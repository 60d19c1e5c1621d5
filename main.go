// main.go - CLI entry point
//
// Adapted from the teacher's construct-peripherals-then-run main: CLI
// parsing moves from a hand-rolled os.Args switch onto urfave/cli (the flag
// library go-jeebie's cmd/jeebie depends on), and peripheral construction
// moves into system.go's NewSystem so main only resolves configuration and
// drives startup/shutdown.
//
// License: GPLv3 or later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

const (
	exitBadImage = 1
	exitUsageErr = 2
)

func main() {
	app := cli.NewApp()
	app.Name = "spg293"
	app.Usage = "spg293 [options] <firmware-image> <sd-image>"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "cam", Usage: "host camera device to use for the camera interface"},
		cli.IntFlag{Name: "scale", Value: 1, Usage: "integer window scale, 1-4"},
		cli.BoolFlag{Name: "zone3d", Usage: "enable the iGame accelerometer motion model"},
		cli.BoolFlag{Name: "igame", Usage: "treat the firmware image as an iGame bundle"},
		cli.BoolFlag{Name: "nor", Usage: "treat the firmware image as a raw NOR dump"},
		cli.BoolFlag{Name: "spudebug", Usage: "enable SPU sample capture for debugging"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		slog.Error("spg293 exiting", "err", err)
		if ec, ok := err.(cli.ExitCoder); ok {
			os.Exit(ec.ExitCode())
		}
		os.Exit(exitBadImage)
	}
}

func run(c *cli.Context) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	saveDir := discoverSaveDir()

	firmwarePath := c.Args().Get(0)
	sdImagePath := c.Args().Get(1)

	if firmwarePath == "" {
		chosen, err := RunChooser(saveDir)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("no firmware image given and chooser failed: %v", err), exitUsageErr)
		}
		firmwarePath = chosen
	}
	if sdImagePath == "" {
		return cli.NewExitError("missing required <sd-image> argument", exitUsageErr)
	}

	scale := ClampScale(c.Int("scale"))

	cfg := Config{
		FirmwarePath: firmwarePath,
		SDImagePath:  sdImagePath,
		UseNOR:       c.Bool("nor"),
		UseIGame:     c.Bool("igame"),
		CameraOn:     c.String("cam") != "",
		Scale:        scale,
		SaveDir:      saveDir,
		SPUDebug:     c.Bool("spudebug"),
		Zone3D:       c.Bool("zone3d"),
	}

	video, err := NewVideoOutput(VIDEO_BACKEND_EBITEN)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("video init: %v", err), exitBadImage)
	}
	if err := video.SetDisplayConfig(DisplayConfig{Width: ppuWidth, Height: ppuHeight, Scale: scale}); err != nil {
		return cli.NewExitError(fmt.Sprintf("video config: %v", err), exitBadImage)
	}

	audio, err := NewAudioOutput(AUDIO_BACKEND_OTO, 48000)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("audio init: %v", err), exitBadImage)
	}

	var cameraSrc CameraSource
	if cfg.CameraOn {
		cameraSrc, err = NewCameraSource(CAMERA_BACKEND_HEADLESS)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("camera init: %v", err), exitBadImage)
		}
	}

	sys, err := NewSystem(cfg, video, audio, cameraSrc, log)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("system init: %v", err), exitBadImage)
	}

	if err := sys.LoadFirmware(); err != nil {
		return cli.NewExitError(fmt.Sprintf("firmware load: %v", err), exitBadImage)
	}

	if err := sys.Start(); err != nil {
		return cli.NewExitError(fmt.Sprintf("system start: %v", err), exitBadImage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		sys.RequestShutdown()
		return nil
	})
	g.Go(sys.Run)

	if err := g.Wait(); err != nil {
		return cli.NewExitError(fmt.Sprintf("runtime error: %v", err), exitBadImage)
	}
	return nil
}
