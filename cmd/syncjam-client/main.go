// ABOUTME: Entry point for the native SyncJam listening client
// ABOUTME: Discovers or dials a room, then drives playback from stdin commands
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"

	"github.com/syncjam/syncjam-go/internal/media"
	"github.com/syncjam/syncjam-go/pkg/protocol"
	"github.com/syncjam/syncjam-go/pkg/syncjam"
)

var (
	serverAddr = flag.String("server", "", "room server host:port (default: discover via mDNS)")
	debug      = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	addr := *serverAddr
	if addr == "" {
		found, err := discoverRoom(logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("no room found; pass -server host:port")
		}
		addr = found
	}

	player := media.NewPlayer(logger)
	defer player.Close()

	ctrl := syncjam.NewController(syncjam.Config{
		Media:  player,
		Logger: logger,
	})
	if err := ctrl.Connect(addr); err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("connect failed")
	}
	defer ctrl.Close()

	logger.Info().Str("addr", addr).Msg("joined room")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		ctrl.Close()
		os.Exit(0)
	}()

	repl(ctrl, logger)
}

// discoverRoom browses mDNS for the first advertised room.
func discoverRoom(logger zerolog.Logger) (string, error) {
	entries := make(chan *mdns.ServiceEntry, 4)
	go func() {
		params := mdns.DefaultParams("_syncjam._tcp")
		params.Entries = entries
		params.Timeout = 3 * time.Second
		mdns.Query(params)
		close(entries)
	}()

	for entry := range entries {
		if entry.AddrV4 == nil {
			continue
		}
		addr := fmt.Sprintf("%s:%d", entry.AddrV4, entry.Port)
		logger.Info().Str("name", entry.Name).Str("addr", addr).Msg("room discovered")
		return addr, nil
	}
	return "", fmt.Errorf("no _syncjam._tcp service answered")
}

func repl(ctrl *syncjam.Controller, logger zerolog.Logger) {
	fmt.Println("commands: play pause skip prev jump <i> seek <sec> add <videoId> <sec> remove <i> queue quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "play":
			ctrl.PressPlay()
		case "pause":
			ctrl.PressPause()
		case "skip", "next":
			ctrl.Skip()
		case "prev", "previous":
			ctrl.Previous()
		case "jump":
			if i, err := argInt(fields); err == nil {
				ctrl.JumpTo(i)
			}
		case "seek":
			if len(fields) > 1 {
				if s, err := strconv.ParseFloat(fields[1], 64); err == nil {
					ctrl.SeekTo(s)
				}
			}
		case "add":
			// The room rejects tracks without a duration, so it is a
			// required argument here.
			if len(fields) > 2 {
				if d, err := strconv.ParseFloat(fields[2], 64); err == nil && d > 0 {
					ctrl.AddToQueue(protocol.Track{ID: fields[1], Source: "youtube", Duration: d})
					continue
				}
			}
			logger.Warn().Msg("usage: add <videoId> <durationSeconds>")
		case "remove":
			if i, err := argInt(fields); err == nil {
				ctrl.RemoveFromQueue(i)
			}
		case "queue":
			tracks, current := ctrl.Queue()
			for i, t := range tracks {
				marker := "  "
				if i == current {
					marker = "> "
				}
				fmt.Printf("%s%d. %s (%.0fs)\n", marker, i, t.ID, t.Duration)
			}
		case "quit", "exit":
			return
		default:
			logger.Warn().Str("cmd", fields[0]).Msg("unknown command")
		}
	}
}

func argInt(fields []string) (int, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("missing argument")
	}
	return strconv.Atoi(fields[1])
}
