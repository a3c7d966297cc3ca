// Command lanbeam streams live audio between two machines on the same
// LAN, paired by a 9-digit code.
//
//	lanbeam receive                 # prints a code, plays what arrives
//	lanbeam send 123456789          # streams the microphone to that code
//	lanbeam send --system 123456789 # streams system audio instead
//	lanbeam devices                 # lists audio devices
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam"
	"github.com/lanbeam/lanbeam/audio"
	"github.com/lanbeam/lanbeam/audio/device"
	"github.com/lanbeam/lanbeam/config"
	"github.com/lanbeam/lanbeam/pairing"
	"github.com/lanbeam/lanbeam/stream"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string
	var settings *config.Settings

	root := &cobra.Command{
		Use:           "lanbeam",
		Short:         "Stream live audio across the LAN with a 9-digit pairing code",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(configPath)
			if err != nil {
				return err
			}
			s.ApplyLogging()
			settings = s
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file")

	root.AddCommand(receiveCommand(&settings))
	root.AddCommand(sendCommand(&settings))
	root.AddCommand(devicesCommand())
	return root
}

func nodeOptions(s *config.Settings, systemAudio bool) lanbeam.Options {
	return lanbeam.Options{
		BindHost:           s.BindHost,
		PreferredPort:      s.PreferredPort,
		DiscoveryTimeout:   s.DiscoveryTimeout,
		CodeTTL:            s.CodeTTL,
		SendQueueDepth:     s.SendQueueDepth,
		JitterTarget:       s.JitterTarget,
		JitterMax:          s.JitterMax,
		OutputDevice:       s.OutputDevice,
		CaptureSystemAudio: systemAudio,
		OnStatus: func(role stream.Role, status stream.Status, reason string) {
			entry := logrus.WithFields(logrus.Fields{
				"role":   role.String(),
				"status": status.String(),
			})
			if reason != "" {
				entry = entry.WithField("reason", reason)
			}
			entry.Info("Status changed")
		},
	}
}

func receiveCommand(settings **config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "receive",
		Short: "Listen for a sender and play what arrives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			node := lanbeam.NewNode(nodeOptions(*settings, false))
			code, err := node.StartReceiving()
			if err != nil {
				return err
			}
			defer node.Stop()

			fmt.Printf("Pairing code: %s\n", pairing.FormatCode(code))
			fmt.Println("Waiting for a sender. Press Ctrl-C to stop.")

			waitForInterrupt()
			return nil
		},
	}
}

func sendCommand(settings **config.Settings) *cobra.Command {
	var systemAudio bool
	var testTone bool
	var captureDevice string

	cmd := &cobra.Command{
		Use:   "send CODE",
		Short: "Stream audio to the receiver that published CODE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := pairing.NormalizeCode(args[0])
			if err := pairing.ValidateCode(code); err != nil {
				return err
			}

			s := *settings
			if captureDevice == "" {
				captureDevice = s.CaptureDevice
			}

			opts := nodeOptions(s, systemAudio || s.CaptureSystemAudio)
			if testTone {
				opts.OpenSource = func(string) (audio.Source, error) {
					return audio.NewToneSource(440), nil
				}
			}
			logStatus := opts.OnStatus
			ended := make(chan struct{})
			var once sync.Once
			opts.OnStatus = func(role stream.Role, status stream.Status, reason string) {
				logStatus(role, status, reason)
				if role == stream.RoleSender &&
					(status == stream.StatusDisconnected || status == stream.StatusError) {
					once.Do(func() { close(ended) })
				}
			}

			node := lanbeam.NewNode(opts)
			if err := node.StartSending(code, captureDevice); err != nil {
				return err
			}
			defer node.Stop()

			fmt.Println("Streaming. Press Ctrl-C to stop.")
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sig:
				fmt.Println()
			case <-ended:
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&systemAudio, "system", false, "capture system audio instead of a microphone")
	cmd.Flags().StringVar(&captureDevice, "device", "", "capture device name or ID")
	cmd.Flags().BoolVar(&testTone, "tone", false, "send a 440 Hz test tone instead of captured audio")
	return cmd
}

func devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, outputs, err := device.Devices()
			if err != nil {
				return err
			}

			fmt.Println("Capture devices:")
			printDevices(inputs)
			fmt.Println("\nPlayback devices:")
			printDevices(outputs)
			fmt.Printf("\nSystem audio: %s\n", device.SystemAudioNote(runtime.GOOS))
			return nil
		},
	}
}

func printDevices(infos []device.Info) {
	if len(infos) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, info := range infos {
		marker := " "
		if info.Default {
			marker = "*"
		}
		fmt.Printf("  %s [%d] %s\n", marker, info.Index, info.Name)
	}
}

func waitForInterrupt() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println()
}
