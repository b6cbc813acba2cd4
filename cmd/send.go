package cmd

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"peerdrop/internal/fileio"
	"peerdrop/internal/session"
	"peerdrop/internal/ui"
)

type SendFlags struct {
	FilePath string
}

var sendFlags SendFlags

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a file to a peer (creates the offer)",
	Long: `Send a file to a peer over a WebRTC data channel. This will:

1. Create a WebRTC peer connection
2. Print an offer blob for you to pass to the receiver
3. Wait for the receiver's answer blob
4. Stream the file once the data channel opens

Use --file to specify the path to the file you want to send.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateSendFlags(&sendFlags)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSender(&sendFlags); err != nil {
			logrus.Fatalf("Sender failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendFlags.FilePath, "file", "f", "", "Path to file to send (required)")
	sendCmd.MarkFlagRequired("file")

	viper.BindPFlag("send.file", sendCmd.Flags().Lookup("file"))
}

// validateSendFlags validates the send command flags
func validateSendFlags(flags *SendFlags) error {
	if flags.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if _, err := fileio.Stat(flags.FilePath); err != nil {
		return err
	}
	return nil
}

// runSender drives the sending side of the manual signaling exchange and
// the transfer itself.
func runSender(flags *SendFlags) error {
	ctx := createContext()

	s := session.New(cfg, "")
	if err := s.Start(ctx, session.RoleInitiator); err != nil {
		return err
	}
	defer s.Close()

	offer, err := s.LocalDescriptionBlob(ctx)
	if err != nil {
		return err
	}
	ui.ShowBlob("Offer", offer)

	answer, err := ui.PromptBlob(ctx, "Paste the answer blob from the receiver")
	if err != nil {
		return err
	}
	if err := s.ApplyRemote(answer); err != nil {
		return err
	}

	if err := waitChannelOpen(ctx, s.Events()); err != nil {
		return err
	}

	startedAt := time.Now()
	if err := s.BeginSend(ctx, flags.FilePath); err != nil {
		return err
	}

	out := ui.NewReporter("Sending").Run(ctx, s.Events())

	st := openStore()
	if st != nil {
		defer st.Close()
	}
	recordHistory(st, "send", startedAt, out)

	if out.Progress != nil && out.Progress.Status == session.StatusErrored {
		return fmt.Errorf("transfer failed: %v", out.Progress.Err)
	}
	return nil
}
