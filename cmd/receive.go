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

// receiveDirSetting is the settings key remembering the last --dst value.
const receiveDirSetting = "receive_dir"

type ReceiveFlags struct {
	DstDir string
}

var receiveFlags ReceiveFlags

// receiveCmd represents the receive command
var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Receive a file from a peer (responds to an offer)",
	Long: `Receive a file from a peer over a WebRTC data channel. This will:

1. Create a WebRTC peer connection
2. Wait for the sender's offer blob
3. Print an answer blob for you to pass back to the sender
4. Save the incoming file once the data channel opens

Use --dst to specify the directory to save received files into. The last
used directory is remembered and becomes the default.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runReceiver(&receiveFlags); err != nil {
			logrus.Fatalf("Receiver failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringVarP(&receiveFlags.DstDir, "dst", "d", "", "Directory to save received files into")

	viper.BindPFlag("receive.dst", receiveCmd.Flags().Lookup("dst"))
}

// runReceiver drives the responding side of the manual signaling exchange
// and saves the incoming file.
func runReceiver(flags *ReceiveFlags) error {
	ctx := createContext()

	st := openStore()
	if st != nil {
		defer st.Close()
	}

	dstDir := flags.DstDir
	if dstDir == "" && st != nil {
		if remembered, ok, err := st.Setting(receiveDirSetting); err == nil && ok {
			dstDir = remembered
		}
	}
	if dstDir == "" {
		dstDir = "."
	}

	dstDir, err := fileio.ResolveDestDir(dstDir)
	if err != nil {
		return err
	}
	if st != nil && flags.DstDir != "" {
		if err := st.SetSetting(receiveDirSetting, dstDir); err != nil {
			logrus.Warnf("Could not remember destination directory: %v", err)
		}
	}

	s := session.New(cfg, dstDir)
	if err := s.Start(ctx, session.RoleResponder); err != nil {
		return err
	}
	defer s.Close()

	offer, err := ui.PromptBlob(ctx, "Paste the offer blob from the sender")
	if err != nil {
		return err
	}
	if err := s.ApplyRemote(offer); err != nil {
		return err
	}

	answer, err := s.LocalDescriptionBlob(ctx)
	if err != nil {
		return err
	}
	ui.ShowBlob("Answer", answer)

	fmt.Printf("Waiting for the sender to start the transfer (saving to %s)...\n", dstDir)

	startedAt := time.Now()
	out := ui.NewReporter("Receiving").Run(ctx, s.Events())
	recordHistory(st, "receive", startedAt, out)

	if out.Progress == nil {
		return fmt.Errorf("connection closed before a transfer completed")
	}
	if out.Progress.Status == session.StatusErrored {
		return fmt.Errorf("transfer failed: %v", out.Progress.Err)
	}
	return nil
}
