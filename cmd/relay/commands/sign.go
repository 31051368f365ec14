package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/chat-relay/internal/signature"
)

func newSignCmd() *cobra.Command {
	var secret, file string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the X-Line-Signature value for a webhook body",
		Long: `Compute the signature the platform would send for a body, for replaying
webhooks with curl. Reads stdin when --file is not given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("LINE_CHANNEL_SECRET")
			}
			if secret == "" {
				return errors.New("--secret or LINE_CHANNEL_SECRET is required")
			}

			var (
				body []byte
				err  error
			)
			if file == "" || file == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(body, secret))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "channel secret (default $LINE_CHANNEL_SECRET)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "body file (default stdin)")
	return cmd
}
