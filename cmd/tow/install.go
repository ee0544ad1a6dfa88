package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tow/internal/download"
	"github.com/ZebulonRouseFrantzich/tow/internal/service"
)

func newInstallCmd(a *app) *cobra.Command {
	var (
		req        service.InstallRequest
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "install <url>",
		Short: "Download a binary and add it to the store",
		Long: `Download a binary and add it to the store.

The file name comes from the server's Content-Disposition header. The entry
name defaults to that file name and the version to "latest".`,
		Example: `  tow install https://example.com/releases/tool/latest --name tool --version 1.2.0
  tow install https://example.com/tool --sha256 9f86d08...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.URL = args[0]

			var progress download.Progress
			if !noProgress {
				progress = newTerminalProgress(a.stderr)
			}

			res, err := a.installer(progress).Install(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Installed %s %s to %s\n", res.Entry.Name, res.Entry.Version, res.Entry.Path)
			fmt.Fprintf(out, "  sha256: %s\n", res.SHA256)
			if len(res.Verified) > 0 {
				fmt.Fprintf(out, "  verified: %s\n", strings.Join(res.Verified, ", "))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "entry name (default: downloaded file name)")
	f.StringVar(&req.Version, "version", "", `entry version (default "latest")`)
	f.StringVar(&req.SHA256, "sha256", "", "expected SHA256 of the download")
	f.StringVar(&req.SignatureURL, "signature-url", "", "URL of a detached OpenPGP signature")
	f.StringVar(&req.Keyring, "keyring", "", "OpenPGP public keyring used with --signature-url")
	f.BoolVar(&noProgress, "no-progress", false, "do not show a progress bar")
	cmd.MarkFlagsRequiredTogether("signature-url", "keyring")

	return cmd
}
