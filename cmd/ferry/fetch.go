package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/ferry/internal/catalog"
	"github.com/postalsys/ferry/internal/config"
	"github.com/postalsys/ferry/internal/logging"
	"github.com/postalsys/ferry/internal/peer"
)

var summaryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("35"))

func fetchCmd() *cobra.Command {
	var (
		configPath string
		target     string
		accessKey  string
		outputDir  string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download files from a host",
		Long: `Connect to a host, present the access key and download files
into the output directory.

Without --all, an interactive picker lists the advertised files.
The access key is prompted for when not given by flag or config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			if cmd.Flags().Changed("target") {
				cfg.Fetch.Target = target
			}
			if cmd.Flags().Changed("key") {
				cfg.Fetch.AccessKey = accessKey
			}
			if cmd.Flags().Changed("output") {
				cfg.Fetch.OutputDir = outputDir
			}
			if cmd.Flags().Changed("all") {
				cfg.Fetch.All = all
			}

			if cfg.Fetch.Target == "" {
				return fmt.Errorf("target address required (--target)")
			}

			key := cfg.Fetch.AccessKey
			if key == "" {
				prompted, err := promptAccessKey()
				if err != nil {
					return err
				}
				key = prompted
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			choose := peer.All
			if !cfg.Fetch.All {
				choose = pickFiles
			}

			client, err := peer.New(peer.Options{
				Target:    cfg.Fetch.Target,
				AccessKey: key,
				OutputDir: cfg.Fetch.OutputDir,
				Choose:    choose,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			done, err := client.Run(cmd.Context())
			if err != nil {
				return err
			}

			var total uint64
			for _, f := range done {
				total += f.Size
			}
			fmt.Println(summaryStyle.Render(
				fmt.Sprintf("downloaded %d file(s), %s", len(done), catalog.FileInfo{Size: total}.HumanSize())))

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&target, "target", "t", "", "host address, host:port")
	cmd.Flags().StringVarP(&accessKey, "key", "k", "", "access key")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "output directory")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "download every advertised file")

	return cmd
}

// promptAccessKey reads the key from the terminal without echo.
func promptAccessKey() (string, error) {
	fmt.Fprint(os.Stderr, "access key: ")
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read access key: %w", err)
	}
	return string(key), nil
}

// pickFiles shows a multi-select over the advertised catalog.
func pickFiles(cat catalog.Catalog) ([]catalog.FileInfo, error) {
	options := make([]huh.Option[catalog.FileInfo], len(cat))
	for i, f := range cat {
		options[i] = huh.NewOption(fmt.Sprintf("%s (%s)", f.Name, f.HumanSize()), f)
	}

	var selected []catalog.FileInfo
	form := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[catalog.FileInfo]().
			Title("Files to download").
			Options(options...).
			Value(&selected),
	))

	if err := form.Run(); err != nil {
		return nil, err
	}

	return selected, nil
}
