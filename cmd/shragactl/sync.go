package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shraga-ai/shraga/internal/syncdrive"
)

// syncBaseURLVar publishes the web root the sync share is reachable under.
const syncBaseURLVar = "SYNC_BASE_URL"

func newMapper(businessOnly bool) (*syncdrive.Mapper, error) {
	root, err := syncdrive.FindSyncRoot(businessOnly)
	if err != nil {
		return nil, err
	}
	return &syncdrive.Mapper{Root: root, BaseURL: os.Getenv(syncBaseURLVar)}, nil
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect the local sync root and map paths to web URLs",
	}

	var businessOnly bool
	cmd.PersistentFlags().BoolVar(&businessOnly, "business-only", false,
		"only accept commercial sync mounts")

	cmd.AddCommand(&cobra.Command{
		Use:   "find-root",
		Short: "Print the resolved sync root",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			root, err := syncdrive.FindSyncRoot(businessOnly)
			if err != nil {
				return err
			}
			fmt.Println(root)
			return nil
		},
	})

	var browser bool
	toURL := &cobra.Command{
		Use:   "local-to-url <path>",
		Short: "Convert a local path under the sync root to a web URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			mapper, err := newMapper(businessOnly)
			if err != nil {
				return err
			}
			url := mapper.LocalToWebURL(args[0], browser)
			if url == "" {
				return fmt.Errorf("path %s is outside the sync root %s", args[0], mapper.Root)
			}
			fmt.Println(url)
			return nil
		},
	}
	toURL.Flags().BoolVar(&browser, "browser", false, "append the view-in-browser query")
	cmd.AddCommand(toURL)

	cmd.AddCommand(&cobra.Command{
		Use:   "url-to-local <url>",
		Short: "Convert a web URL back to a local path",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			mapper, err := newMapper(businessOnly)
			if err != nil {
				return err
			}
			path := mapper.WebToLocalPath(args[0])
			if path == "" {
				return fmt.Errorf("url %s is outside the published root", args[0])
			}
			fmt.Println(path)
			return nil
		},
	})

	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session-folder utilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create-folder <task-name> <task-id>",
		Short: "Create the session folder for a task under the sync root",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			root, err := syncdrive.FindSyncRoot(false)
			if err != nil {
				return err
			}
			dir, err := syncdrive.CreateSessionFolder(root, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(dir)
			return nil
		},
	})

	return cmd
}
