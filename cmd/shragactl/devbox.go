package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shraga-ai/shraga/internal/devcenter"
	"github.com/shraga-ai/shraga/internal/directory"
)

// devcenterTokenVar holds a pre-acquired provisioning-API token.
const devcenterTokenVar = "DEVCENTER_TOKEN"

func devboxClient() *devcenter.Client {
	return devcenter.NewClient(devcenter.Config{
		Endpoint:           cfg.DevCenter.Endpoint,
		Project:            cfg.DevCenter.Project,
		Pool:               cfg.DevCenter.Pool,
		CustomizationGroup: cfg.DevCenter.CustomizationGroup,
	}, &directory.EnvTokenProvider{Var: devcenterTokenVar}, log)
}

func devboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devbox",
		Short: "Manage dev boxes through the provisioning API",
	}

	var aadID string
	cmd.PersistentFlags().StringVar(&aadID, "user-id", "", "directory object id of the dev-box owner")
	_ = cmd.MarkPersistentFlagRequired("user-id")

	cmd.AddCommand(&cobra.Command{
		Use:   "provision <name>",
		Short: "Create a dev box in the configured pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			box, err := devboxClient().CreateDevBox(c.Context(), aadID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (pool %s)\n", box.Name, box.ProvisioningState, box.PoolName)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <name>",
		Short: "Show provisioning state of a dev box",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			box, err := devboxClient().GetDevBox(c.Context(), aadID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s", box.Name, box.ProvisioningState)
			if box.PowerState != "" {
				fmt.Printf(" (power: %s)", box.PowerState)
			}
			fmt.Println()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "customize <name>",
		Short: "Apply the configured customization group",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			client := devboxClient()
			if err := client.ApplyCustomization(c.Context(), aadID, args[0]); err != nil {
				return err
			}
			cust, err := client.GetCustomization(c.Context(), aadID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("customization %s: %s\n", cust.Name, cust.Status)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "connect <name>",
		Short: "Print the web-RDP connection URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			conn, err := devboxClient().GetRemoteConnection(c.Context(), aadID, args[0])
			if err != nil {
				return err
			}
			fmt.Println(conn.WebURL)
			if conn.RDPURL != "" {
				fmt.Println(conn.RDPURL)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a dev box",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := devboxClient().DeleteDevBox(c.Context(), aadID, args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List dev boxes for the user",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			boxes, err := devboxClient().ListDevBoxes(c.Context(), aadID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATE\tPOOL")
			for _, box := range boxes {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", box.Name, box.ProvisioningState, box.PoolName)
			}
			return tw.Flush()
		},
	})

	return cmd
}
