package main

import (
	"fmt"

	"sitebox/internal/client"
	"sitebox/internal/store"

	"github.com/spf13/cobra"
)

var (
	siteAPI    string
	siteToken  string
	siteOwner  string
	siteAccess string
)

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage sites",
}

var siteCreateCmd = &cobra.Command{
	Use:   "create SLUG",
	Short: "Create a new site",
	Long: `Create a new site with the given slug. The slug becomes part of the
site's URL, e.g. /sites/my-site/.

Example:
  sitebox site create my-site --owner alice --access public`,
	Args: cobra.ExactArgs(1),
	RunE: runSiteCreate,
}

var siteShowCmd = &cobra.Command{
	Use:   "show SITE",
	Short: "Show a site by ID or slug",
	Args:  cobra.ExactArgs(1),
	RunE:  runSiteShow,
}

func init() {
	siteCmd.PersistentFlags().StringVar(&siteAPI, "api", "http://127.0.0.1:5000", "API base URL")
	siteCmd.PersistentFlags().StringVar(&siteToken, "token", "", "API token")
	siteCreateCmd.Flags().StringVar(&siteOwner, "owner", "", "Owner identity for the site")
	siteCreateCmd.Flags().StringVar(&siteAccess, "access", "public", "Access mode (public, password, private, owner-only)")

	siteCmd.AddCommand(siteCreateCmd)
	siteCmd.AddCommand(siteShowCmd)
}

func runSiteCreate(cmd *cobra.Command, args []string) error {
	if siteOwner == "" {
		return fmt.Errorf("--owner is required")
	}

	c := client.New(siteAPI, siteToken)
	site, err := c.CreateSite(cmd.Context(), args[0], siteOwner, siteAccess)
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}

	fmt.Printf("%sSite created!%s\n", colorGreen, colorReset)
	printSite(c, site)
	return nil
}

func runSiteShow(cmd *cobra.Command, args []string) error {
	c := client.New(siteAPI, siteToken)
	site, err := c.GetSite(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch site '%s': %w", args[0], err)
	}

	printSite(c, site)
	return nil
}

func printSite(c *client.Client, site *store.Site) {
	fmt.Printf("  ID:     %s\n", site.ID)
	fmt.Printf("  Slug:   %s\n", site.Slug)
	fmt.Printf("  Owner:  %s\n", site.Owner)
	fmt.Printf("  Access: %s\n", site.AccessMode)
	if site.ActiveDeploymentID != nil {
		fmt.Printf("  Active: %s\n", *site.ActiveDeploymentID)
	} else {
		fmt.Printf("  Active: (none)\n")
	}
	fmt.Printf("  URL:    %s\n", c.SiteURL(site.Slug))
}
