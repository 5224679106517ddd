package main

import (
	"context"
	"fmt"
	"os"

	"sitebox/internal/client"
	"sitebox/internal/uploader"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	deploySite       string
	deployMessage    string
	deployAPI        string
	deployToken      string
	deployConfigFile string
	deployGitHub     string
)

var deployCmd = &cobra.Command{
	Use:   "deploy [DIRECTORY]",
	Short: "Deploy a directory as a new site version",
	Long: `Upload the contents of a directory (or a GitHub repository) as a new
deployment and make it live.

Files are uploaded in batches of 10 and the deployment is activated
atomically once every file is acknowledged. Files over 10 MB are skipped
with a warning; the previously live version keeps serving until the new
one is finalized.

Examples:
  sitebox deploy ./dist --site my-site
  sitebox deploy --github owner/repo@main --site my-site -m "release 1.4"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVarP(&deploySite, "site", "s", "", "Site ID or slug to deploy to")
	deployCmd.Flags().StringVarP(&deployMessage, "message", "m", "", "Deployment message")
	deployCmd.Flags().StringVar(&deployAPI, "api", "", "API base URL (default from config or http://127.0.0.1:5000)")
	deployCmd.Flags().StringVar(&deployToken, "token", os.Getenv("SITEBOX_TOKEN"), "API token")
	deployCmd.Flags().StringVarP(&deployConfigFile, "config", "c", "", "Path to sitebox.yaml")
	deployCmd.Flags().StringVar(&deployGitHub, "github", "", "Deploy a GitHub repository (owner/repo[@ref]) instead of a directory")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && deployGitHub == "" {
		return fmt.Errorf("either a directory argument or --github is required")
	}
	if len(args) > 0 && deployGitHub != "" {
		return fmt.Errorf("a directory argument and --github are mutually exclusive")
	}

	// Load configuration and merge with flags (flags win)
	cfg, err := loadDeployConfig()
	if err != nil {
		return err
	}

	apiURL := deployAPI
	if apiURL == "" {
		apiURL = cfg.APIURL
	}
	if apiURL == "" {
		apiURL = "http://127.0.0.1:5000"
	}
	token := deployToken
	if token == "" {
		token = cfg.Token
	}
	siteRef := deploySite
	if siteRef == "" {
		siteRef = cfg.Site
	}
	if siteRef == "" {
		return fmt.Errorf("no site specified: use --site or set 'site' in sitebox.yaml")
	}

	ctx := cmd.Context()
	c := client.New(apiURL, token)

	// Resolve the site up front so failures happen before any upload
	site, err := c.GetSite(ctx, siteRef)
	if err != nil {
		return fmt.Errorf("failed to resolve site '%s': %w", siteRef, err)
	}

	// Determine the source directory
	dir := ""
	if deployGitHub != "" {
		fmt.Printf("Fetching %s...\n", deployGitHub)
		fetched, cleanup, err := uploader.FetchGitHubTree(ctx, deployGitHub, token)
		if err != nil {
			return fmt.Errorf("failed to fetch repository: %w", err)
		}
		defer cleanup()
		dir = fetched
	} else {
		dir = args[0]
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("'%s' is not a directory", dir)
		}
	}

	// Collect files before creating the deployment so an empty
	// directory never leaves a pending record behind
	files, skipped, err := uploader.CollectFiles(dir)
	if err != nil {
		return err
	}
	for _, s := range skipped {
		fmt.Printf("%sSkipping %s (%s exceeds the %s limit)%s\n",
			colorYellow, s.Path, humanize.Bytes(uint64(s.Size)), humanize.Bytes(uploader.MaxFileSize), colorReset)
	}
	if len(files) == 0 {
		return fmt.Errorf("every file in '%s' exceeds the size limit", dir)
	}

	dep, err := c.CreateDeployment(ctx, site.ID, deployMessage)
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	fmt.Printf("Deploying %d files to '%s' (deployment %s)...\n", len(files), site.Slug, dep.ID)

	if err := c.MarkProcessing(ctx, dep.ID); err != nil {
		return abortDeploy(ctx, c, dep.ID, err)
	}

	batcher := uploader.NewBatcher(c)
	summary, err := batcher.Upload(ctx, dep.ID, files)
	if err != nil {
		return abortDeploy(ctx, c, dep.ID, err)
	}

	if _, err := c.Finalize(ctx, dep.ID, summary.FileCount, summary.TotalSize); err != nil {
		return abortDeploy(ctx, c, dep.ID, err)
	}

	siteURL := c.SiteURL(site.Slug)
	fmt.Printf("\n%sDeploy successful!%s\n", colorGreen, colorReset)
	fmt.Printf("  Files:    %d\n", summary.FileCount)
	fmt.Printf("  Size:     %s\n", humanize.Bytes(uint64(summary.TotalSize)))
	fmt.Printf("  Site URL: %s\n", siteURL)

	// Post-deploy hook failures are warnings, not deploy failures
	if cfg.PostDeploy != "" {
		fmt.Printf("Running post-deploy hook...\n")
		output, err := client.RunPostDeployHook(ctx, cfg.PostDeploy, siteURL)
		if len(output) > 0 {
			fmt.Printf("%s", output)
		}
		if err != nil {
			fmt.Printf("%sWarning: %v%s\n", colorYellow, err, colorReset)
		}
	}

	return nil
}

// loadDeployConfig reads sitebox.yaml from the flag path or the default
// search locations. A missing config is fine; flags can carry everything.
func loadDeployConfig() (*client.Config, error) {
	path := deployConfigFile
	if path == "" {
		path = client.FindConfig()
	}
	if path == "" {
		return &client.Config{}, nil
	}
	cfg, err := client.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return cfg, nil
}

// abortDeploy marks the deployment failed (best effort) and reports the
// cause. The server's stale sweep catches anything this misses.
func abortDeploy(ctx context.Context, c *client.Client, deploymentID string, cause error) error {
	if err := c.MarkFailed(ctx, deploymentID); err != nil {
		fmt.Fprintf(os.Stderr, "%sWarning: could not mark deployment failed: %v%s\n", colorYellow, err, colorReset)
	}
	return fmt.Errorf("deploy failed: %w", cause)
}
