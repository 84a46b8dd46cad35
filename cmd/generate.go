package cmd

import (
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantfabric/refcheck/pkg/generator"
)

var generateCmd = &cobra.Command{
	Use:   "generate [flags] [region...]",
	Short: "Run a batch validation sweep over configured regions",
	Long: `Validate every configured (product, exchange) pair in the given
regions by calling a running validation service, optionally persisting
each run to the results database.

With no regions given, every configured region is swept.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().String("api-url", "", "validation service base URL (overrides config)")
	generateCmd.Flags().StringSlice("products", nil, "product types to sweep (default: all configured)")
	generateCmd.Flags().String("custom-rules", "", "comma-separated named rule sets to apply")
	generateCmd.Flags().Int("workers", 0, "concurrent validations per region (default from config)")
	generateCmd.Flags().Bool("save-to-database", false, "persist each run to the results database")
	generateCmd.Flags().Bool("list-regions", false, "list configured regions and exit")

	_ = viper.BindPFlag("api-url", generateCmd.Flags().Lookup("api-url"))
	_ = viper.BindPFlag("products", generateCmd.Flags().Lookup("products"))
	_ = viper.BindPFlag("custom-rules", generateCmd.Flags().Lookup("custom-rules"))
	_ = viper.BindPFlag("workers", generateCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("save-to-database", generateCmd.Flags().Lookup("save-to-database"))
	_ = viper.BindPFlag("list-regions", generateCmd.Flags().Lookup("list-regions"))
}

func runGenerate(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	allRegions := map[string]struct{}{}
	for _, product := range cfg.Products() {
		for _, region := range cfg.RegionsFor(product) {
			allRegions[region] = struct{}{}
		}
	}

	if viper.GetBool("list-regions") {
		names := make([]string, 0, len(allRegions))
		for r := range allRegions {
			names = append(names, r)
		}
		sort.Strings(names)
		for _, r := range names {
			fmt.Println(r)
		}
		return nil
	}

	regions := args
	if len(regions) == 0 {
		for r := range allRegions {
			regions = append(regions, r)
		}
		sort.Strings(regions)
	}
	for _, r := range regions {
		if _, ok := allRegions[r]; !ok {
			return fmt.Errorf("unknown region %q", r)
		}
	}

	apiURL := viper.GetString("api-url")
	if apiURL == "" {
		apiURL = cfg.Generator.ServiceURL
	}
	if apiURL == "" {
		return fmt.Errorf("no validation service URL: set --api-url or generator.service_url")
	}

	var customNames []string
	if raw := viper.GetString("custom-rules"); raw != "" {
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				customNames = append(customNames, n)
			}
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := generator.NewOrchestrator(cfg, generator.NewClient(apiURL), viper.GetInt("workers"))
	summaries, err := orch.Sweep(ctx, regions, generator.SweepOptions{
		Products:        viper.GetStringSlice("products"),
		CustomRuleNames: customNames,
		SaveToDatabase:  viper.GetBool("save-to-database"),
	})

	printSummaries(summaries)

	if ctx.Err() != nil {
		return &exitError{code: 130, msg: "interrupted"}
	}
	if err != nil {
		return err
	}
	for _, s := range summaries {
		if s.Failed() {
			return &exitError{code: 1, msg: "validation failures detected"}
		}
	}
	return nil
}

func printSummaries(summaries []*generator.Summary) {
	for _, s := range summaries {
		fmt.Printf("region %s: %d passed, %d failed\n", s.Region, s.Successes, s.Failures)
		for _, r := range s.Results {
			status := "PASS"
			if !r.Success {
				status = "FAIL"
			}
			line := fmt.Sprintf("  [%s] %s/%s (%dms)", status, r.ProductType, r.Exchange, r.DurationMs)
			if r.Error != "" {
				line += " error: " + r.Error
			}
			if r.RunID != nil {
				line += fmt.Sprintf(" run_id=%d", *r.RunID)
			}
			fmt.Println(line)
		}
	}
}
