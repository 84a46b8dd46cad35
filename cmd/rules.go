package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/quantfabric/refcheck/pkg/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules <product> <exchange>",
	Short: "Show the rules a validation would apply",
	Long: `Resolve the rule hierarchy for a (product, exchange) pair the same
way a validation request would, and print the merged rule list.`,
	Args: cobra.ExactArgs(2),
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)

	rulesCmd.Flags().StringP("output", "o", "yaml", "output format (yaml, json)")
	rulesCmd.Flags().String("custom-rules", "", "comma-separated named rule sets to merge in")
	rulesCmd.Flags().Bool("list-sets", false, "list available named rule sets instead of resolving")

	_ = viper.BindPFlag("rules-output", rulesCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("rules-custom", rulesCmd.Flags().Lookup("custom-rules"))
	_ = viper.BindPFlag("rules-list-sets", rulesCmd.Flags().Lookup("list-sets"))
}

func runRules(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	product := rules.NormalizeProduct(args[0])
	exchange := strings.ToUpper(args[1])
	loader := rules.NewLoader(cfg.Rules.Dir)

	if viper.GetBool("rules-list-sets") {
		names, err := loader.AllRuleSets(product, exchange)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	var customNames []string
	if raw := viper.GetString("rules-custom"); raw != "" {
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				customNames = append(customNames, n)
			}
		}
	}

	list, err := loader.LoadCombined(product, exchange, customNames, nil)
	if err != nil {
		return err
	}

	switch viper.GetString("rules-output") {
	case "json":
		out, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		out, err := yaml.Marshal(list)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	}
	return nil
}
