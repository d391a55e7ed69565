package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majkutK-unitn/anonymization-module/config"
	"github.com/majkutK-unitn/anonymization-module/gentree"
	"github.com/majkutK-unitn/anonymization-module/internal/clierr"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file for structural errors without running an algorithm",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return clierr.NewConfigError("validate", fmt.Errorf("--config is required"))
		}

		raw, err := config.Load(configPath)
		if err != nil {
			return clierr.NewConfigError("validate", err)
		}

		if raw.K < 2 {
			return clierr.NewConfigError("validate", fmt.Errorf("k must be >= 2, got %d", raw.K))
		}
		if len(raw.QIDs) == 0 {
			return clierr.NewConfigError("validate", fmt.Errorf("at least one qid is required"))
		}

		for _, q := range raw.QIDs {
			if q.Name == "" {
				return clierr.NewConfigError("validate", fmt.Errorf("qid entry missing a name"))
			}
			switch q.Type {
			case config.TypeHierarchical:
				if q.Tree == nil && q.HierarchyFile == "" {
					return clierr.NewConfigError("validate", fmt.Errorf("qid %q: hierarchical qid requires either tree or hierarchy_file", q.Name))
				}
				if _, err := resolveHierarchyForValidation(q); err != nil {
					return clierr.NewConfigError("validate", fmt.Errorf("qid %q: %w", q.Name, err))
				}
			case config.TypeIP:
				if q.IPMaskBits < 0 || q.IPMaskBits > 31 {
					return clierr.NewConfigError("validate", fmt.Errorf("qid %q: ip_mask_bits must be in 0..31, got %d", q.Name, q.IPMaskBits))
				}
			case config.TypeNumerical, config.TypeDate:
				// bounds are only known once a backend is queried; Resolve
				// (invoked by `run`) checks those. Nothing further to
				// validate structurally here.
			default:
				return clierr.NewConfigError("validate", fmt.Errorf("qid %q: unknown type %q", q.Name, q.Type))
			}
		}

		fmt.Printf("%s is valid: k=%d, %d qids, %d sensitive attributes\n", configPath, raw.K, len(raw.QIDs), len(raw.SensitiveAttributes))
		return nil
	},
}

// resolveHierarchyForValidation loads q's generalization hierarchy just
// to confirm it parses; the resulting tree is discarded.
func resolveHierarchyForValidation(q config.QIDRaw) (bool, error) {
	switch {
	case q.Tree != nil && q.HierarchyFile != "":
		return false, fmt.Errorf("tree and hierarchy_file are mutually exclusive")
	case q.Tree != nil:
		_, err := gentree.Build(*q.Tree)
		return err == nil, err
	default:
		_, err := config.LoadHierarchyFile(q.HierarchyFile)
		return err == nil, err
	}
}
