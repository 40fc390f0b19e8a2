package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/validation"
)

var validatePackCmd = &cobra.Command{
	Use:   "validate-pack <file>",
	Short: "Check an agent pack definition (YAML or JSON)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pack, err := loadPack(args[0])
		if err != nil {
			return err
		}
		if err := validation.New().ValidatePack(pack); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d agents ok\n", pack.Slug, len(pack.AgentsConfig))
		return nil
	},
}

func loadPack(path string) (*models.AgentPack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p models.AgentPack
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &p)
	default:
		err = yaml.Unmarshal(raw, &p)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &p, nil
}
