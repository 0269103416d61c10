package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nucmed/nucmed/internal/radiopharm"
)

func isotopesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "isotopes",
		Short: "List the isotope catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			printIsotopes(cmd.OutOrStdout(), radiopharm.Isotopes())
			return nil
		},
	}
}

func printIsotopes(out io.Writer, isotopes []radiopharm.Isotope) {
	fmt.Fprintf(out, "%-8s %-16s %12s %10s %12s\n", "SYMBOL", "NAME", "HALF-LIFE H", "KEV", "DOSE RATE")
	for _, iso := range isotopes {
		fmt.Fprintf(out, "%-8s %-16s %12.4f %10.1f %12.4f\n",
			iso.Symbol, iso.Name, iso.HalfLifeHours, iso.EnergyKeV, iso.DoseRateFactor)
	}
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate alerts for lots read from a file",
		Long: "Reads lot snapshots from a JSON or YAML file, either a list of lots or a\n" +
			"document with a \"lots\" key, and prints the ordered alerts as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			now := time.Now().UTC()
			if s, _ := cmd.Flags().GetString("now"); s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Errorf("invalid --now: %w", err)
				}
				now = t.UTC()
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			lots, err := decodeLots(data, filepath.Ext(file))
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			alerts, err := radiopharm.GenerateAlerts(lots, now)
			if err != nil {
				return err
			}
			if alerts == nil {
				alerts = []radiopharm.Alert{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(alerts)
		},
	}
	cmd.Flags().String("file", "", "Path to a JSON or YAML file of lot snapshots")
	cmd.Flags().String("now", "", "Evaluation time (RFC3339), defaults to now")
	return cmd
}

// decodeLots accepts JSON, or YAML for .yaml/.yml files. YAML is converted
// to JSON first so both share the snapshot's json field names.
func decodeLots(data []byte, ext string) ([]radiopharm.LotSnapshot, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		data = converted
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var lots []radiopharm.LotSnapshot
		if err := json.Unmarshal(data, &lots); err != nil {
			return nil, err
		}
		return lots, nil
	}
	var doc struct {
		Lots []radiopharm.LotSnapshot `json:"lots"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Lots, nil
}
