package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dtsynth/slicer"
	"dtsynth/tree"

	"github.com/spf13/cobra"
)

func (a *app) sliceCommand() *cobra.Command {
	var treePath string
	var maxDepth, minDepth int
	var optimise bool
	var state map[string]string
	cmd := &cobra.Command{
		Use:   "slice",
		Short: "List the subproblems of a decision tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := loadTree(treePath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-depth") {
				maxDepth = a.cfg.Hybrid.MaxSubtreeDepth
			}
			if !cmd.Flags().Changed("min-depth") {
				minDepth = a.cfg.Hybrid.MinSubtreeDepth
			}

			w := cmd.OutOrStdout()
			stats := t.Stats()
			fmt.Fprintf(w, "tree: %d nodes, depth %d, %d nonterminals\n", stats.Nodes, stats.Depth, stats.Nonterminals)
			subproblems := slicer.Extract(t, maxDepth, minDepth)
			if len(state) > 0 {
				values, err := parseState(state)
				if err != nil {
					return err
				}
				reached, err := slicer.Reached(subproblems, values)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "state reaches %d of %d subproblems\n", len(reached), len(subproblems))
				subproblems = reached
			}
			for _, sp := range subproblems {
				fmt.Fprintln(w, sp)
				if !optimise {
					continue
				}
				tmpl := slicer.GenerateTemplate(sp, maxDepth)
				candidate := slicer.Optimise(sp, tmpl)
				fmt.Fprintf(w, "  template depth %d: %d -> %d nodes, loss %.3f\n",
					tmpl.MaxDepth, sp.Subtree.Size(), candidate.Size(), slicer.EstimateLoss(sp.Subtree, candidate))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&treePath, "tree", "", "decision tree (.dot or .json)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "only subtrees rooted above this depth")
	cmd.Flags().IntVar(&minDepth, "min-depth", 0, "only subtrees at least this high")
	cmd.Flags().BoolVar(&optimise, "optimise", false, "also prune each subtree and report its loss")
	cmd.Flags().StringToStringVar(&state, "state", nil, "only subproblems whose path holds for this state, e.g. x=0.5,y=3")
	cmd.MarkFlagRequired("tree")
	return cmd
}

func parseState(raw map[string]string) (map[string]float64, error) {
	state := make(map[string]float64, len(raw))
	for name, value := range raw {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("state %s: %w", name, err)
		}
		state[name] = v
	}
	return state, nil
}

func loadTree(path string) (*tree.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var t tree.Tree
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &t, nil
	}
	t, err := tree.ParseDOT(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}

func saveTree(path string, t *tree.Tree) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".json") {
		encoder := json.NewEncoder(f)
		encoder.SetIndent("", "  ")
		return encoder.Encode(t)
	}
	return t.WriteDOT(f)
}
