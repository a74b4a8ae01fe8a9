package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/internal/utils"
)

func newLocateCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "locate <image> <description...>",
		Short: "Find an element in a screenshot and mark it, without acting",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, description := args[0], strings.Join(args[1:], " ")
			if !utils.FileExists(in) {
				return fmt.Errorf("no such file: %s", in)
			}

			pilot, err := a.newPilot(cmd.Context())
			if err != nil {
				return err
			}
			defer pilot.Close()
			proc := pilot.Processor()

			img, err := proc.LoadImage(in)
			if err != nil {
				return fmt.Errorf("failed to load image: %w", err)
			}

			pt, err := pilot.Locate(cmd.Context(), img, description)
			if err != nil {
				return err
			}

			if out == "" {
				out = utils.GenerateOutputFilename(in, "", "_target", "png")
			}
			marked := proc.DrawClickMarker(img, pt, a.cfg.Recorder.MarkerRadius)
			if err := proc.SaveImage(marked, out, "png", 0, false); err != nil {
				return fmt.Errorf("failed to save marker image: %w", err)
			}

			a.logger.Info("Target located", zap.String("description", description), zap.Stringer("point", pt), zap.String("marker", out))
			fmt.Fprintf(cmd.OutOrStdout(), "%d %d\n", pt.X, pt.Y)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "marker image path (default <image>_target.png)")
	return cmd
}
