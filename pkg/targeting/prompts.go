package targeting

import (
	"fmt"
	"strings"

	"github.com/menta2k/gridpilot/pkg/grid"
	"github.com/menta2k/gridpilot/pkg/reply"
	"github.com/menta2k/gridpilot/pkg/types"
)

const stageSystemPrompt = "You are helping locate UI elements on screen using a labelled grid. " +
	"You answer with a single JSON object and nothing else."

func stagePrompt(goal string, spec types.GridSpec, withContext bool, attempt int, lastErr error) string {
	lastRow := grid.RowLabel(spec.Rows - 1)

	var b strings.Builder
	if withContext {
		b.WriteString("The first image is a zoomed-in part of the screen with a red grid drawn over it. ")
		b.WriteString("The second image shows the whole screen with that part outlined in red.\n")
	} else {
		b.WriteString("The image is a screenshot with a red grid drawn over it.\n")
	}
	fmt.Fprintf(&b, "Columns are numbered 1 to %d from left to right; the numbers are in the white margin below the image.\n", spec.Columns)
	fmt.Fprintf(&b, "Rows are lettered A to %s from top to bottom; the letters are in the white margin left of the image.\n\n", lastRow)
	fmt.Fprintf(&b, "Target: %s\n\n", goal)
	b.WriteString("Pick the one cell that contains the center of the target.\n")
	b.WriteString(`Respond with ONLY a JSON object of the form {"X": "<column number>", "Y": "<row letter>"}.`)

	switch {
	case attempt == 2:
		fmt.Fprintf(&b, "\n\nYour previous reply could not be used (%s). Reply with the JSON object only, for example {\"X\": \"1\", \"Y\": \"A\"}.",
			reply.Describe(lastErr))
	case attempt > 2:
		fmt.Fprintf(&b, "\n\nFORMAT ONLY. Output exactly one JSON object with the keys X and Y and no other text. "+
			"X must be a number from 1 to %d and Y a letter from A to %s.", spec.Columns, lastRow)
	}
	return b.String()
}
