// Package prompts embeds the planner and synthesis prompt files.
package prompts

import "embed"

//go:embed *.md
var FS embed.FS
