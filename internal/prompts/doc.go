// Package prompts contains the instructions sent to the model.
//
// Prompt text is Go code rather than a config file because it is part of
// the reply contract: the agent parses exactly the JSON shapes described
// here, and tests check that the two stay in step.
package prompts
