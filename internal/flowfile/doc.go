// Package flowfile loads and saves workflow definitions. JSON is the
// canonical round-trip format: every config value is stored with its exact
// type so save/load preserves values bit for bit. HCL is the authoring
// format for hand-written workflows.
package flowfile
