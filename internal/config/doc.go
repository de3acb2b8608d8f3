// Package config provides configuration loading, merging, and path management
// for this engine — the types.Config that internal/session.Manager,
// internal/agentloop, and internal/provider all read from.
//
// This package handles the complex configuration system that supports multiple sources
// and formats, with a hierarchical loading strategy that ensures proper precedence
// and compatibility with both TypeScript and Go implementations. The on-disk
// layout (.opencode/, opencode.json, OPENCODE_* environment variables) is kept
// byte-for-byte compatible with the teacher's TypeScript sibling so an
// existing project's config directory works unmodified; only the product name
// surfaced by the CLI itself changed.
//
// # Configuration Loading
//
// Load reads configuration from these sources, each later one overriding the
// earlier ones:
//
//  1. Global config: opencode.json, then opencode.jsonc, in GetPaths().Config
//     (~/.config/opencode/ or $XDG_CONFIG_HOME/opencode/)
//  2. Project config: .opencode/opencode.json, then .opencode/opencode.jsonc,
//     in the given directory
//  3. Environment variables (see below)
//
// Load does not read ~/.opencode/, does not search parent directories, and does
// not read OPENCODE_CONFIG or OPENCODE_CONFIG_CONTENT. A file that is missing or
// fails to parse is skipped, and Load still returns a nil error.
//
// # Supported Formats
//
// Both files are parsed as JSON after comment stripping:
//   - opencode.json - Standard JSON configuration
//   - opencode.jsonc - JSON with comments; // and /* */ comments are removed with
//     regular expressions before parsing, so a "//" inside a string value (such as
//     a URL) is removed as well
//
// # Variable Interpolation
//
// Load performs no variable interpolation: {env:VAR_NAME} and {file:path}
// placeholders are kept as literal strings.
//
// # Configuration Merging
//
// Each loaded file is merged into the result field by field:
//   - Model and SmallModel are overwritten when the file sets them
//   - Provider and Agent entries are added by key; an entry with the same key
//     replaces the earlier entry whole
//   - LSP, Watcher and Experimental are replaced whole when the file sets them
//
// Other fields (for example Instructions, MCP, Command and Permission) are not
// merged and stay at their zero value.
//
// # Path Management
//
// The package provides XDG Base Directory Specification compliant path management
// through the Paths type:
//   - Data: ~/.local/share/opencode (XDG_DATA_HOME)
//   - Config: ~/.config/opencode (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/opencode (XDG_CACHE_HOME)
//   - State: ~/.local/state/opencode (XDG_STATE_HOME)
//
// On Windows, these paths are adapted to use APPDATA as appropriate.
//
// # Environment Variable Overrides
//
// These environment variables override the loaded configuration:
//   - OPENCODE_MODEL - Override the default model
//   - OPENCODE_SMALL_MODEL - Override the small model
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY, AWS_ACCESS_KEY_ID -
//     API key for the anthropic, openai, google and bedrock providers, used
//     only when that provider has no APIKey set
//
// No other environment variables are read.
//
// # TypeScript Compatibility
//
// The configuration system maintains compatibility with the TypeScript implementation
// by reading the same opencode.json/opencode.jsonc file names and TypeScript-style
// provider configuration with Options objects.
//
// # Usage Example
//
//	// Load configuration from the current directory
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Get standard paths
//	paths := config.GetPaths()
//	err = paths.EnsurePaths() // Create directories if they don't exist
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Save configuration
//	err = config.Save(cfg, config.GlobalConfigPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Project Structure Discovery
//
// The loader looks only in the directory it is given. It does not walk up the
// directory tree and does not look for a .git folder.
package config