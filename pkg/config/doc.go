// Package config resolves Vault's runtime configuration from three
// layers, lowest precedence first: a YAML file, environment variables
// prefixed VAULT_, and cobra flags. Flags win when set explicitly;
// otherwise the environment variable is used; otherwise the YAML
// value; otherwise the built-in default.
package config
