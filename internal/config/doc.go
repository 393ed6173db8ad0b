// Package config loads replica configuration. Default() is the baseline;
// Load layers a JSON or YAML file and DOCFLOW_ environment variables on top
// of it through viper, and FromEnv applies the short-form variables used by
// container deployments.
//
// Example:
//
//	cfg, err := config.Load("/etc/docflow.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
