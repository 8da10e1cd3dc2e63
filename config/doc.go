// Package config loads callgate settings from a YAML file, a .env file and
// CALLGATE_* environment variables, read once at startup.
//
// Per-resource budgets accept either rate_per_second or requests_per_minute:
//
//	resources:
//	  openai:
//	    requests_per_minute: 500
//	    burst: 100
//	    daily_quota: 10000
//	    max_concurrent: 50
//	  pinecone:
//	    rate_per_second: 2
//	    max_retries: 0
//
// Built-in budgets exist for openai, gemini, perplexity, web_scraping and
// pinecone; any field can be overridden, for example with
// CALLGATE_RESOURCES_GEMINI_BURST=5. The converters build the runtime
// configurations:
//
//	cfg, err := config.Load(config.WithConfigFile("callgate.yml"))
//	reg := resilience.NewRegistry(cfg.RegistryConfig(logger, metrics))
//	d, err := dispatch.New[Req, Resp](reg, cfg.DispatchConfig("openai"))
package config
