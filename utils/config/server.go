package config

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Port        int    `yaml:"port"`
	JobsDir     string `yaml:"jobsDir"` // One working directory per job lives under here
	Enabled     bool   `yaml:"enabled"` // Require the bearer token on every request
	BearerToken string `yaml:"bearerToken"`
	CORS        CORS   `yaml:"cors"`
	MaxUploadMB int    `yaml:"maxUploadMB"`
	// AutoFinalize runs the pipeline inside POST /process so the response
	// already carries download links.
	AutoFinalize bool `yaml:"autoFinalize"`
}

// CORS holds Cross-Origin Resource Sharing settings
type CORS struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	AllowedMethods []string `yaml:"allowedMethods"`
	AllowedHeaders []string `yaml:"allowedHeaders"`
	MaxAge         int      `yaml:"maxAge"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8001,
		JobsDir:      "./jobs",
		MaxUploadMB:  50,
		AutoFinalize: true,
		CORS: CORS{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Accept", "X-Requested-With"},
			MaxAge:         3600,
		},
	}
}
